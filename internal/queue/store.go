package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"clipper/internal/config"
	"clipper/internal/services"
)

const timeFormat = time.RFC3339Nano

// Store provides persistence for tasks backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the SQLite database in cfg.Paths.DataDir, creating the
// schema when needed.
func Open(cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "configuration is required", nil)
	}
	if err := os.MkdirAll(cfg.Paths.DataDir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "open", "create data directory", err)
	}
	path := filepath.Join(cfg.Paths.DataDir, "tasks.db")
	return OpenPath(path)
}

// OpenPath opens or creates the task database at the given file path.
func OpenPath(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewTask inserts a pending task for the given source reference.
func (s *Store) NewTask(ctx context.Context, sourceRef, sourceID string, params Params) (*Task, error) {
	task := &Task{
		ID:        uuid.NewString(),
		SourceRef: sourceRef,
		SourceID:  sourceID,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := task.SetParams(params); err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
        INSERT INTO tasks (
            id, source_ref, source_id, title, params_json, status,
            transcription_progress, rendering_progress, splitting_progress,
            rendered_file, segments_json, error_message,
            created_at, updated_at, last_heartbeat
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.SourceRef,
		task.SourceID,
		nullableString(task.Title),
		nullableString(task.ParamsJSON),
		string(task.Status),
		task.TranscriptionProgress,
		task.RenderingProgress,
		task.SplittingProgress,
		nullableString(task.RenderedFile),
		nullableString(task.SegmentsJSON),
		nullableString(task.ErrorMessage),
		task.CreatedAt.Format(timeFormat),
		task.UpdatedAt.Format(timeFormat),
		nullableTime(task.LastHeartbeat),
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	return task, nil
}

// GetByID fetches a single task. Missing records return ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM tasks WHERE id = ?", id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.Wrap(services.ErrNotFound, "queue", "get", fmt.Sprintf("task %s not found", id), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("query task: %w", err)
	}
	return task, nil
}

// Update persists the mutable fields of the task and bumps updated_at.
// Gauge writes race this call: workers advance progress through
// SetStageProgress while holding an older Task snapshot, so the progress
// columns take the MAX of the stored and supplied values and never go down.
func (s *Store) Update(ctx context.Context, task *Task) error {
	task.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, `
        UPDATE tasks SET
            title = ?,
            params_json = ?,
            status = ?,
            transcription_progress = MAX(transcription_progress, ?),
            rendering_progress = MAX(rendering_progress, ?),
            splitting_progress = MAX(splitting_progress, ?),
            rendered_file = ?,
            segments_json = ?,
            error_message = ?,
            updated_at = ?,
            last_heartbeat = ?
        WHERE id = ?`,
		nullableString(task.Title),
		nullableString(task.ParamsJSON),
		string(task.Status),
		task.TranscriptionProgress,
		task.RenderingProgress,
		task.SplittingProgress,
		nullableString(task.RenderedFile),
		nullableString(task.SegmentsJSON),
		nullableString(task.ErrorMessage),
		task.UpdatedAt.Format(timeFormat),
		nullableTime(task.LastHeartbeat),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "update", fmt.Sprintf("task %s not found", task.ID), nil)
	}
	return nil
}

// List returns tasks ordered oldest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Task, error) {
	query := selectColumns + " FROM tasks"
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += " WHERE status IN (" + makePlaceholders(len(statuses)) + ")"
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Delete removes the task record. Missing records return ErrNotFound.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected == 0 {
		return services.Wrap(services.ErrNotFound, "queue", "delete", fmt.Sprintf("task %s not found", id), nil)
	}
	return nil
}

// SetStageProgress raises one gauge in place. The SQL MAX keeps the gauge
// monotonic even when progress reports arrive out of order.
func (s *Store) SetStageProgress(ctx context.Context, id string, gauge Gauge, percent float64) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	var column string
	switch gauge {
	case GaugeTranscription:
		column = "transcription_progress"
	case GaugeRendering:
		column = "rendering_progress"
	case GaugeSplitting:
		column = "splitting_progress"
	default:
		return fmt.Errorf("unknown gauge %q", gauge)
	}

	query := fmt.Sprintf(
		"UPDATE tasks SET %s = MAX(%s, ?), updated_at = ? WHERE id = ?",
		column, column,
	)
	_, err := s.db.ExecContext(ctx, query, percent, time.Now().UTC().Format(timeFormat), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

// UpdateHeartbeat stamps the task's last_heartbeat with the current time.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(timeFormat)
	_, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET last_heartbeat = ?, updated_at = ? WHERE id = ?",
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ResetStuckProcessing fails any tasks still marked processing. Used on
// startup and shutdown so restarts never resume half-finished work.
func (s *Store) ResetStuckProcessing(ctx context.Context, reason string) (int, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DaemonStopReason
	}
	result, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, error_message = ?, last_heartbeat = NULL, updated_at = ? WHERE status = ?",
		string(StatusFailed), reason, time.Now().UTC().Format(timeFormat), string(StatusProcessing),
	)
	if err != nil {
		return 0, fmt.Errorf("reset processing tasks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset processing tasks: %w", err)
	}
	return int(affected), nil
}

// HasSourceReference reports whether any other task still points at the same
// source identity. Deletion uses this to decide whether cached source
// artifacts may be removed.
func (s *Store) HasSourceReference(ctx context.Context, sourceID, excludeTaskID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM tasks WHERE source_id = ? AND id != ?",
		sourceID, excludeTaskID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count source references: %w", err)
	}
	return count > 0, nil
}

// Health summarizes task counts per lifecycle state.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return HealthSummary{}, fmt.Errorf("query health: %w", err)
	}
	defer rows.Close()

	var summary HealthSummary
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return HealthSummary{}, fmt.Errorf("scan health: %w", err)
		}
		summary.Total += count
		switch Status(status) {
		case StatusPending:
			summary.Pending = count
		case StatusProcessing:
			summary.Processing = count
		case StatusCompleted:
			summary.Completed = count
		case StatusFailed:
			summary.Failed = count
		}
	}
	return summary, rows.Err()
}

const selectColumns = `SELECT
    id, source_ref, source_id, title, params_json, status,
    transcription_progress, rendering_progress, splitting_progress,
    rendered_file, segments_json, error_message,
    created_at, updated_at, last_heartbeat`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var (
		task          Task
		title         sql.NullString
		paramsJSON    sql.NullString
		status        string
		renderedFile  sql.NullString
		segmentsJSON  sql.NullString
		errorMessage  sql.NullString
		createdAt     string
		updatedAt     string
		lastHeartbeat sql.NullString
	)
	err := row.Scan(
		&task.ID,
		&task.SourceRef,
		&task.SourceID,
		&title,
		&paramsJSON,
		&status,
		&task.TranscriptionProgress,
		&task.RenderingProgress,
		&task.SplittingProgress,
		&renderedFile,
		&segmentsJSON,
		&errorMessage,
		&createdAt,
		&updatedAt,
		&lastHeartbeat,
	)
	if err != nil {
		return nil, err
	}

	task.Title = title.String
	task.ParamsJSON = paramsJSON.String
	task.Status = Status(status)
	task.RenderedFile = renderedFile.String
	task.SegmentsJSON = segmentsJSON.String
	task.ErrorMessage = errorMessage.String

	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastHeartbeat.Valid {
		hb, err := parseTime(lastHeartbeat.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_heartbeat: %w", err)
		}
		task.LastHeartbeat = &hb
	}
	return &task, nil
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeFormat, value)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.Format(timeFormat)
}

func makePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
