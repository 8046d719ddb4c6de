// Package artifacts manages the on-disk cache of pipeline products. Artifacts
// derived purely from a source (downloaded video, extracted audio, transcript)
// are keyed by source identity and shared across tasks; rendered and split
// outputs are keyed by task and owned by exactly one task.
package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"clipper/internal/config"
	"clipper/internal/fileutil"
	"clipper/internal/logging"
)

const (
	videosDir      = "videos"
	audioDir       = "audio"
	transcriptsDir = "transcripts"
	editedDir      = "edited"
	shortsDir      = "shorts"
	locksDir       = "locks"
)

// Store resolves and manages artifact paths under a single root directory.
type Store struct {
	root   string
	logger *slog.Logger
}

// NewStore creates the artifact directory layout under cfg.Paths.DataDir.
func NewStore(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("artifacts: configuration is required")
	}
	root := strings.TrimSpace(cfg.Paths.DataDir)
	if root == "" {
		return nil, errors.New("artifacts: data directory is required")
	}
	store := &Store{
		root:   root,
		logger: logging.NewComponentLogger(logger, "artifacts"),
	}
	for _, dir := range []string{videosDir, audioDir, transcriptsDir, editedDir, shortsDir, locksDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("artifacts: create %s directory: %w", dir, err)
		}
	}
	return store, nil
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// VideoPath returns the cached source video location for a source identity.
func (s *Store) VideoPath(sourceID string) string {
	return filepath.Join(s.root, videosDir, sourceID+".mp4")
}

// AudioPath returns the extracted audio location for a source identity.
func (s *Store) AudioPath(sourceID string) string {
	return filepath.Join(s.root, audioDir, sourceID+".wav")
}

// TranscriptPath returns the cached transcript location for a source identity.
func (s *Store) TranscriptPath(sourceID string) string {
	return filepath.Join(s.root, transcriptsDir, sourceID+".json")
}

// EditedPath returns the rendered output location for a task.
func (s *Store) EditedPath(taskID string) string {
	return filepath.Join(s.root, editedDir, taskID+".mp4")
}

// ShortsDir returns the directory holding a task's split segments.
func (s *Store) ShortsDir(taskID string) string {
	return filepath.Join(s.root, shortsDir, taskID)
}

// EditedRoot returns the directory holding all rendered outputs.
func (s *Store) EditedRoot() string {
	return filepath.Join(s.root, editedDir)
}

// ShortsRoot returns the directory holding all tasks' split segments.
func (s *Store) ShortsRoot() string {
	return filepath.Join(s.root, shortsDir)
}

// HasVideo reports whether a non-empty cached video exists for the source.
func (s *Store) HasVideo(sourceID string) bool {
	return fileutil.NonEmptyFile(s.VideoPath(sourceID))
}

// HasAudio reports whether non-empty extracted audio exists for the source.
func (s *Store) HasAudio(sourceID string) bool {
	return fileutil.NonEmptyFile(s.AudioPath(sourceID))
}

// HasTranscript reports whether a cached transcript exists for the source.
func (s *Store) HasTranscript(sourceID string) bool {
	return fileutil.NonEmptyFile(s.TranscriptPath(sourceID))
}

// SaveTranscript writes value as JSON to the source's transcript slot. The
// write is staged to a temp file and renamed so readers never observe a
// partial transcript.
func (s *Store) SaveTranscript(ctx context.Context, sourceID string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts: encode transcript: %w", err)
	}
	path := s.TranscriptPath(sourceID)
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("artifacts: write transcript: %w", err)
	}
	s.logger.InfoContext(ctx, "transcript cached",
		logging.String(logging.FieldSourceID, sourceID),
		logging.String("path", path),
	)
	return nil
}

// LoadTranscript decodes the source's cached transcript into value.
func (s *Store) LoadTranscript(sourceID string, value any) error {
	data, err := os.ReadFile(s.TranscriptPath(sourceID))
	if err != nil {
		return fmt.Errorf("artifacts: read transcript: %w", err)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return fmt.Errorf("artifacts: decode transcript: %w", err)
	}
	return nil
}

// ClaimSource takes an advisory lock on the source identity so concurrent
// tasks for the same source serialize their acquisition and transcription
// work instead of clobbering each other's cache writes. The returned release
// function must be called when the source-derived artifacts are settled.
func (s *Store) ClaimSource(ctx context.Context, sourceID string) (func(), error) {
	lockPath := filepath.Join(s.root, locksDir, fileutil.Sanitize(sourceID)+".lock")
	lock := flock.New(lockPath)
	locked, err := lock.TryLockContext(ctx, 250*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("artifacts: lock source %s: %w", sourceID, err)
	}
	if !locked {
		return nil, fmt.Errorf("artifacts: source %s is locked by another worker", sourceID)
	}
	return func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("failed to release source lock",
				logging.String(logging.FieldSourceID, sourceID),
				logging.Error(err),
			)
		}
	}, nil
}

// RemoveTaskOutputs deletes the rendered file and split segments owned by a
// task. Source-derived artifacts are left in place for other tasks.
func (s *Store) RemoveTaskOutputs(ctx context.Context, taskID string) error {
	var errs []error
	if err := os.Remove(s.EditedPath(taskID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove rendered file: %w", err))
	}
	if err := os.RemoveAll(s.ShortsDir(taskID)); err != nil {
		errs = append(errs, fmt.Errorf("remove shorts directory: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("artifacts: cleanup task %s: %w", taskID, errors.Join(errs...))
	}
	s.logger.InfoContext(ctx, "task outputs removed", logging.String(logging.FieldTaskID, taskID))
	return nil
}

// RemoveSourceArtifacts deletes the cached video, audio, and transcript for a
// source identity. Callers must verify no other task still references the
// source before invoking this.
func (s *Store) RemoveSourceArtifacts(ctx context.Context, sourceID string) error {
	var errs []error
	for _, path := range []string{s.VideoPath(sourceID), s.AudioPath(sourceID), s.TranscriptPath(sourceID)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("artifacts: remove source %s: %w", sourceID, errors.Join(errs...))
	}
	s.logger.InfoContext(ctx, "source artifacts removed", logging.String(logging.FieldSourceID, sourceID))
	return nil
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func WriteFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
