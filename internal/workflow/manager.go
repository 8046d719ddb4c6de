package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clipper/internal/artifacts"
	"clipper/internal/config"
	"clipper/internal/fetch"
	"clipper/internal/logging"
	"clipper/internal/queue"
	"clipper/internal/services"
)

// Deps collects the collaborators a Manager drives. All fields are required
// except Suggester, which may be nil when suggestions are disabled, and
// Progress, which defaults to the store-backed aggregator.
type Deps struct {
	Store       *queue.Store
	Artifacts   *artifacts.Store
	Fetcher     fetch.Fetcher
	Uploader    Uploader
	Prober      Prober
	Transcriber Transcriber
	Renderer    Renderer
	Segmenter   Segmenter
	Suggester   Suggester
	Progress    Progress
}

// Manager creates tasks and supervises their workers.
type Manager struct {
	cfg    *config.Config
	deps   Deps
	logger *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

// NewManager builds a task manager bounded to cfg.Workflow.MaxWorkers
// concurrent workers.
func NewManager(cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	workers := cfg.Workflow.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if deps.Progress == nil {
		deps.Progress = NewStoreProgress(deps.Store, logger)
	}
	return &Manager{
		cfg:    cfg,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "workflow"),
		slots:  make(chan struct{}, workers),
	}
}

// Recover fails any tasks left in processing by a previous daemon run. A
// worker that died with the daemon cannot be resumed; re-running is a new
// task.
func (m *Manager) Recover(ctx context.Context) error {
	count, err := m.deps.Store.ResetStuckProcessing(ctx, queue.DaemonStopReason)
	if err != nil {
		return err
	}
	if count > 0 {
		m.logger.InfoContext(ctx, "failed orphaned tasks from previous run",
			logging.Int("count", count),
		)
	}
	return nil
}

// CreateTask validates the request, persists a pending task, and dispatches
// its worker. The call returns as soon as the record exists; pipeline work
// happens in the background.
func (m *Manager) CreateTask(ctx context.Context, req Request) (*queue.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, services.Wrap(services.ErrValidation, "workflow", "create", "manager is shut down", nil)
	}
	m.mu.Unlock()

	params := m.resolveParams(req)
	sourceRef := req.SourceRef
	if sourceRef == "" {
		sourceRef = req.UploadPath
	}
	task, err := m.deps.Store.NewTask(ctx, sourceRef, "", params)
	if err != nil {
		return nil, err
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.slots <- struct{}{}
		defer func() { <-m.slots }()
		m.run(context.WithoutCancel(ctx), task.ID, req, params)
	}()

	m.logger.InfoContext(ctx, "task created",
		logging.String(logging.FieldTaskID, task.ID),
		logging.String("source_ref", sourceRef),
	)
	return task, nil
}

// resolveParams fills request gaps from configured defaults.
func (m *Manager) resolveParams(req Request) queue.Params {
	params := queue.Params{
		ZoomFactor:      req.ZoomFactor,
		WordsPerCaption: req.WordsPerCaption,
		SegmentDuration: req.SegmentDuration,
		VerticalAnchor:  req.VerticalAnchor,
		VerticalOffset:  req.VerticalOffset,
	}
	if params.ZoomFactor == 0 {
		params.ZoomFactor = m.cfg.Style.ZoomFactor
	}
	if params.WordsPerCaption == 0 {
		params.WordsPerCaption = m.cfg.Style.WordsPerCaption
	}
	if params.SegmentDuration == 0 && m.cfg.Shorts.Enabled {
		params.SegmentDuration = m.cfg.Shorts.SegmentDuration
	}
	if params.VerticalAnchor == "" {
		params.VerticalAnchor = m.cfg.Style.VerticalAnchor
	}
	if params.VerticalOffset == 0 {
		params.VerticalOffset = m.cfg.Style.VerticalOffset
	}
	return params
}

// GetTask returns the current snapshot of a task.
func (m *Manager) GetTask(ctx context.Context, id string) (*queue.Task, error) {
	return m.deps.Store.GetByID(ctx, id)
}

// ListTasks returns tasks filtered by the given statuses (all when empty).
func (m *Manager) ListTasks(ctx context.Context, statuses ...queue.Status) ([]*queue.Task, error) {
	return m.deps.Store.List(ctx, statuses...)
}

// Health reports aggregated task counts.
func (m *Manager) Health(ctx context.Context) (queue.HealthSummary, error) {
	return m.deps.Store.Health(ctx)
}

// DeleteTask removes the task record and its task-scoped outputs. The shared
// source cache (raw media, audio, transcript) is never touched: other tasks
// on the same source keep benefiting from it. An in-flight worker is not
// interrupted.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	task, err := m.deps.Store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := m.deps.Store.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.deps.Artifacts.RemoveTaskOutputs(ctx, task.ID); err != nil {
		m.logger.Warn("task output cleanup failed",
			logging.String(logging.FieldTaskID, task.ID),
			logging.Error(err),
		)
	}
	m.logger.InfoContext(ctx, "task deleted", logging.String(logging.FieldTaskID, id))
	return nil
}

// Stop refuses new tasks and waits for in-flight workers to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) heartbeatInterval() time.Duration {
	seconds := m.cfg.Workflow.HeartbeatInterval
	if seconds < 1 {
		seconds = 15
	}
	return time.Duration(seconds) * time.Second
}
