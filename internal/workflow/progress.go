package workflow

import (
	"context"
	"log/slog"

	"clipper/internal/logging"
	"clipper/internal/queue"
)

// storeProgress writes stage progress into the task store. The store clamps
// to [0,100] and enforces monotonicity, so late or out-of-order reports can
// never move a gauge backwards.
type storeProgress struct {
	store  *queue.Store
	logger *slog.Logger
}

// NewStoreProgress builds the store-backed progress aggregator.
func NewStoreProgress(store *queue.Store, logger *slog.Logger) Progress {
	return &storeProgress{
		store:  store,
		logger: logging.NewComponentLogger(logger, "progress"),
	}
}

func (p *storeProgress) Set(ctx context.Context, taskID string, gauge queue.Gauge, percent float64) {
	if err := p.store.SetStageProgress(ctx, taskID, gauge, percent); err != nil {
		// A dropped progress write only makes the gauge lag; the next report
		// catches it up.
		p.logger.Warn("progress write failed",
			logging.String(logging.FieldTaskID, taskID),
			logging.String("gauge", string(gauge)),
			logging.Error(err),
		)
	}
}
