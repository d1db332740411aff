package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

const recordTimeout = 5 * time.Second

// Recorder writes the audit trail of pipeline runs. Writes are best-effort:
// failures are logged and counted, never returned.
type Recorder struct {
	logs      SyncLogStore
	publisher SyncLogPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRecorder creates a Recorder. publisher may be nil.
func NewRecorder(logs SyncLogStore, publisher SyncLogPublisher, logger *slog.Logger, metrics *observability.Metrics) *Recorder {
	return &Recorder{logs: logs, publisher: publisher, logger: logger, metrics: metrics}
}

// Record persists log and forwards it to the publisher. It runs even when ctx
// is already cancelled so that interrupted runs still leave a trace.
func (r *Recorder) Record(ctx context.Context, log domain.SyncLog) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.logs.InsertSyncLog(ctx, log); err != nil {
		r.metrics.SyncLogWriteErrors.Inc()
		r.logger.Error("sync log write failed", "run_id", log.RunID, "kind", log.Kind, "error", err)
	}
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, log); err != nil {
		r.metrics.SyncLogWriteErrors.Inc()
		r.logger.Error("sync log publish failed", "run_id", log.RunID, "kind", log.Kind, "error", err)
	}
}
