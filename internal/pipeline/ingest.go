package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

// IngestReport tallies one ingestion cycle.
type IngestReport struct {
	Processed        int
	SnapshotsCreated int
	SkippedUnknown   int
	Err              error
}

// Ingestor turns live statuses into time-bucketed snapshots.
type Ingestor struct {
	snapshots SnapshotStore
	location  *time.Location
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewIngestor creates an Ingestor that buckets capture times in loc.
func NewIngestor(snapshots SnapshotStore, loc *time.Location, logger *slog.Logger, metrics *observability.Metrics) *Ingestor {
	if loc == nil {
		loc = time.UTC
	}
	return &Ingestor{snapshots: snapshots, location: loc, logger: logger, metrics: metrics}
}

// Build maps statuses onto known stations. Every snapshot shares capturedAt.
// Statuses for stations missing from the directory are skipped.
func (i *Ingestor) Build(statuses []domain.StationStatus, stations []domain.Station, capturedAt time.Time) ([]domain.Snapshot, int) {
	ids := make(map[string]int64, len(stations))
	for _, s := range stations {
		ids[s.ExternalID] = s.ID
	}

	snaps := make([]domain.Snapshot, 0, len(statuses))
	skipped := 0
	for _, st := range statuses {
		id, ok := ids[st.StationID]
		if !ok {
			skipped++
			i.logger.Warn("status for unknown station", "external_station_id", st.StationID)
			continue
		}
		snaps = append(snaps, domain.NewSnapshot(id, st, capturedAt, i.location))
	}
	return snaps, skipped
}

// Ingest builds and persists one cycle's snapshots in a single batch. A batch
// failure is reported once in the report's Err.
func (i *Ingestor) Ingest(ctx context.Context, statuses []domain.StationStatus, stations []domain.Station, capturedAt time.Time) IngestReport {
	snaps, skipped := i.Build(statuses, stations, capturedAt)
	rep := IngestReport{Processed: len(statuses), SkippedUnknown: skipped}
	i.metrics.SnapshotsSkipped.Add(float64(skipped))

	if len(snaps) == 0 {
		return rep
	}

	n, err := i.snapshots.InsertSnapshots(ctx, snaps)
	if err != nil {
		rep.Err = &domain.PersistenceError{Op: "insert snapshots", Err: err}
		i.logger.Error("snapshot batch insert failed", "count", len(snaps), "error", err)
		return rep
	}
	rep.SnapshotsCreated = n
	i.metrics.SnapshotsCreated.Add(float64(n))
	i.logger.Info("snapshots ingested", "created", n, "skipped_unknown", skipped, "captured_at", capturedAt)
	return rep
}
