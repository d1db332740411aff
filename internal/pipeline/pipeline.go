package pipeline

import (
	"context"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/worker"
)

// FeedClient reads the three GBFS documents.
type FeedClient interface {
	FetchSystemInfo(ctx context.Context) (domain.SystemInfo, error)
	FetchStations(ctx context.Context) ([]domain.StationInfo, error)
	FetchStatuses(ctx context.Context) ([]domain.StationStatus, error)
}

// StationStore persists the station directory.
type StationStore interface {
	// ListStations returns stations ordered by id, optionally only active ones.
	ListStations(ctx context.Context, activeOnly bool) ([]domain.Station, error)
	// GetStation returns domain.ErrStationNotFound when id is unknown.
	GetStation(ctx context.Context, id int64) (domain.Station, error)
	CreateStations(ctx context.Context, recs []domain.StationRecord) ([]domain.Station, error)
	UpdateStation(ctx context.Context, id int64, rec domain.StationRecord) (domain.Station, error)
}

// SnapshotStore appends and reads availability snapshots.
type SnapshotStore interface {
	InsertSnapshots(ctx context.Context, snaps []domain.Snapshot) (int, error)
	// SamplesInWindow returns samples with captured_at in [w.Start, w.End].
	SamplesInWindow(ctx context.Context, stationID int64, w domain.Window) ([]domain.Sample, error)
	AllSamples(ctx context.Context, stationID int64) ([]domain.Sample, error)
}

// AggregateStore upserts derived rows keyed by (station, hour, day type).
type AggregateStore interface {
	// ReplaceReliabilityScores upserts scores and deletes the station's other
	// keys, so a group that fell below the threshold loses its row.
	ReplaceReliabilityScores(ctx context.Context, stationID int64, scores []domain.ReliabilityScore) error
	UpsertHourlyAverages(ctx context.Context, avgs []domain.HourlyAverage) error
	// RefreshHourlyAverages runs the store-side grouping for one station and
	// returns the number of rows written.
	RefreshHourlyAverages(ctx context.Context, stationID int64) (int, error)
}

// SyncLogStore keeps the audit trail of pipeline runs.
type SyncLogStore interface {
	InsertSyncLog(ctx context.Context, log domain.SyncLog) error
	// RecentSyncLogs returns up to limit logs, newest first.
	RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error)
}

// Store is everything the service needs from persistence.
type Store interface {
	StationStore
	SnapshotStore
	AggregateStore
	SyncLogStore
	Ping(ctx context.Context) error
}

// SyncLogPublisher forwards sync logs to an external sink.
type SyncLogPublisher interface {
	Publish(ctx context.Context, log domain.SyncLog) error
}

// TaskSubmitter accepts background work without blocking.
type TaskSubmitter interface {
	Submit(task worker.Task) error
}

// sleepWithContext waits d on the domain clock. Returns false if ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-domain.After(d):
		return true
	}
}
