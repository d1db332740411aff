package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// SyncKind names the pipeline run a SyncLog describes.
type SyncKind string

const (
	SyncStations     SyncKind = "stations"
	SyncAvailability SyncKind = "availability"
)

// SyncLog is the audit record of one pipeline run.
type SyncLog struct {
	ID                int64      `json:"id,omitempty"`
	RunID             uuid.UUID  `json:"run_id"`
	Kind              SyncKind   `json:"sync_kind"`
	Timestamp         time.Time  `json:"sync_timestamp"`
	Status            SyncStatus `json:"sync_status"`
	StationsProcessed int        `json:"stations_updated"`
	SnapshotsCreated  int        `json:"snapshots_created"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	DurationMS        int64      `json:"response_time_ms"`
}

// NewSyncLog builds the log of a run that started at start and produced r.
func NewSyncLog(kind SyncKind, start time.Time, duration time.Duration, r Result) SyncLog {
	c := r.Tally()
	stations := c.Processed
	if c.StationsProcessed > 0 {
		stations = c.StationsProcessed
	}
	log := SyncLog{
		RunID:             uuid.New(),
		Kind:              kind,
		Timestamp:         start.UTC(),
		Status:            r.Status(),
		StationsProcessed: stations,
		SnapshotsCreated:  c.SnapshotsCreated,
		DurationMS:        duration.Milliseconds(),
	}
	if msgs := ErrorMessages(r); len(msgs) > 0 {
		log.ErrorMessage = strings.Join(msgs, "; ")
	}
	return log
}

// Health levels of the collection pipeline.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// SyncHealth summarizes the most recent sync logs.
type SyncHealth struct {
	OverallStatus      string     `json:"overall_status"`
	SuccessRate        float64    `json:"success_rate_percentage"`
	Total              int        `json:"total_syncs_checked"`
	Successful         int        `json:"successful_syncs"`
	Failed             int        `json:"failed_syncs"`
	Partial            int        `json:"partial_syncs"`
	AvgDurationMS      float64    `json:"average_response_time_ms,omitempty"`
	LastSuccessfulSync *time.Time `json:"last_successful_sync,omitempty"`
	RecentLogs         []SyncLog  `json:"recent_sync_logs"`
}

// ComputeSyncHealth derives health from logs ordered newest first. A success
// rate of at least 80% is healthy, at least 50% degraded, anything lower
// (including no logs at all) unhealthy.
func ComputeSyncHealth(logs []SyncLog) SyncHealth {
	h := SyncHealth{Total: len(logs), RecentLogs: logs}
	if h.RecentLogs == nil {
		h.RecentLogs = []SyncLog{}
	}

	var durationSum int64
	for i := range logs {
		switch logs[i].Status {
		case StatusSuccess:
			h.Successful++
			if h.LastSuccessfulSync == nil {
				ts := logs[i].Timestamp
				h.LastSuccessfulSync = &ts
			}
		case StatusFailed:
			h.Failed++
		case StatusPartial:
			h.Partial++
		}
		durationSum += logs[i].DurationMS
	}

	if h.Total > 0 {
		h.SuccessRate = ratio2(100*int64(h.Successful), int64(h.Total))
		h.AvgDurationMS = ratio2(durationSum, int64(h.Total))
	}

	switch {
	case h.SuccessRate >= 80:
		h.OverallStatus = HealthHealthy
	case h.SuccessRate >= 50:
		h.OverallStatus = HealthDegraded
	default:
		h.OverallStatus = HealthUnhealthy
	}
	return h
}
