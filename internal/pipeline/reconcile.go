package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

var errDuplicateStation = errors.New("duplicate station id in feed")

// ReconcileReport tallies one reconciliation pass.
type ReconcileReport struct {
	Counts domain.Counts
	Errors []error
}

// Successes is the number of records that reached their desired state.
func (r ReconcileReport) Successes() int {
	return r.Counts.Created + r.Counts.Updated + r.Counts.Unchanged
}

// Reconciler diffs the fetched station directory against the persisted one.
type Reconciler struct {
	stations StationStore
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewReconciler creates a Reconciler.
func NewReconciler(stations StationStore, logger *slog.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{stations: stations, logger: logger, metrics: metrics}
}

type stationUpdate struct {
	id  int64
	rec domain.StationRecord
}

// Reconcile creates unseen stations in one batch and updates changed ones
// individually. Existing stations keep their internal id. Per-record failures
// are collected and counted as skipped; only a failure to load the current
// directory aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context, fetched []domain.StationInfo, force bool) (ReconcileReport, error) {
	var rep ReconcileReport

	existing, err := r.stations.ListStations(ctx, false)
	if err != nil {
		return rep, &domain.PersistenceError{Op: "list stations", Err: err}
	}
	byExternal := make(map[string]domain.Station, len(existing))
	for _, s := range existing {
		byExternal[s.ExternalID] = s
	}

	seen := make(map[string]bool, len(fetched))
	var creates []domain.StationRecord
	var updates []stationUpdate

	for _, info := range fetched {
		rep.Counts.Processed++
		rec := domain.RecordFromInfo(info)
		if err := rec.Validate(); err != nil {
			r.skip(&rep, &domain.ParseError{Document: "station_information", RecordID: info.StationID, Err: err})
			continue
		}
		if seen[rec.ExternalID] {
			r.skip(&rep, &domain.ParseError{Document: "station_information", RecordID: rec.ExternalID, Err: errDuplicateStation})
			continue
		}
		seen[rec.ExternalID] = true

		cur, ok := byExternal[rec.ExternalID]
		switch {
		case !ok:
			creates = append(creates, rec)
		case force || rec.Differs(cur):
			updates = append(updates, stationUpdate{id: cur.ID, rec: rec})
		default:
			rep.Counts.Unchanged++
			r.metrics.StationsReconciled.WithLabelValues("unchanged").Inc()
		}
	}

	if len(creates) > 0 {
		created, err := r.stations.CreateStations(ctx, creates)
		if err != nil {
			rep.Counts.Skipped += len(creates)
			r.metrics.StationsReconciled.WithLabelValues("skipped").Add(float64(len(creates)))
			rep.Errors = append(rep.Errors, &domain.PersistenceError{Op: "create stations", Err: err})
			r.logger.Error("batch station create failed", "count", len(creates), "error", err)
		} else {
			rep.Counts.Created += len(created)
			r.metrics.StationsReconciled.WithLabelValues("created").Add(float64(len(created)))
		}
	}

	for _, u := range updates {
		if _, err := r.stations.UpdateStation(ctx, u.id, u.rec); err != nil {
			r.skip(&rep, &domain.PersistenceError{Op: "update station " + u.rec.ExternalID, Err: err})
			continue
		}
		rep.Counts.Updated++
		r.metrics.StationsReconciled.WithLabelValues("updated").Inc()
	}

	r.logger.Info("stations reconciled",
		"processed", rep.Counts.Processed,
		"created", rep.Counts.Created,
		"updated", rep.Counts.Updated,
		"unchanged", rep.Counts.Unchanged,
		"skipped", rep.Counts.Skipped,
	)
	return rep, nil
}

func (r *Reconciler) skip(rep *ReconcileReport, err error) {
	rep.Counts.Skipped++
	rep.Errors = append(rep.Errors, err)
	r.metrics.StationsReconciled.WithLabelValues("skipped").Inc()
	r.logger.Warn("station skipped", "error", err)
}
