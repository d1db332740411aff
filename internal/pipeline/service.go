package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

// Options tune a Service. Zero values fall back to the defaults below.
type Options struct {
	Location        *time.Location
	DefaultDaysBack int
	BatchSize       int
	BatchPause      time.Duration
	Publisher       SyncLogPublisher
	Tasks           TaskSubmitter
}

const (
	defaultDaysBack  = 30
	defaultBatchSize = 10
	defaultLimit     = 10
	maxLimit         = 100
)

// Service is the operation surface of the collector. It wires the feed client
// and store through the reconciler, ingestor, aggregator and recorder.
type Service struct {
	feed       FeedClient
	store      Store
	reconciler *Reconciler
	ingestor   *Ingestor
	aggregator *Aggregator
	recorder   *Recorder
	tasks      TaskSubmitter
	daysBack   int
	logger     *slog.Logger
}

// NewService creates a Service.
func NewService(feed FeedClient, store Store, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Service {
	if opts.DefaultDaysBack == 0 {
		opts.DefaultDaysBack = defaultDaysBack
	}
	if opts.BatchSize == 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Service{
		feed:       feed,
		store:      store,
		reconciler: NewReconciler(store, logger, metrics),
		ingestor:   NewIngestor(store, opts.Location, logger, metrics),
		aggregator: NewAggregator(store, store, opts.BatchSize, opts.BatchPause, logger, metrics),
		recorder:   NewRecorder(store, opts.Publisher, logger, metrics),
		tasks:      opts.Tasks,
		daysBack:   opts.DefaultDaysBack,
		logger:     logger,
	}
}

// DefaultDaysBack is the reliability window used when callers give none.
func (s *Service) DefaultDaysBack() int {
	return s.daysBack
}

// SyncStations refreshes the station directory from the feed. With force set,
// every known station is rewritten even if unchanged.
func (s *Service) SyncStations(ctx context.Context, force bool) domain.Result {
	start := domain.Now()
	r := s.syncStations(ctx, force)
	s.finish(ctx, domain.SyncStations, start, r)
	return r
}

func (s *Service) syncStations(ctx context.Context, force bool) domain.Result {
	if info, err := s.feed.FetchSystemInfo(ctx); err != nil {
		s.logger.Warn("system information unavailable", "error", err)
	} else {
		s.logger.Info("feed system", "system_id", info.SystemID, "name", info.Name, "timezone", info.Timezone)
	}

	fetched, err := s.feed.FetchStations(ctx)
	if err != nil {
		return domain.Failed{Reason: err}
	}
	rep, err := s.reconciler.Reconcile(ctx, fetched, force)
	if err != nil {
		return domain.Failed{Counts: rep.Counts, Reason: err}
	}
	return domain.NewResult(rep.Counts, rep.Successes(), rep.Errors)
}

// SyncAvailability records one snapshot per known station from the live feed.
// All snapshots of the cycle share a single capture time.
func (s *Service) SyncAvailability(ctx context.Context) domain.Result {
	start := domain.Now()
	r := s.syncAvailability(ctx, start)
	s.finish(ctx, domain.SyncAvailability, start, r)
	return r
}

func (s *Service) syncAvailability(ctx context.Context, capturedAt time.Time) domain.Result {
	statuses, err := s.feed.FetchStatuses(ctx)
	if err != nil {
		return domain.Failed{Reason: err}
	}
	stations, err := s.store.ListStations(ctx, false)
	if err != nil {
		return domain.Failed{
			Counts: domain.Counts{Processed: len(statuses)},
			Reason: &domain.PersistenceError{Op: "list stations", Err: err},
		}
	}

	rep := s.ingestor.Ingest(ctx, statuses, stations, capturedAt)
	counts := domain.Counts{
		Processed:        rep.Processed,
		SnapshotsCreated: rep.SnapshotsCreated,
		Skipped:          rep.SkippedUnknown,
	}
	var errs []error
	if rep.Err != nil {
		errs = append(errs, rep.Err)
	}
	return domain.NewResult(counts, rep.SnapshotsCreated, errs)
}

// Collect is the body of the collection job: ingest availability, then hand an
// hourly average recompute to the worker pool. The recompute's own outcome
// never changes the returned result.
func (s *Service) Collect(ctx context.Context) domain.Result {
	r := s.SyncAvailability(ctx)
	if r.Status() == domain.StatusFailed || s.tasks == nil {
		return r
	}
	err := s.tasks.Submit(func(ctx context.Context) error {
		return ResultError(s.RecomputeHourlyAverages(ctx))
	})
	if err != nil {
		s.logger.Warn("hourly average recompute not scheduled", "error", err)
	}
	return r
}

// CalculateReliability recomputes reliability scores over the last daysBack
// days, for one station or for every active station when stationID is nil.
// Invalid input is returned as an error; per-station failures are carried in
// the result.
func (s *Service) CalculateReliability(ctx context.Context, stationID *int64, daysBack int) (domain.Result, error) {
	w, err := domain.WindowEndingAt(domain.Now(), daysBack)
	if err != nil {
		return nil, err
	}

	var ids []int64
	if stationID != nil {
		st, err := s.store.GetStation(ctx, *stationID)
		if err != nil {
			if errors.Is(err, domain.ErrStationNotFound) {
				return nil, err
			}
			return nil, &domain.PersistenceError{Op: "get station", Err: err}
		}
		ids = []int64{st.ID}
	} else {
		ids, err = s.activeStationIDs(ctx)
		if err != nil {
			return nil, err
		}
	}

	r := s.aggregator.ReliabilityFor(ctx, ids, w)
	s.logResult("reliability calculated", r)
	return r, nil
}

// RecomputeHourlyAverages refreshes all-time averages for every active station.
func (s *Service) RecomputeHourlyAverages(ctx context.Context) domain.Result {
	ids, err := s.activeStationIDs(ctx)
	if err != nil {
		return domain.Failed{Reason: err}
	}
	return s.aggregator.RecomputeHourlyAverages(ctx, ids)
}

// RunMaintenance is the body of the weekly maintenance job. It refreshes
// reliability over the default window and all hourly averages. Snapshots are
// retained; nothing is deleted.
func (s *Service) RunMaintenance(ctx context.Context) domain.Result {
	rel, err := s.CalculateReliability(ctx, nil, s.daysBack)
	if err != nil {
		rel = domain.Failed{Reason: err}
	}
	r := combine(rel, s.RecomputeHourlyAverages(ctx))
	s.logResult("maintenance finished", r)
	return r
}

// GetSyncHealth summarizes the latest limit sync logs.
func (s *Service) GetSyncHealth(ctx context.Context, limit int) (domain.SyncHealth, error) {
	if limit < 1 || limit > maxLimit {
		return domain.SyncHealth{}, domain.ErrInvalidLimit
	}
	logs, err := s.store.RecentSyncLogs(ctx, limit)
	if err != nil {
		return domain.SyncHealth{}, &domain.PersistenceError{Op: "recent sync logs", Err: err}
	}
	return domain.ComputeSyncHealth(logs), nil
}

// CheckReadiness reports whether the store is reachable.
func (s *Service) CheckReadiness(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) activeStationIDs(ctx context.Context) ([]int64, error) {
	stations, err := s.store.ListStations(ctx, true)
	if err != nil {
		return nil, &domain.PersistenceError{Op: "list active stations", Err: err}
	}
	ids := make([]int64, len(stations))
	for i, st := range stations {
		ids[i] = st.ID
	}
	return ids, nil
}

func (s *Service) finish(ctx context.Context, kind domain.SyncKind, start time.Time, r domain.Result) {
	log := domain.NewSyncLog(kind, start, domain.Since(start), r)
	s.recorder.Record(ctx, log)
	s.logResult("sync finished", r, "kind", kind, "run_id", log.RunID, "duration_ms", log.DurationMS)
}

func (s *Service) logResult(msg string, r domain.Result, attrs ...any) {
	c := r.Tally()
	attrs = append(attrs, "status", r.Status(), "processed", c.Processed)
	switch v := r.(type) {
	case domain.Success:
		s.logger.Info(msg, attrs...)
	case domain.Partial:
		s.logger.Warn(msg, append(attrs, "errors", len(v.Errors))...)
	case domain.Failed:
		s.logger.Error(msg, append(attrs, "error", v.Reason)...)
	}
}

// ResultError returns nil for a success and the carried errors otherwise.
func ResultError(r domain.Result) error {
	switch v := r.(type) {
	case domain.Partial:
		return errors.Join(v.Errors...)
	case domain.Failed:
		return v.Reason
	default:
		return nil
	}
}

// combine merges the results of independent steps of one run.
func combine(results ...domain.Result) domain.Result {
	var counts domain.Counts
	var errs []error
	successes := 0
	for _, r := range results {
		c := r.Tally()
		counts.Processed += c.Processed
		counts.StationsProcessed += c.StationsProcessed
		counts.ScoresCalculated += c.ScoresCalculated
		if r.Status() != domain.StatusFailed {
			successes++
		}
		if err := ResultError(r); err != nil {
			errs = append(errs, err)
		}
	}
	return domain.NewResult(counts, successes, errs)
}
