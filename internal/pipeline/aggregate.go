package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

const (
	kindReliability   = "reliability"
	kindHourlyAverage = "hourly_average"
)

// Aggregator computes reliability scores and hourly averages per station.
// Both views share domain.Summarize and are written with atomic upserts, so
// reruns over the same snapshots overwrite rows in place.
type Aggregator struct {
	snapshots  SnapshotStore
	aggregates AggregateStore
	logger     *slog.Logger
	metrics    *observability.Metrics
	batchSize  int
	batchPause time.Duration
}

// NewAggregator creates an Aggregator. batchSize bounds the concurrency of a
// recompute pass and batchPause separates its batches.
func NewAggregator(snapshots SnapshotStore, aggregates AggregateStore, batchSize int, batchPause time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Aggregator {
	if batchSize < 1 {
		batchSize = 1
	}
	return &Aggregator{
		snapshots:  snapshots,
		aggregates: aggregates,
		logger:     logger,
		metrics:    metrics,
		batchSize:  batchSize,
		batchPause: batchPause,
	}
}

// Reliability recomputes the scores of one station over w and returns the
// number of rows written. Groups below domain.MinSampleSize have no row, even
// when an earlier window produced one.
func (a *Aggregator) Reliability(ctx context.Context, stationID int64, w domain.Window) (int, error) {
	samples, err := a.snapshots.SamplesInWindow(ctx, stationID, w)
	if err != nil {
		return 0, a.fail(stationID, kindReliability, err)
	}
	scores := domain.ReliabilityScores(stationID, domain.Summarize(samples), w, domain.Now())
	if err := a.aggregates.ReplaceReliabilityScores(ctx, stationID, scores); err != nil {
		return 0, a.fail(stationID, kindReliability, err)
	}
	a.metrics.AggregatesUpserted.WithLabelValues(kindReliability).Add(float64(len(scores)))
	return len(scores), nil
}

// HourlyAverages recomputes the all-time averages of one station. The
// store-side procedure is tried first; on any error the samples are grouped
// here instead, with the same threshold.
func (a *Aggregator) HourlyAverages(ctx context.Context, stationID int64) (int, error) {
	n, err := a.aggregates.RefreshHourlyAverages(ctx, stationID)
	if err == nil {
		a.metrics.AggregatesUpserted.WithLabelValues(kindHourlyAverage).Add(float64(n))
		return n, nil
	}
	if ctx.Err() != nil {
		return 0, a.fail(stationID, kindHourlyAverage, ctx.Err())
	}

	a.logger.Warn("store-side hourly average refresh failed, grouping locally",
		"station_id", stationID, "error", err)
	a.metrics.AggregationFallbacks.Inc()

	samples, err := a.snapshots.AllSamples(ctx, stationID)
	if err != nil {
		return 0, a.fail(stationID, kindHourlyAverage, err)
	}
	avgs := domain.HourlyAverages(stationID, domain.Summarize(samples), domain.Now())
	if len(avgs) == 0 {
		return 0, nil
	}
	if err := a.aggregates.UpsertHourlyAverages(ctx, avgs); err != nil {
		return 0, a.fail(stationID, kindHourlyAverage, err)
	}
	a.metrics.AggregatesUpserted.WithLabelValues(kindHourlyAverage).Add(float64(len(avgs)))
	return len(avgs), nil
}

// ReliabilityFor recomputes scores for each station in turn. One station's
// failure is collected and does not stop the rest.
func (a *Aggregator) ReliabilityFor(ctx context.Context, stationIDs []int64, w domain.Window) domain.Result {
	var counts domain.Counts
	var errs []error
	for _, id := range stationIDs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := a.Reliability(ctx, id, w)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		counts.StationsProcessed++
		counts.ScoresCalculated += n
	}
	counts.Processed = len(stationIDs)
	return domain.NewResult(counts, counts.StationsProcessed, errs)
}

// RecomputeHourlyAverages refreshes averages for stationIDs in fixed-size
// batches. Stations within a batch run concurrently and each records its own
// outcome; a failure never cancels its siblings. Batches are separated by the
// configured pause.
func (a *Aggregator) RecomputeHourlyAverages(ctx context.Context, stationIDs []int64) domain.Result {
	var counts domain.Counts
	var errs []error

	for start := 0; start < len(stationIDs); start += a.batchSize {
		if start > 0 && !sleepWithContext(ctx, a.batchPause) {
			errs = append(errs, ctx.Err())
			break
		}
		end := min(start+a.batchSize, len(stationIDs))
		batch := stationIDs[start:end]

		rows := make([]int, len(batch))
		batchErrs := make([]error, len(batch))
		var g errgroup.Group
		g.SetLimit(a.batchSize)
		for i, id := range batch {
			g.Go(func() error {
				rows[i], batchErrs[i] = a.HourlyAverages(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		for i := range batch {
			counts.Processed++
			if batchErrs[i] != nil {
				errs = append(errs, batchErrs[i])
				continue
			}
			counts.StationsProcessed++
			counts.ScoresCalculated += rows[i]
		}
		a.logger.Debug("hourly average batch done", "from", start, "to", end)
	}

	a.logger.Info("hourly averages recomputed",
		"stations", counts.StationsProcessed,
		"rows", counts.ScoresCalculated,
		"errors", len(errs),
	)
	return domain.NewResult(counts, counts.StationsProcessed, errs)
}

func (a *Aggregator) fail(stationID int64, kind string, err error) error {
	a.metrics.AggregationErrors.WithLabelValues(kind).Inc()
	a.logger.Error("aggregation failed", "station_id", stationID, "kind", kind, "error", err)
	return &domain.AggregationError{StationID: stationID, Kind: kind, Err: err}
}
