// Package postgres is the PostgreSQL store of stations, snapshots, derived
// aggregates and sync logs.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
)

// Store implements pipeline.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool and retries the first ping with exponential backoff
// until maxWait elapses.
func Connect(ctx context.Context, databaseURL string, maxWait time.Duration, logger *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pool, err := backoff.Retry(ctx, func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, cfg.Copy())
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return pool, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(maxWait),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("database not ready, retrying", "error", err, "retry_in", next)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info("database connected", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &Store{pool: pool}, nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

const stationColumns = `id, external_station_id, name, address, latitude, longitude,
	total_docks, is_virtual, is_active, created_at, updated_at`

func scanStation(row pgx.Row) (domain.Station, error) {
	var st domain.Station
	err := row.Scan(&st.ID, &st.ExternalID, &st.Name, &st.Address, &st.Latitude, &st.Longitude,
		&st.TotalDocks, &st.IsVirtual, &st.IsActive, &st.CreatedAt, &st.UpdatedAt)
	return st, err
}

// ListStations returns stations ordered by id.
func (s *Store) ListStations(ctx context.Context, activeOnly bool) ([]domain.Station, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stationColumns+` FROM bike_stations
		 WHERE NOT $1 OR is_active
		 ORDER BY id`, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	stations, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Station, error) {
		return scanStation(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan stations: %w", err)
	}
	return stations, nil
}

// GetStation returns domain.ErrStationNotFound for an unknown id.
func (s *Store) GetStation(ctx context.Context, id int64) (domain.Station, error) {
	st, err := scanStation(s.pool.QueryRow(ctx,
		`SELECT `+stationColumns+` FROM bike_stations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("get station %d: %w", id, err)
	}
	return st, nil
}

// CreateStations inserts recs in one transaction and returns the stored rows
// in input order. A record whose external id already exists is updated in
// place and keeps its id.
func (s *Store) CreateStations(ctx context.Context, recs []domain.StationRecord) ([]domain.Station, error) {
	if len(recs) == 0 {
		return nil, nil
	}
	out := make([]domain.Station, 0, len(recs))
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, r := range recs {
			batch.Queue(
				`INSERT INTO bike_stations
					(external_station_id, name, address, latitude, longitude, total_docks, is_virtual, is_active)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				 ON CONFLICT (external_station_id) DO UPDATE
				 SET name = EXCLUDED.name,
				     address = EXCLUDED.address,
				     latitude = EXCLUDED.latitude,
				     longitude = EXCLUDED.longitude,
				     total_docks = EXCLUDED.total_docks,
				     is_virtual = EXCLUDED.is_virtual,
				     is_active = EXCLUDED.is_active,
				     updated_at = NOW()
				 RETURNING `+stationColumns,
				r.ExternalID, r.Name, r.Address, r.Latitude, r.Longitude, r.TotalDocks, r.IsVirtual, r.IsActive,
			)
		}
		res := tx.SendBatch(ctx, batch)
		defer res.Close()
		for _, r := range recs {
			st, err := scanStation(res.QueryRow())
			if err != nil {
				return fmt.Errorf("insert station %s: %w", r.ExternalID, err)
			}
			out = append(out, st)
		}
		return res.Close()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateStation overwrites the mutable fields of station id.
func (s *Store) UpdateStation(ctx context.Context, id int64, r domain.StationRecord) (domain.Station, error) {
	st, err := scanStation(s.pool.QueryRow(ctx,
		`UPDATE bike_stations
		 SET name = $2, address = $3, latitude = $4, longitude = $5,
		     total_docks = $6, is_virtual = $7, is_active = $8, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+stationColumns,
		id, r.Name, r.Address, r.Latitude, r.Longitude, r.TotalDocks, r.IsVirtual, r.IsActive))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Station{}, domain.ErrStationNotFound
	}
	if err != nil {
		return domain.Station{}, fmt.Errorf("update station %d: %w", id, err)
	}
	return st, nil
}

var snapshotColumns = []string{
	"station_id", "available_bikes", "available_docks", "is_renting", "is_returning",
	"captured_at", "day_of_week", "hour", "minute_slot",
}

// InsertSnapshots bulk-copies snaps and returns the number of rows written.
func (s *Store) InsertSnapshots(ctx context.Context, snaps []domain.Snapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	n, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"availability_snapshots"},
		snapshotColumns,
		pgx.CopyFromSlice(len(snaps), func(i int) ([]any, error) {
			sn := snaps[i]
			return []any{
				sn.StationID, sn.AvailableBikes, sn.AvailableDocks, sn.IsRenting, sn.IsReturning,
				sn.CapturedAt, sn.DayOfWeek, sn.Hour, sn.MinuteSlot,
			}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy snapshots: %w", err)
	}
	return int(n), nil
}

func collectSamples(rows pgx.Rows) ([]domain.Sample, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Sample, error) {
		var sm domain.Sample
		err := row.Scan(&sm.DayOfWeek, &sm.Hour, &sm.AvailableBikes)
		return sm, err
	})
}

// SamplesInWindow returns the samples of a station captured within w.
func (s *Store) SamplesInWindow(ctx context.Context, stationID int64, w domain.Window) ([]domain.Sample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day_of_week, hour, available_bikes
		 FROM availability_snapshots
		 WHERE station_id = $1 AND captured_at BETWEEN $2 AND $3`,
		stationID, w.Start, w.End)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	return collectSamples(rows)
}

// AllSamples returns every sample of a station.
func (s *Store) AllSamples(ctx context.Context, stationID int64) ([]domain.Sample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day_of_week, hour, available_bikes
		 FROM availability_snapshots
		 WHERE station_id = $1`, stationID)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	return collectSamples(rows)
}

// ReplaceReliabilityScores makes scores the full score set of stationID in one
// transaction: listed keys are upserted and every other key of the station is
// deleted. An empty set removes all of the station's scores.
func (s *Store) ReplaceReliabilityScores(ctx context.Context, stationID int64, scores []domain.ReliabilityScore) error {
	hours := make([]int32, 0, len(scores))
	dayTypes := make([]string, 0, len(scores))
	batch := &pgx.Batch{}
	for _, sc := range scores {
		if sc.StationID != stationID {
			return fmt.Errorf("replace reliability scores: score for station %d in set of station %d", sc.StationID, stationID)
		}
		hours = append(hours, int32(sc.Hour))
		dayTypes = append(dayTypes, string(sc.DayType))
		batch.Queue(
			`INSERT INTO reliability_scores
				(station_id, hour, day_type, reliability_percentage, avg_available_bikes,
				 sample_size, data_period_start, data_period_end, calculated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (station_id, hour, day_type) DO UPDATE
			 SET reliability_percentage = EXCLUDED.reliability_percentage,
			     avg_available_bikes = EXCLUDED.avg_available_bikes,
			     sample_size = EXCLUDED.sample_size,
			     data_period_start = EXCLUDED.data_period_start,
			     data_period_end = EXCLUDED.data_period_end,
			     calculated_at = EXCLUDED.calculated_at`,
			sc.StationID, sc.Hour, string(sc.DayType), sc.Percentage, sc.AvgBikes,
			sc.SampleSize, sc.PeriodStart, sc.PeriodEnd, sc.CalculatedAt,
		)
	}
	batch.Queue(
		`DELETE FROM reliability_scores
		 WHERE station_id = $1
		   AND (hour, day_type) NOT IN (SELECT * FROM unnest($2::int[], $3::text[]))`,
		stationID, hours, dayTypes,
	)

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return drainBatch(tx.SendBatch(ctx, batch), batch.Len(), "replace reliability scores")
	})
}

// UpsertHourlyAverages writes averages keyed by (station, hour, day type).
func (s *Store) UpsertHourlyAverages(ctx context.Context, avgs []domain.HourlyAverage) error {
	if len(avgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range avgs {
		batch.Queue(
			`INSERT INTO hourly_availability_averages
				(station_id, hour, day_type, avg_bikes_available, total_snapshots, last_calculated)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (station_id, hour, day_type) DO UPDATE
			 SET avg_bikes_available = EXCLUDED.avg_bikes_available,
			     total_snapshots = EXCLUDED.total_snapshots,
			     last_calculated = EXCLUDED.last_calculated`,
			a.StationID, a.Hour, string(a.DayType), a.AvgBikes, a.TotalSnapshots, a.CalculatedAt,
		)
	}
	return s.execBatch(ctx, batch, "upsert hourly averages")
}

func (s *Store) execBatch(ctx context.Context, batch *pgx.Batch, op string) error {
	return drainBatch(s.pool.SendBatch(ctx, batch), batch.Len(), op)
}

// drainBatch executes the n queued statements of res and closes it.
func drainBatch(res pgx.BatchResults, n int, op string) error {
	defer res.Close()
	for range n {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return res.Close()
}

// RefreshHourlyAverages runs the database-side grouping for one station.
func (s *Store) RefreshHourlyAverages(ctx context.Context, stationID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT refresh_station_hourly_averages($1)`, stationID).Scan(&n); err != nil {
		return 0, fmt.Errorf("refresh hourly averages: %w", err)
	}
	return n, nil
}

// ReliabilityScores returns the stored scores of a station ordered by day
// type and hour.
func (s *Store) ReliabilityScores(ctx context.Context, stationID int64) ([]domain.ReliabilityScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT station_id, hour, day_type, reliability_percentage, avg_available_bikes,
		        sample_size, data_period_start, data_period_end, calculated_at
		 FROM reliability_scores
		 WHERE station_id = $1
		 ORDER BY day_type, hour`, stationID)
	if err != nil {
		return nil, fmt.Errorf("query reliability scores: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ReliabilityScore, error) {
		var sc domain.ReliabilityScore
		var dayType string
		err := row.Scan(&sc.StationID, &sc.Hour, &dayType, &sc.Percentage, &sc.AvgBikes,
			&sc.SampleSize, &sc.PeriodStart, &sc.PeriodEnd, &sc.CalculatedAt)
		sc.DayType = domain.DayType(dayType)
		return sc, err
	})
}

// HourlyAverages returns the stored averages of a station ordered by day type
// and hour.
func (s *Store) HourlyAverages(ctx context.Context, stationID int64) ([]domain.HourlyAverage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT station_id, hour, day_type, avg_bikes_available, total_snapshots, last_calculated
		 FROM hourly_availability_averages
		 WHERE station_id = $1
		 ORDER BY day_type, hour`, stationID)
	if err != nil {
		return nil, fmt.Errorf("query hourly averages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.HourlyAverage, error) {
		var a domain.HourlyAverage
		var dayType string
		err := row.Scan(&a.StationID, &a.Hour, &dayType, &a.AvgBikes, &a.TotalSnapshots, &a.CalculatedAt)
		a.DayType = domain.DayType(dayType)
		return a, err
	})
}

// InsertSyncLog appends one audit record.
func (s *Store) InsertSyncLog(ctx context.Context, log domain.SyncLog) error {
	var msg *string
	if log.ErrorMessage != "" {
		msg = &log.ErrorMessage
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_sync_logs
			(run_id, sync_type, sync_timestamp, status, stations_updated,
			 snapshots_created, error_message, response_time_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.RunID, string(log.Kind), log.Timestamp, string(log.Status), log.StationsProcessed,
		log.SnapshotsCreated, msg, log.DurationMS)
	if err != nil {
		return fmt.Errorf("insert sync log: %w", err)
	}
	return nil
}

// RecentSyncLogs returns up to limit logs, newest first.
func (s *Store) RecentSyncLogs(ctx context.Context, limit int) ([]domain.SyncLog, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, run_id, sync_type, sync_timestamp, status, stations_updated,
		        snapshots_created, error_message, response_time_ms
		 FROM api_sync_logs
		 ORDER BY sync_timestamp DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync logs: %w", err)
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SyncLog, error) {
		var (
			l      domain.SyncLog
			kind   string
			status string
			msg    *string
		)
		err := row.Scan(&l.ID, &l.RunID, &kind, &l.Timestamp, &status, &l.StationsProcessed,
			&l.SnapshotsCreated, &msg, &l.DurationMS)
		l.Kind = domain.SyncKind(kind)
		l.Status = domain.SyncStatus(status)
		if msg != nil {
			l.ErrorMessage = *msg
		}
		return l, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan sync logs: %w", err)
	}
	return logs, nil
}
