package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
	"github.com/empi91/Bike-Sharing-Analytics/internal/worker"
	"github.com/jonboulle/clockwork"
)

var errUnavailable = errors.New("store unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetricsForTesting()
}

// freezeClock pins the domain clock for the duration of the test.
func freezeClock(t *testing.T, at time.Time) *clockwork.FakeClock {
	t.Helper()
	fc := clockwork.NewFakeClockAt(at)
	domain.SetClock(fc)
	t.Cleanup(func() { domain.SetClock(nil) })
	return fc
}

// --- feed ---

type fakeFeed struct {
	info        domain.SystemInfo
	infoErr     error
	stations    []domain.StationInfo
	stationsErr error
	statuses    []domain.StationStatus
	statusesErr error
}

func (f *fakeFeed) FetchSystemInfo(context.Context) (domain.SystemInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeFeed) FetchStations(context.Context) ([]domain.StationInfo, error) {
	return f.stations, f.stationsErr
}

func (f *fakeFeed) FetchStatuses(context.Context) ([]domain.StationStatus, error) {
	return f.statuses, f.statusesErr
}

// --- store ---

type aggKey struct {
	stationID int64
	hour      int
	dayType   domain.DayType
}

// memStore is an in-memory Store. Aggregate tables are maps keyed like the
// unique constraints of the real schema, so upserts overwrite in place.
type memStore struct {
	mu sync.Mutex

	nextID      int64
	stations    []domain.Station
	snapshots   []domain.Snapshot
	reliability map[aggKey]domain.ReliabilityScore
	averages    map[aggKey]domain.HourlyAverage
	logs        []domain.SyncLog

	listErr       error
	createErr     error
	updateErr     map[string]error
	insertErr     error
	samplesErr    map[int64]error
	upsertErr     error
	refreshErr    error
	insertLogErr  error
	recentLogsErr error
	pingErr       error

	createCalls  int
	refreshCalls int
}

func newMemStore() *memStore {
	return &memStore{
		nextID:      100,
		reliability: make(map[aggKey]domain.ReliabilityScore),
		averages:    make(map[aggKey]domain.HourlyAverage),
		updateErr:   make(map[string]error),
		samplesErr:  make(map[int64]error),
	}
}

func (m *memStore) ListStations(_ context.Context, activeOnly bool) ([]domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Station, 0, len(m.stations))
	for _, s := range m.stations {
		if activeOnly && !s.IsActive {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) GetStation(_ context.Context, id int64) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stations {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Station{}, domain.ErrStationNotFound
}

func (m *memStore) CreateStations(_ context.Context, recs []domain.StationRecord) ([]domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	out := make([]domain.Station, len(recs))
	for i, r := range recs {
		m.nextID++
		out[i] = stationFromRecord(m.nextID, r)
		m.stations = append(m.stations, out[i])
	}
	return out, nil
}

func (m *memStore) UpdateStation(_ context.Context, id int64, rec domain.StationRecord) (domain.Station, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateErr[rec.ExternalID]; err != nil {
		return domain.Station{}, err
	}
	for i, s := range m.stations {
		if s.ID == id {
			updated := stationFromRecord(id, rec)
			updated.CreatedAt = s.CreatedAt
			m.stations[i] = updated
			return updated, nil
		}
	}
	return domain.Station{}, domain.ErrStationNotFound
}

func stationFromRecord(id int64, r domain.StationRecord) domain.Station {
	return domain.Station{
		ID:         id,
		ExternalID: r.ExternalID,
		Name:       r.Name,
		Address:    r.Address,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		TotalDocks: r.TotalDocks,
		IsVirtual:  r.IsVirtual,
		IsActive:   r.IsActive,
	}
}

func (m *memStore) InsertSnapshots(_ context.Context, snaps []domain.Snapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.snapshots = append(m.snapshots, snaps...)
	return len(snaps), nil
}

func (m *memStore) SamplesInWindow(_ context.Context, stationID int64, w domain.Window) ([]domain.Sample, error) {
	return m.samples(stationID, func(s domain.Snapshot) bool {
		return !s.CapturedAt.Before(w.Start) && !s.CapturedAt.After(w.End)
	})
}

func (m *memStore) AllSamples(_ context.Context, stationID int64) ([]domain.Sample, error) {
	return m.samples(stationID, func(domain.Snapshot) bool { return true })
}

func (m *memStore) samples(stationID int64, keep func(domain.Snapshot) bool) ([]domain.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.samplesErr[stationID]; err != nil {
		return nil, err
	}
	var out []domain.Sample
	for _, s := range m.snapshots {
		if s.StationID == stationID && keep(s) {
			out = append(out, domain.Sample{DayOfWeek: s.DayOfWeek, Hour: s.Hour, AvailableBikes: s.AvailableBikes})
		}
	}
	return out, nil
}

func (m *memStore) ReplaceReliabilityScores(_ context.Context, stationID int64, scores []domain.ReliabilityScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for k := range m.reliability {
		if k.stationID == stationID {
			delete(m.reliability, k)
		}
	}
	for _, s := range scores {
		m.reliability[aggKey{s.StationID, s.Hour, s.DayType}] = s
	}
	return nil
}

func (m *memStore) UpsertHourlyAverages(_ context.Context, avgs []domain.HourlyAverage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	for _, a := range avgs {
		m.averages[aggKey{a.StationID, a.Hour, a.DayType}] = a
	}
	return nil
}

// RefreshHourlyAverages mirrors the SQL procedure: group all history with the
// same threshold and upsert.
func (m *memStore) RefreshHourlyAverages(ctx context.Context, stationID int64) (int, error) {
	m.mu.Lock()
	m.refreshCalls++
	err := m.refreshErr
	m.mu.Unlock()
	if err != nil {
		return 0, err
	}
	samples, err := m.AllSamples(ctx, stationID)
	if err != nil {
		return 0, err
	}
	avgs := domain.HourlyAverages(stationID, domain.Summarize(samples), domain.Now())
	if err := m.UpsertHourlyAverages(ctx, avgs); err != nil {
		return 0, err
	}
	return len(avgs), nil
}

func (m *memStore) InsertSyncLog(_ context.Context, log domain.SyncLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertLogErr != nil {
		return m.insertLogErr
	}
	m.logs = append(m.logs, log)
	return nil
}

func (m *memStore) RecentSyncLogs(_ context.Context, limit int) ([]domain.SyncLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.recentLogsErr != nil {
		return nil, m.recentLogsErr
	}
	out := make([]domain.SyncLog, len(m.logs))
	copy(out, m.logs)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error {
	return m.pingErr
}

func (m *memStore) syncLogs() []domain.SyncLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.SyncLog(nil), m.logs...)
}

func (m *memStore) allSnapshots() []domain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Snapshot(nil), m.snapshots...)
}

// seedStation adds a station directly and returns its internal id.
func (m *memStore) seedStation(externalID, name string, active bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.stations = append(m.stations, domain.Station{
		ID:         m.nextID,
		ExternalID: externalID,
		Name:       name,
		Latitude:   54.4,
		Longitude:  18.6,
		TotalDocks: 10,
		IsVirtual:  true,
		IsActive:   active,
	})
	return m.nextID
}

// --- publisher and submitter ---

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.SyncLog
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, log domain.SyncLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, log)
	return nil
}

// inlineSubmitter runs tasks synchronously so tests can observe them.
type inlineSubmitter struct {
	tasks int
	errs  []error
	err   error
}

func (s *inlineSubmitter) Submit(t worker.Task) error {
	if s.err != nil {
		return s.err
	}
	s.tasks++
	if err := t(context.Background()); err != nil {
		s.errs = append(s.errs, err)
	}
	return nil
}
