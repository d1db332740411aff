package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/empi91/Bike-Sharing-Analytics/internal/adapter/http"
	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
	"github.com/empi91/Bike-Sharing-Analytics/internal/scheduler"
)

type fakeOps struct {
	readyErr     error
	result       domain.Result
	relErr       error
	healthErr    error
	gotForce     bool
	gotStation   *int64
	gotDaysBack  int
	gotLimit     int
	syncStations int
}

func (f *fakeOps) CheckReadiness(context.Context) error { return f.readyErr }

func (f *fakeOps) SyncStations(_ context.Context, force bool) domain.Result {
	f.gotForce = force
	f.syncStations++
	return f.result
}

func (f *fakeOps) SyncAvailability(context.Context) domain.Result { return f.result }

func (f *fakeOps) CalculateReliability(_ context.Context, id *int64, daysBack int) (domain.Result, error) {
	f.gotStation = id
	f.gotDaysBack = daysBack
	if f.relErr != nil {
		return nil, f.relErr
	}
	return f.result, nil
}

func (f *fakeOps) GetSyncHealth(_ context.Context, limit int) (domain.SyncHealth, error) {
	f.gotLimit = limit
	if f.healthErr != nil {
		return domain.SyncHealth{}, f.healthErr
	}
	return domain.ComputeSyncHealth(nil), nil
}

func (f *fakeOps) DefaultDaysBack() int { return 30 }

type fakeJobs struct {
	status scheduler.Status
	err    error
	gotID  string
}

func (f *fakeJobs) Status() scheduler.Status { return f.status }

func (f *fakeJobs) Trigger(_ context.Context, id string) (domain.Result, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return domain.Success{Counts: domain.Counts{Processed: 4}}, nil
}

func newTestServer(ops *fakeOps, jobs httpadapter.Jobs) (*httpadapter.Server, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return httpadapter.NewServer(":0", ops, jobs, slog.New(slog.NewTextHandler(io.Discard, nil)), m), m
}

func do(t *testing.T, srv http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealthzReturns200(t *testing.T) {
	srv, _ := newTestServer(&fakeOps{}, nil)
	rec, body := do(t, srv, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	srv, _ := newTestServer(&fakeOps{}, nil)
	rec, body := do(t, srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	srv, _ := newTestServer(&fakeOps{readyErr: fmt.Errorf("not ready yet")}, nil)
	rec, body := do(t, srv, http.MethodGet, "/readyz")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not ready", body["status"])
	assert.Equal(t, "not ready yet", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := newTestServer(&fakeOps{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestSyncStations(t *testing.T) {
	ops := &fakeOps{result: domain.Success{Counts: domain.Counts{Processed: 3, Created: 2, Unchanged: 1}}}
	srv, m := newTestServer(ops, nil)

	rec, body := do(t, srv, http.MethodPost, "/api/internal/sync/stations?force_update=true")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, ops.gotForce)
	assert.Equal(t, "success", body["status"])
	assert.InDelta(t, 3.0, body["processed"], 0.0001)
	assert.InDelta(t, 2.0, body["created"], 0.0001)
	assert.NotContains(t, body, "errors")
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("POST", "/api/internal/sync/stations", "200")), 0.0001)
}

func TestSyncStations_InvalidForce(t *testing.T) {
	ops := &fakeOps{}
	srv, _ := newTestServer(ops, nil)

	rec, body := do(t, srv, http.MethodPost, "/api/internal/sync/stations?force_update=maybe")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, body["error"], "force_update")
	assert.Zero(t, ops.syncStations)
}

func TestSyncAvailability_Partial(t *testing.T) {
	ops := &fakeOps{result: domain.Partial{
		Counts: domain.Counts{Processed: 3, SnapshotsCreated: 2, Skipped: 1},
		Errors: []error{errors.New("status for unknown station 99")},
	}}
	srv, _ := newTestServer(ops, nil)

	rec, body := do(t, srv, http.MethodPost, "/api/internal/sync/availability")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "partial", body["status"])
	assert.InDelta(t, 2.0, body["snapshots_created"], 0.0001)
	assert.Equal(t, []any{"status for unknown station 99"}, body["errors"])
}

func TestSyncAvailability_Failed(t *testing.T) {
	ops := &fakeOps{result: domain.Failed{Reason: &domain.FeedError{Document: "station_status", StatusCode: 503, Err: errors.New("bad status")}}}
	srv, _ := newTestServer(ops, nil)

	rec, body := do(t, srv, http.MethodPost, "/api/internal/sync/availability")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "feed station_status: status 503: bad status", body["error"])
}

func TestCalculateReliability(t *testing.T) {
	t.Run("defaults to every station over the default window", func(t *testing.T) {
		ops := &fakeOps{result: domain.Success{Counts: domain.Counts{StationsProcessed: 2, ScoresCalculated: 5}}}
		srv, _ := newTestServer(ops, nil)

		rec, body := do(t, srv, http.MethodPost, "/api/internal/calculate/reliability")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Nil(t, ops.gotStation)
		assert.Equal(t, 30, ops.gotDaysBack)
		assert.InDelta(t, 5.0, body["scores_calculated"], 0.0001)
	})

	t.Run("one station", func(t *testing.T) {
		ops := &fakeOps{result: domain.Success{}}
		srv, _ := newTestServer(ops, nil)

		rec, _ := do(t, srv, http.MethodPost, "/api/internal/calculate/reliability?station_id=7&days_back=14")

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, ops.gotStation)
		assert.Equal(t, int64(7), *ops.gotStation)
		assert.Equal(t, 14, ops.gotDaysBack)
	})

	cases := []struct {
		name   string
		target string
		relErr error
		code   int
	}{
		{"bad station id", "?station_id=abc", nil, http.StatusBadRequest},
		{"zero station id", "?station_id=0", nil, http.StatusBadRequest},
		{"bad days back", "?days_back=x", nil, http.StatusBadRequest},
		{"window out of range", "?days_back=0", domain.ErrInvalidWindow, http.StatusBadRequest},
		{"unknown station", "?station_id=99", domain.ErrStationNotFound, http.StatusNotFound},
		{"store down", "", &domain.PersistenceError{Op: "list active stations", Err: errors.New("refused")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newTestServer(&fakeOps{relErr: tc.relErr}, nil)
			rec, body := do(t, srv, http.MethodPost, "/api/internal/calculate/reliability"+tc.target)
			assert.Equal(t, tc.code, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestSyncHealth(t *testing.T) {
	ops := &fakeOps{}
	srv, _ := newTestServer(ops, nil)

	rec, body := do(t, srv, http.MethodGet, "/api/internal/health/sync")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, ops.gotLimit)
	assert.Equal(t, "unhealthy", body["overall_status"])

	_, _ = do(t, srv, http.MethodGet, "/api/internal/health/sync?limit=25")
	assert.Equal(t, 25, ops.gotLimit)

	ops.healthErr = domain.ErrInvalidLimit
	rec, _ = do(t, srv, http.MethodGet, "/api/internal/health/sync?limit=101")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScheduler(t *testing.T) {
	jobs := &fakeJobs{status: scheduler.Status{Running: true, Jobs: []scheduler.JobStatus{{ID: scheduler.JobStatusCollection, Trigger: "every 5m0s"}}}}
	srv, _ := newTestServer(&fakeOps{}, jobs)

	rec, body := do(t, srv, http.MethodGet, "/api/internal/scheduler")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["scheduler_running"])

	rec, body = do(t, srv, http.MethodPost, "/api/internal/scheduler/jobs/data_maintenance/trigger")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "data_maintenance", jobs.gotID)
	assert.Equal(t, "success", body["status"])

	jobs.err = scheduler.ErrJobRunning
	rec, _ = do(t, srv, http.MethodPost, "/api/internal/scheduler/jobs/data_maintenance/trigger")
	assert.Equal(t, http.StatusConflict, rec.Code)

	jobs.err = scheduler.ErrJobNotFound
	rec, _ = do(t, srv, http.MethodPost, "/api/internal/scheduler/jobs/nope/trigger")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerRoutesAbsentWithoutJobs(t *testing.T) {
	srv, _ := newTestServer(&fakeOps{}, nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/internal/scheduler", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
