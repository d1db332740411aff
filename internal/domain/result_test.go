package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResult(t *testing.T) {
	counts := Counts{Processed: 3, Created: 2}
	errA := errors.New("station 1 failed")
	errB := errors.New("station 2 failed")

	t.Run("no errors is success", func(t *testing.T) {
		r := NewResult(counts, 0, nil)
		assert.Equal(t, StatusSuccess, r.Status())
		assert.Equal(t, Success{Counts: counts}, r)
		assert.Empty(t, ErrorMessages(r))
	})

	t.Run("errors with successes is partial", func(t *testing.T) {
		r := NewResult(counts, 2, []error{errA})
		require.IsType(t, Partial{}, r)
		assert.Equal(t, StatusPartial, r.Status())
		assert.Equal(t, counts, r.Tally())
		assert.Equal(t, []string{"station 1 failed"}, ErrorMessages(r))
	})

	t.Run("errors without successes is failed", func(t *testing.T) {
		r := NewResult(counts, 0, []error{errA, errB})
		failed, ok := r.(Failed)
		require.True(t, ok)
		assert.Equal(t, StatusFailed, failed.Status())
		require.ErrorIs(t, failed.Reason, errA)
		require.ErrorIs(t, failed.Reason, errB)
		assert.Equal(t, []string{"station 1 failed", "station 2 failed"}, ErrorMessages(r))
		assert.Equal(t, "station 1 failed; station 2 failed", NewSyncLog(SyncStations, time.Now(), time.Second, r).ErrorMessage)
	})

	t.Run("single error is kept as is", func(t *testing.T) {
		r := NewResult(counts, 0, []error{errA})
		assert.Equal(t, errA, r.(Failed).Reason)
	})
}

func TestErrorTypes(t *testing.T) {
	cause := errors.New("connection refused")

	feedErr := &FeedError{Document: "station_status", URL: "http://x", Err: cause}
	assert.Equal(t, "feed station_status: connection refused", feedErr.Error())
	require.ErrorIs(t, feedErr, cause)

	statusErr := &FeedError{Document: "station_status", StatusCode: 503, Err: errors.New("unavailable")}
	assert.Equal(t, "feed station_status: status 503: unavailable", statusErr.Error())

	parseErr := &ParseError{Document: "station_information", Err: cause}
	assert.Contains(t, parseErr.Error(), "record unknown")

	var pe *PersistenceError
	require.ErrorAs(t, error(&PersistenceError{Op: "insert snapshots", Err: cause}), &pe)
	assert.Equal(t, "insert snapshots: connection refused", pe.Error())

	aggErr := &AggregationError{StationID: 4, Kind: "reliability", Err: cause}
	assert.Equal(t, "reliability for station 4: connection refused", aggErr.Error())
	require.ErrorIs(t, aggErr, cause)
}

func TestNewSyncLog(t *testing.T) {
	start := time.Date(2024, time.June, 3, 8, 5, 0, 0, time.UTC)

	log := NewSyncLog(SyncAvailability, start, 1500*time.Millisecond,
		NewResult(Counts{Processed: 3, SnapshotsCreated: 2}, 2, []error{errors.New("boom")}))

	assert.NotEqual(t, uuid.Nil, log.RunID)
	assert.Equal(t, SyncAvailability, log.Kind)
	assert.Equal(t, start, log.Timestamp)
	assert.Equal(t, StatusPartial, log.Status)
	assert.Equal(t, 3, log.StationsProcessed)
	assert.Equal(t, 2, log.SnapshotsCreated)
	assert.Equal(t, "boom", log.ErrorMessage)
	assert.Equal(t, int64(1500), log.DurationMS)
}
