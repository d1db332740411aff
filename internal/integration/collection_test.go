//go:build integration

package integration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/gbfs"
	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/kafka"
	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
	"github.com/empi91/Bike-Sharing-Analytics/internal/pipeline"
)

const testSyncTopic = "test-sync-runs"

// syncMessage holds a deserialized message read from the sync topic.
type syncMessage struct {
	Log     domain.SyncLog
	Key     string
	Headers map[string]string
}

func readSyncLog(ctx context.Context, t *testing.T, consumer *kafkago.Reader) syncMessage {
	t.Helper()
	readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	msg, err := consumer.ReadMessage(readCtx)
	require.NoError(t, err, "read from sync topic")

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	var log domain.SyncLog
	require.NoError(t, json.Unmarshal(msg.Value, &log), "unmarshal sync log")
	return syncMessage{Log: log, Key: string(msg.Key), Headers: headers}
}

func newConsumer(t *testing.T, broker string) *kafkago.Reader {
	t.Helper()
	consumer := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     []string{broker},
		Topic:       testSyncTopic,
		GroupID:     fmt.Sprintf("test-consumer-%d", time.Now().UnixNano()),
		StartOffset: kafkago.FirstOffset,
	})
	t.Cleanup(func() { _ = consumer.Close() })
	return consumer
}

// TestPublisher verifies a sync log round-trips through Kafka with its key and
// headers.
func TestPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSyncTopic)

	pub := kafka.NewPublisher([]string{broker}, testSyncTopic, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	log := domain.SyncLog{
		RunID:             uuid.New(),
		Kind:              domain.SyncStations,
		Timestamp:         time.Date(2024, time.June, 3, 8, 0, 0, 0, time.UTC),
		Status:            domain.StatusSuccess,
		StationsProcessed: 3,
		DurationMS:        120,
	}
	require.NoError(t, pub.Publish(ctx, log))

	sm := readSyncLog(ctx, t, newConsumer(t, broker))
	assert.Equal(t, log.RunID.String(), sm.Key)
	assert.Equal(t, "stations", sm.Headers["sync_kind"])
	assert.Equal(t, "success", sm.Headers["sync_status"])
	assert.Equal(t, "2024-06-03T08:00:00Z", sm.Headers["synced_at"])
	assert.Equal(t, log, sm.Log)
}

// TestCollectionEndToEnd runs station and availability syncs from the fixture
// feed into PostgreSQL and checks that each run is logged and published.
func TestCollectionEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	broker := startKafka(ctx, t)
	createTopic(t, broker, testSyncTopic)
	store := startDatabase(ctx, t)

	metrics := observability.NewMetricsForTesting()
	feed := gbfs.NewClient(feedServer(t), 5*time.Second, discardLogger(), metrics)
	pub := kafka.NewPublisher([]string{broker}, testSyncTopic, discardLogger())
	t.Cleanup(func() { _ = pub.Close() })

	svc := pipeline.NewService(feed, store, pipeline.Options{
		Location:  time.UTC,
		Publisher: pub,
	}, discardLogger(), metrics)

	r := svc.SyncStations(ctx, false)
	require.Equal(t, domain.StatusSuccess, r.Status(), pipeline.ResultError(r))
	assert.Equal(t, 3, r.Tally().Created)

	// A second sync finds nothing to change.
	r = svc.SyncStations(ctx, false)
	require.Equal(t, domain.StatusSuccess, r.Status())
	assert.Equal(t, 3, r.Tally().Unchanged)

	r = svc.SyncAvailability(ctx)
	require.Equal(t, domain.StatusSuccess, r.Status(), pipeline.ResultError(r))
	assert.Equal(t, 3, r.Tally().SnapshotsCreated)

	stations, err := store.ListStations(ctx, true)
	require.NoError(t, err)
	require.Len(t, stations, 3)
	samples, err := store.AllSamples(ctx, stations[0].ID)
	require.NoError(t, err)
	assert.Len(t, samples, 1)

	health, err := svc.GetSyncHealth(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.HealthHealthy, health.OverallStatus)
	assert.Equal(t, 3, health.Total)

	require.NoError(t, svc.CheckReadiness(ctx))

	consumer := newConsumer(t, broker)
	kinds := map[string]int{}
	for range 3 {
		sm := readSyncLog(ctx, t, consumer)
		kinds[sm.Headers["sync_kind"]]++
		assert.Equal(t, "success", sm.Headers["sync_status"])
		assert.Equal(t, sm.Log.RunID.String(), sm.Key)
	}
	assert.Equal(t, map[string]int{"stations": 2, "availability": 1}, kinds)
}
