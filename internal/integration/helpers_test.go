//go:build integration

package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/gbfs"
	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/postgres"
)

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startKafka runs a single-node KRaft broker and returns its address.
func startKafka(ctx context.Context, t *testing.T) string {
	t.Helper()
	c, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("bikeshare-test"),
		tc.WithLogger(nopLogger{}),
	)
	tc.CleanupContainer(t, c)
	require.NoError(t, err, "start kafka container")

	brokers, err := c.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)
	return brokers[0]
}

// createTopic creates a single-partition topic through the cluster controller.
func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cc, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cc.Close()

	require.NoError(t, cc.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}

// startDatabase runs PostgreSQL with the schema applied.
func startDatabase(ctx context.Context, t *testing.T) *postgres.Store {
	t.Helper()
	c, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("bikeshare"),
		tcpostgres.WithUsername("bikeshare"),
		tcpostgres.WithPassword("bikeshare"),
		tcpostgres.BasicWaitStrategies(),
		tc.WithLogger(nopLogger{}),
	)
	tc.CleanupContainer(t, c)
	require.NoError(t, err, "start postgres container")

	url, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.MigrateUp(url))

	store, err := postgres.Connect(ctx, url, 30*time.Second, discardLogger())
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

// feedServer serves the GBFS fixtures of the gbfs adapter.
func feedServer(t *testing.T) gbfs.URLs {
	t.Helper()
	srv := httptest.NewServer(http.FileServer(http.Dir("../adapter/gbfs/testdata")))
	t.Cleanup(srv.Close)
	return gbfs.URLs{
		SystemInfo:    srv.URL + "/system_information.json",
		StationInfo:   srv.URL + "/station_information.json",
		StationStatus: srv.URL + "/station_status.json",
	}
}
