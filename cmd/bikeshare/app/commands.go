// Package app holds the bikeshare command tree.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/gbfs"
	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/kafka"
	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/postgres"
	"github.com/empi91/Bike-Sharing-Analytics/internal/config"
	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
	"github.com/empi91/Bike-Sharing-Analytics/internal/pipeline"
)

// NewRootCmd creates the bikeshare root command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bikeshare",
		Short:         "Bike-share station reliability collector",
		Long:          `Collects GBFS station availability into PostgreSQL and derives per-hour station reliability.`,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSyncCmd(),
		newReliabilityCmd(),
		newHealthCmd(),
		newValidateCmd(),
	)
	return root
}

// deps are the components shared by every command that talks to the store.
type deps struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *observability.Metrics
	store     *postgres.Store
	feed      *gbfs.Client
	publisher *kafka.Publisher
}

func loadDeps(ctx context.Context) (*deps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	store, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectTimeout, logger)
	if err != nil {
		return nil, err
	}

	d := &deps{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		store:   store,
		feed: gbfs.NewClient(gbfs.URLs{
			SystemInfo:    cfg.FeedSystemInfoURL,
			StationInfo:   cfg.FeedStationInfoURL,
			StationStatus: cfg.FeedStationStatusURL,
		}, cfg.FeedTimeout, logger, metrics),
	}
	if cfg.KafkaEnabled() {
		d.publisher = kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaSyncTopic, logger)
		logger.Info("sync log publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaSyncTopic)
	}
	return d, nil
}

// service builds the operation surface. tasks may be nil.
func (d *deps) service(tasks pipeline.TaskSubmitter) *pipeline.Service {
	opts := pipeline.Options{
		Location:        d.cfg.Location,
		DefaultDaysBack: d.cfg.ReliabilityDaysBack,
		BatchSize:       d.cfg.RecomputeBatchSize,
		BatchPause:      d.cfg.RecomputeBatchPause,
		Tasks:           tasks,
	}
	if d.publisher != nil {
		opts.Publisher = d.publisher
	}
	return pipeline.NewService(d.feed, d.store, opts, d.logger, d.metrics)
}

func (d *deps) close() {
	if d.publisher != nil {
		if err := d.publisher.Close(); err != nil {
			d.logger.Error("kafka publisher close error", "error", err)
		}
	}
	d.store.Close()
}

// resultView is the printed form of a run outcome.
type resultView struct {
	Status domain.SyncStatus `json:"status"`
	domain.Counts
	Errors []string `json:"errors,omitempty"`
}

// printResult writes r as JSON and turns a failed run into a command error.
func printResult(w io.Writer, r domain.Result) error {
	if err := printJSON(w, resultView{Status: r.Status(), Counts: r.Tally(), Errors: domain.ErrorMessages(r)}); err != nil {
		return err
	}
	if r.Status() == domain.StatusFailed {
		return fmt.Errorf("run failed: %w", pipeline.ResultError(r))
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
