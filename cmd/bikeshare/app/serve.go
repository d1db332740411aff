package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	httpadapter "github.com/empi91/Bike-Sharing-Analytics/internal/adapter/http"
	"github.com/empi91/Bike-Sharing-Analytics/internal/adapter/postgres"
	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/pipeline"
	"github.com/empi91/Bike-Sharing-Analytics/internal/scheduler"
	"github.com/empi91/Bike-Sharing-Analytics/internal/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP server",
		Long: `Start the collector: the station status collection job, the weekly maintenance
job, the worker pool for hourly average recomputes and the HTTP server.`,
		RunE: runServe,
	}
	cmd.Flags().Bool("migrate", false, "Apply pending database migrations before starting")
	cmd.Flags().Bool("sync-stations", true, "Sync the station directory once before the first collection")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	migrateFirst, err := cmd.Flags().GetBool("migrate")
	if err != nil {
		return err
	}
	syncFirst, err := cmd.Flags().GetBool("sync-stations")
	if err != nil {
		return err
	}

	d, err := loadDeps(ctx)
	if err != nil {
		return err
	}
	defer d.close()
	cfg, logger := d.cfg, d.logger

	if migrateFirst {
		if err := postgres.MigrateUp(cfg.DatabaseURL); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	clock := clockwork.NewRealClock()
	pool := worker.New(cfg.WorkerCount, cfg.WorkerQueueDepth, clock, logger, d.metrics)
	pool.Start(ctx)
	svc := d.service(pool)

	if syncFirst {
		r := svc.SyncStations(ctx, false)
		if r.Status() == domain.StatusFailed {
			logger.Warn("initial station sync failed, continuing", "error", pipeline.ResultError(r))
		}
	}

	sched, err := newScheduler(d, svc, clock)
	if err != nil {
		return err
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, svc, sched, logger, d.metrics)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := sched.Stop(); err != nil {
		logger.Error("scheduler stop error", "error", err)
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		logger.Error("worker pool stop error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// newScheduler registers the collection and maintenance jobs. Collection also
// fires once at start.
func newScheduler(d *deps, svc *pipeline.Service, clock clockwork.Clock) (*scheduler.Scheduler, error) {
	maintenance, err := scheduler.Cron(d.cfg.MaintenanceSchedule, d.cfg.Location)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(clock, d.logger, d.metrics,
		scheduler.WithInitialRun(scheduler.JobStatusCollection))

	jobs := []scheduler.Job{
		{
			ID:      scheduler.JobStatusCollection,
			Name:    "Station status collection",
			Trigger: scheduler.Every(d.cfg.SyncInterval),
			Run:     svc.Collect,
		},
		{
			ID:      scheduler.JobDataMaintenance,
			Name:    "Weekly data maintenance",
			Trigger: maintenance,
			Run:     svc.RunMaintenance,
		},
	}
	for _, job := range jobs {
		if err := sched.Register(job); err != nil {
			return nil, err
		}
	}
	return sched, nil
}
