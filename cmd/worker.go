package main

import (
	"fmt"

	"archiver/internal/app"
	"archiver/internal/metrics"
	"archiver/internal/temporal/activities"
	"archiver/internal/temporal/workflows"
	pkglog "archiver/pkg/log"
	"archiver/pkg/names"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/activity"
	temporalclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/contrib/envconfig"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Serve archive workflows and activities from a Temporal task queue",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd, false)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Listen != "" {
		m = metrics.New(prometheus.DefaultRegisterer)
		startMetricsServer(ctx, cfg.Metrics.Listen, logger)
	}
	a := app.New(cfg, logger, m)

	if d, err := a.Locator.Locate(ctx); err != nil {
		logger.Warn().Err(err).Msg("7-Zip not found, jobs will use the buffered backend")
	} else {
		logger.Info().Str("path", d.Path).Str("version", d.Version).Msg("Using 7-Zip")
	}

	clientOptions := envconfig.MustLoadDefaultClientOptions()
	clientOptions.Logger = pkglog.NewTemporalAdapter(logger)

	c, err := temporalclient.DialContext(ctx, clientOptions)
	if err != nil {
		return fmt.Errorf("unable to create Temporal client: %w", err)
	}
	defer c.Close()
	logger.Info().Str("namespace", clientOptions.Namespace).Str("queue", cfg.Worker.TaskQueue).Msg("Connected to Temporal")

	w := worker.New(c, cfg.Worker.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: cfg.Worker.MaxConcurrentActivities,
	})

	w.RegisterWorkflowWithOptions(workflows.ArchiveWorkflow, workflow.RegisterOptions{Name: names.WorkflowNameArchive})

	acts := activities.NewActivities(cfg, a, nil)
	w.RegisterActivityWithOptions(acts.ArchiveActivity, activity.RegisterOptions{Name: names.ActivityNameArchive})
	w.RegisterActivityWithOptions(acts.ProbeBinaryActivity, activity.RegisterOptions{Name: names.ActivityNameProbeBinary})
	w.RegisterActivityWithOptions(acts.GetFileMetadataActivity, activity.RegisterOptions{Name: names.ActivityNameGetFileMetadata})
	w.RegisterActivityWithOptions(acts.ArchiveUploadS3Activity, activity.RegisterOptions{Name: names.ActivityNameUploadS3})
	w.RegisterActivityWithOptions(acts.CleanupActivity, activity.RegisterOptions{Name: names.ActivityNameCleanup})

	stop := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(stop)
	}()

	// Start listening to the Task Queue.
	if err := w.Run(stop); err != nil {
		return fmt.Errorf("unable to start worker: %w", err)
	}
	a.Orchestrator.Wait()
	return nil
}
