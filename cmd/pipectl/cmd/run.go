package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"testpipe/internal/config"
	"testpipe/internal/environment"
	"testpipe/internal/installer"
	"testpipe/internal/logger"
	"testpipe/internal/observability"
	"testpipe/internal/pipeline"
	"testpipe/internal/reporter"
	"testpipe/internal/runner"
	"testpipe/internal/service"
	"testpipe/internal/store"
	"testpipe/internal/store/postgres"
)

var runTimeout time.Duration

var runCmd = &cobra.Command{
	Use:   "run [version-tag]",
	Short: "Execute the test pipeline against one environment version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock ceiling over the test run (default 15m)")
	rootCmd.AddCommand(runCmd)
}

func runPipeline(ctx context.Context, versionTag string) error {
	cfg, err := config.Load()
	if err != nil {
		exitStatus = 2
		return err
	}
	if v := viper.GetString("backend"); v != "" {
		cfg.Backend = config.Backend(v)
	}
	if v := viper.GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}
	if runTimeout > 0 {
		cfg.TestTimeout = runTimeout
	}

	log := logger.New()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTELCollectorAddr != "" {
		shutdownTracer, err := observability.InitTracer(ctx, "testpipe", cfg.OTELCollectorAddr)
		if err != nil {
			exitStatus = 2
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error("Failed to shutdown tracer", "error", err)
			}
		}()
	}

	var metrics *observability.Metrics
	if cfg.MetricsPort > 0 {
		handler, shutdownMetrics, err := observability.InitMetrics()
		if err != nil {
			exitStatus = 2
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		defer func() {
			if err := shutdownMetrics(context.Background()); err != nil {
				log.Error("Failed to shutdown metrics", "error", err)
			}
		}()

		metrics, err = observability.NewMetrics()
		if err != nil {
			exitStatus = 2
			return fmt.Errorf("failed to create metric instruments: %w", err)
		}

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", handler)
			addr := fmt.Sprintf(":%d", cfg.MetricsPort)
			log.Info("Metrics listening", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	provisioner, err := buildProvisioner(cfg)
	if err != nil {
		exitStatus = 2
		return err
	}

	services, err := service.NewManager(log, service.ProbeConfig{})
	if err != nil {
		exitStatus = 2
		return fmt.Errorf("failed to create service manager: %w", err)
	}

	jobCfg := pipeline.DefaultConfig()
	jobCfg.Timeout = cfg.TestTimeout

	p := pipeline.New(jobCfg, pipeline.Deps{
		Provisioner: provisioner,
		Services:    services,
		Installer:   installer.New(log),
		Runner:      runner.New(log, runner.Config{CoveragePath: cfg.CoveragePath}),
		Logger:      log,
		Metrics:     metrics,
	})

	result, err := p.Execute(ctx, pipeline.JobInput{VersionTag: versionTag})
	if err != nil {
		log.Error("Pipeline failed during setup",
			"stage", string(pipeline.StageOf(err)), "error", err)
		exitStatus = 2
		return err
	}

	status := reporter.New(log, cfg.OutputDir).Report(ctx, result)

	if cfg.DatabaseURL != "" {
		// History is best effort: a down database never changes the verdict
		if err := persistRun(ctx, cfg.DatabaseURL, result, status); err != nil {
			log.Error("Failed to record run history", "error", err)
		}
	}

	exitStatus = status.ExitCode
	return nil
}

func buildProvisioner(cfg *config.Config) (environment.Provisioner, error) {
	switch cfg.Backend {
	case config.BackendExec:
		return environment.NewExecProvisioner(""), nil
	case config.BackendKubernetes:
		return environment.NewKubernetesProvisioner(environment.KubernetesConfig{
			ImageRepository: cfg.ImageRepository,
			Namespace:       cfg.KubeNamespace,
		})
	default:
		return environment.NewDockerProvisioner(environment.DockerConfig{
			ImageRepository: cfg.ImageRepository,
			SourceDir:       cfg.SourceDir,
		})
	}
}

func persistRun(ctx context.Context, databaseURL string, result *pipeline.JobResult, status reporter.Status) error {
	db, err := postgres.New(ctx, databaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	outcome := store.OutcomeSuccess
	switch status.Reason {
	case reporter.ReasonTestFailure:
		outcome = store.OutcomeTestFailure
	case reporter.ReasonAborted:
		outcome = store.OutcomeAborted
	}

	return db.RecordRun(ctx, &store.Run{
		ID:         result.RunID,
		VersionTag: result.VersionTag,
		ExitCode:   result.ExitCode,
		TimedOut:   result.TimedOut,
		Outcome:    outcome,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	})
}
