package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"testpipe/internal/environment"
	"testpipe/internal/installer"
	"testpipe/internal/logger"
	"testpipe/internal/observability"
	"testpipe/internal/service"
)

// ServiceStarter starts the declared auxiliary services and guarantees
// symmetric teardown of everything it started.
type ServiceStarter interface {
	StartAll(ctx context.Context, specs []service.Spec) (map[string]service.ConnectionInfo, error)
	StopAll(ctx context.Context) error
}

// Installer installs the package under test into the environment.
type Installer interface {
	Install(ctx context.Context, env environment.Environment, spec installer.Spec) error
}

// TestRunner executes the test command under the wall-clock ceiling.
type TestRunner interface {
	Run(ctx context.Context, env environment.Environment, command []string, envVars map[string]string, timeout time.Duration) (*JobResult, error)
}

// Deps are the stage implementations a Pipeline is assembled from.
type Deps struct {
	Provisioner environment.Provisioner
	Services    ServiceStarter
	Installer   Installer
	Runner      TestRunner
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// Pipeline executes one job: provision, start services, install, run,
// with uniform teardown on every exit path.
type Pipeline struct {
	config      Config
	provisioner environment.Provisioner
	services    ServiceStarter
	installer   Installer
	runner      TestRunner
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New assembles a pipeline from a job definition and stage implementations.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &Pipeline{
		config:      cfg,
		provisioner: deps.Provisioner,
		services:    deps.Services,
		installer:   deps.Installer,
		runner:      deps.Runner,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
}

// Execute runs the job once. Setup failures (provision, services, install)
// return a StageError and no JobResult; a completed test run returns a
// JobResult whether the tests passed, failed, or timed out.
func (p *Pipeline) Execute(ctx context.Context, input JobInput) (*JobResult, error) {
	runID := uuid.New()
	ctx = logger.WithRunID(ctx, runID.String())
	log := logger.FromContext(ctx, p.logger)

	tracer := otel.Tracer("testpipe")
	ctx, span := tracer.Start(ctx, "pipeline_run",
		trace.WithAttributes(
			attribute.String("run.id", runID.String()),
			attribute.String("version.tag", input.VersionTag),
		),
	)
	defer span.End()

	td := newTeardownStack()
	defer td.unwind(log)

	// Fail fast on malformed input before any resource is acquired.
	if err := environment.ValidateVersionTag(input.VersionTag); err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageProvision, Err: err}
	}

	log.Info("Provisioning environment", "version_tag", input.VersionTag)
	stageStart := time.Now()
	env, err := p.provisioner.Provision(ctx, input.VersionTag)
	if err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageProvision, Err: err}
	}
	td.push("environment", env.Teardown)
	p.metrics.RecordStage(ctx, string(StageProvision), time.Since(stageStart).Seconds())
	span.SetAttributes(attribute.String("environment.ref", env.Ref()))

	// Register service teardown before starting: a partial startup failure
	// must still release whatever came up.
	td.push("services", p.services.StopAll)

	log.Info("Starting services", "count", len(p.config.ServiceSpecs))
	stageStart = time.Now()
	conns, err := p.services.StartAll(ctx, p.config.ServiceSpecs)
	if err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageServices, Err: err}
	}
	p.metrics.RecordStage(ctx, string(StageServices), time.Since(stageStart).Seconds())

	// The variable set must be complete before the runner starts.
	envVars, err := BuildEnv(conns, p.config.ExtraEnv)
	if err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageConfig, Err: err}
	}

	log.Info("Installing package under test")
	stageStart = time.Now()
	if err := p.installer.Install(ctx, env, p.config.Install); err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageInstall, Err: err}
	}
	p.metrics.RecordStage(ctx, string(StageInstall), time.Since(stageStart).Seconds())

	log.Info("Running tests", "timeout", p.config.Timeout)
	stageStart = time.Now()
	result, err := p.runner.Run(ctx, env, p.config.TestCommand, envVars, p.config.Timeout)
	if err != nil {
		span.RecordError(err)
		return nil, &StageError{Stage: StageRun, Err: err}
	}
	p.metrics.RecordStage(ctx, string(StageRun), time.Since(stageStart).Seconds())

	result.RunID = runID
	result.VersionTag = input.VersionTag

	outcome := "success"
	switch {
	case result.TimedOut:
		outcome = "aborted"
	case result.ExitCode != 0:
		outcome = "test_failure"
	}
	span.SetAttributes(
		attribute.Int("exit_code", result.ExitCode),
		attribute.Bool("timed_out", result.TimedOut),
	)
	p.metrics.RecordRunCompleted(ctx, input.VersionTag, outcome)
	log.Info("Run complete", "exit_code", result.ExitCode, "timed_out", result.TimedOut)

	return result, nil
}
