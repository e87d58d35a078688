// Package config handles environment variable loading for the pipeline
// backend, database strings, timeouts, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Backend selects where job environments run.
type Backend string

const (
	BackendDocker     Backend = "docker"
	BackendExec       Backend = "exec"
	BackendKubernetes Backend = "kubernetes"
)

// Config holds all configuration values for the application.
type Config struct {
	// Backend selects the environment provisioner
	Backend Backend

	// ImageRepository is composed with the version tag to form the image ref
	ImageRepository string

	// SourceDir holds the package under test, mounted into the environment
	SourceDir string

	// OutputDir receives log and coverage artifacts per run
	OutputDir string

	// CoveragePath is where the test command leaves its coverage artifact,
	// relative to the workspace
	CoveragePath string

	// TestTimeout is the wall-clock ceiling over a test run
	TestTimeout time.Duration

	// DatabaseURL enables run-history persistence when set
	DatabaseURL string

	// MetricsPort serves Prometheus metrics when non-zero
	MetricsPort int

	// OTELCollectorAddr enables trace export when set
	OTELCollectorAddr string

	// KubeNamespace is the namespace for the kubernetes backend
	KubeNamespace string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	backend := Backend(os.Getenv("PIPELINE_BACKEND"))
	if backend == "" {
		backend = BackendDocker
	}
	switch backend {
	case BackendDocker, BackendExec, BackendKubernetes:
	default:
		return nil, fmt.Errorf("invalid PIPELINE_BACKEND %q: must be docker, exec or kubernetes", backend)
	}

	imageRepo := os.Getenv("IMAGE_REPOSITORY")
	if imageRepo == "" {
		imageRepo = "python"
	}

	sourceDir := os.Getenv("SOURCE_DIR")
	if sourceDir == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source dir: %w", err)
		}
		sourceDir = dir
	}

	outputDir := os.Getenv("OUTPUT_DIR")
	if outputDir == "" {
		outputDir = "artifacts"
	}

	coveragePath := os.Getenv("COVERAGE_PATH")
	if coveragePath == "" {
		coveragePath = ".coverage"
	}

	timeout := 15 * time.Minute // Default
	if timeoutStr := os.Getenv("TEST_TIMEOUT"); timeoutStr != "" {
		d, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("invalid TEST_TIMEOUT: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid TEST_TIMEOUT: must be positive")
		}
		timeout = d
	}

	metricsPort := 0
	if portStr := os.Getenv("METRICS_PORT"); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid METRICS_PORT: %w", err)
		}
		metricsPort = p
	}

	namespace := os.Getenv("KUBE_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}

	return &Config{
		Backend:           backend,
		ImageRepository:   imageRepo,
		SourceDir:         sourceDir,
		OutputDir:         outputDir,
		CoveragePath:      coveragePath,
		TestTimeout:       timeout,
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		MetricsPort:       metricsPort,
		OTELCollectorAddr: os.Getenv("OTEL_COLLECTOR_ADDR"),
		KubeNamespace:     namespace,
	}, nil
}
