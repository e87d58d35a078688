// Package pipeline composes a versioned execution environment, dependent
// background services, a bounded-time test run, and environment-variable
// wiring into one reusable, invocable job.
package pipeline

import (
	"time"

	"testpipe/internal/installer"
	"testpipe/internal/service"
)

// JobInput is the caller-supplied invocation input, validated before
// provisioning begins.
type JobInput struct {
	// VersionTag selects the execution environment (required, non-empty)
	VersionTag string
}

// Config is the job definition: everything about a run except the version
// tag. Fixed per job definition, passed at construction so differently
// configured jobs can coexist in one process.
type Config struct {
	// TestCommand is the coverage-instrumented test invocation
	TestCommand []string
	// ServiceSpecs declares the auxiliary services the suite depends on.
	// Host ports are exclusively owned by the running job; concurrent runs
	// on one host must use disjoint allocations.
	ServiceSpecs []service.Spec
	// Install describes how the package under test is installed
	Install installer.Spec
	// ExtraEnv is merged into the test process environment alongside the
	// per-service endpoint variables
	ExtraEnv map[string]string
	// Timeout is the wall-clock ceiling over the test run (default 15m)
	Timeout time.Duration
}

// DefaultConfig returns the shipped job definition: a pytest run with
// coverage against one MQTT broker on 1883, installing the "tests" extras,
// under a 15 minute ceiling.
func DefaultConfig() Config {
	return Config{
		TestCommand: []string{"pytest", "--cov"},
		ServiceSpecs: []service.Spec{
			{
				Name:   "mqtt-broker",
				Image:  "eclipse-mosquitto:1.6",
				Scheme: "mqtt",
				Ports:  []service.PortMapping{{HostPort: 1883, ContainerPort: 1883}},
			},
		},
		Install: installer.Spec{
			Extras: []string{"tests"},
		},
		Timeout: 15 * time.Minute,
	}
}
