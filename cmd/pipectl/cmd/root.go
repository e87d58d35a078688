package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// exitStatus carries the process exit code out of the subcommands:
// 0 success, 1 test failure, 124 aborted run, 2 setup failure.
var exitStatus int

var rootCmd = &cobra.Command{
	Use:   "pipectl",
	Short: "Pipectl runs a parameterized test pipeline against versioned environments",
	Long: `pipectl executes a reusable test pipeline: it provisions a versioned
execution environment, starts the auxiliary services the test suite depends
on, installs the package under test with its test extras, runs the
coverage-instrumented suite under a wall-clock ceiling, and reports the
verdict.

Common workflows:

  Run the suite against one environment version:
    pipectl run 3.11

  Run with a shorter ceiling and a custom artifact directory:
    pipectl run 3.11 --timeout 5m --output-dir ./artifacts

  List recent runs (requires DATABASE_URL):
    pipectl history --limit 10

Configuration is read from environment variables (PIPELINE_BACKEND,
IMAGE_REPOSITORY, SOURCE_DIR, TEST_TIMEOUT, DATABASE_URL, METRICS_PORT,
OTEL_COLLECTOR_ADDR); flags take precedence. Variables prefixed TESTPIPE_
bind to the matching flags.`,
	SilenceUsage: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 2
	}
	return exitStatus
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("backend", "", "environment backend: docker, exec or kubernetes")
	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))

	rootCmd.PersistentFlags().String("output-dir", "", "directory for log and coverage artifacts")
	viper.BindPFlag("output-dir", rootCmd.PersistentFlags().Lookup("output-dir"))
}

func initConfig() {
	// Read environment variables that match "TESTPIPE_VARNAME"
	viper.SetEnvPrefix("TESTPIPE")
	viper.AutomaticEnv()
}
