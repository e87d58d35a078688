package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"testpipe/internal/store/postgres"
)

var (
	historyLimit  int
	historyOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		databaseURL := os.Getenv("DATABASE_URL")
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for run history")
		}

		db, err := postgres.New(cmd.Context(), databaseURL)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		defer db.Close()

		runs, err := db.ListRuns(cmd.Context(), historyLimit, historyOffset)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}

		if len(runs) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tVERSION\tOUTCOME\tEXIT\tDURATION\tFINISHED")
		for _, run := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				run.ID, run.VersionTag, run.Outcome, run.ExitCode,
				run.FinishedAt.Sub(run.StartedAt).Round(time.Second),
				run.FinishedAt.Format(time.RFC3339),
			)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum runs to list")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "runs to skip")
	rootCmd.AddCommand(historyCmd)
}
