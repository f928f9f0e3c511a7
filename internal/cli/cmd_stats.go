package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/awe/internal/db"
	"github.com/randalmurphal/awe/internal/stats"
)

// newStatsCmd creates the stats command
func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show engine statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			repo := db.NewRepository(s.db, nil)
			summary, err := stats.Collect(repo)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(summary)
			}

			fmt.Printf("Tasks:      %d (%d running)\n", summary.TotalTasks, summary.Running)
			statuses := make([]string, 0, len(summary.ByStatus))
			for k := range summary.ByStatus {
				statuses = append(statuses, k)
			}
			sort.Strings(statuses)
			for _, k := range statuses {
				fmt.Printf("  %-15s %d\n", k, summary.ByStatus[k])
			}
			fmt.Printf("Pass rate:  %.0f%%\n", summary.PassRate*100)
			fmt.Printf("Avg rounds: %.1f\n", summary.AvgRounds)
			if summary.TopGateFailure != "" {
				fmt.Printf("Top gate failure: %s (%d)\n",
					summary.TopGateFailure, summary.GateFailures[summary.TopGateFailure])
			}
			return nil
		},
	}
}
