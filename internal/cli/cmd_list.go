package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// newListCmd creates the list command
func newListCmd() *cobra.Command {
	var limit int
	var status string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			tasks, err := s.svc.ListTasks(limit)
			if err != nil {
				return err
			}
			if status != "" {
				filtered := tasks[:0]
				for _, t := range tasks {
					if string(t.Status) == status {
						filtered = append(filtered, t)
					}
				}
				tasks = filtered
			}
			if jsonOut {
				return printJSON(tasks)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks found. Create one with: awe new \"Your task\"")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tREASON\tROUNDS\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					t.ID, statusIcon(t.Status), t.LastGateReason,
					t.RoundsCompleted, t.MaxRounds, truncate(t.Title, 40))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "maximum tasks to list (0 = all)")
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}
