package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStartCmd creates the start command
func newStartCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "start [task-id]",
		Short: "Start a task",
		Long: `Start a queued task. The call runs the task synchronously through
consensus, the workflow rounds, and the gate, and prints the terminal state.

With --all, every queued task is started, bounded by the configured
concurrency limit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if all {
				return s.svc.StartQueued(cmd.Context())
			}
			if len(args) == 0 {
				return fmt.Errorf("task id required (or --all)")
			}

			t, err := s.svc.StartTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(t)
			}
			fmt.Printf("%s %s", t.ID, statusIcon(t.Status))
			if t.LastGateReason != "" {
				fmt.Printf(" (%s)", t.LastGateReason)
			}
			fmt.Println()
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "start every queued task")
	return cmd
}
