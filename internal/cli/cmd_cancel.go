package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCancelCmd creates the cancel command
func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Request cancellation of a task",
		Long: `Set the persistent cancel flag. A running task observes it at the
next phase boundary and terminates canceled; it does not interrupt an
agent invocation already in flight.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.svc.RequestCancel(args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(t)
			}
			fmt.Printf("%s cancel requested (status %s)\n", t.ID, t.Status)
			return nil
		},
	}
}
