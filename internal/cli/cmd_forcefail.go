package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newForceFailCmd creates the force-fail command
func newForceFailCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "force-fail <task-id>",
		Short: "Force a task into failed_system",
		Long: `Force-fail a task. Passed and canceled tasks are left untouched.
A running task loses its terminal race and lands in failed_system.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.svc.ForceFailTask(args[0], reason)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(t)
			}
			fmt.Printf("%s %s (%s)\n", t.ID, statusIcon(t.Status), t.LastGateReason)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "forced by operator", "failure reason")
	return cmd
}
