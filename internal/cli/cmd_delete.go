package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newDeleteCmd creates the delete command
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <task-id>...",
		Aliases: []string{"rm"},
		Short:   "Delete tasks and their artifacts",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.svc.DeleteTasks(args)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d task(s)\n", n)
			return nil
		},
	}
}
