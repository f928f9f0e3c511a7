package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// newPromoteCmd creates the promote command
func newPromoteCmd() *cobra.Command {
	var target string

	cmd := &cobra.Command{
		Use:   "promote <task-id> <round>",
		Short: "Promote a round snapshot into the merge target",
		Long: `Merge the chosen round's snapshot into a target directory. Only
finished multi-round tasks without auto-merge can promote, and the
promotion guard (branch allowlist, clean worktree) still applies.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			round, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parse round: %w", err)
			}

			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			summary, err := s.svc.PromoteSelectedRound(cmd.Context(), args[0], round, target)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(summary)
			}
			fmt.Printf("Promoted round %d: %d applied, %d deleted\n", round, summary.Applied, summary.Deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "target directory (default: stored merge target, then project)")
	return cmd
}
