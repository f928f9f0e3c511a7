package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/awe/internal/orchestrator"
)

// newDecideCmd creates the decide command
func newDecideCmd() *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "decide <task-id> <approve|reject|revise>",
		Short: "Resolve a waiting_manual checkpoint",
		Long: `Submit the author decision on a pending proposal.

  approve   re-queue the task with reason author_approved
  reject    cancel the task
  revise    re-queue; --note feeds the next consensus round`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.svc.SubmitAuthorDecision(args[0], orchestrator.Decision(args[1]), note)
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
	cmd.Flags().StringVar(&note, "note", "", "author note (recorded; used by revise)")
	return cmd
}
