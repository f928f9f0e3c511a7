package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newShowCmd creates the show command
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.svc.GetTask(args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("task %s not found", args[0])
			}
			if jsonOut {
				return printJSON(t)
			}

			fmt.Printf("ID:         %s\n", t.ID)
			fmt.Printf("Title:      %s\n", t.Title)
			fmt.Printf("Status:     %s\n", statusIcon(t.Status))
			if t.LastGateReason != "" {
				fmt.Printf("Reason:     %s\n", t.LastGateReason)
			}
			fmt.Printf("Rounds:     %d/%d\n", t.RoundsCompleted, t.MaxRounds)
			fmt.Printf("Author:     %s\n", t.AuthorParticipant)
			for _, r := range t.ReviewerParticipants {
				fmt.Printf("Reviewer:   %s\n", r)
			}
			fmt.Printf("Workspace:  %s\n", t.WorkspacePath)
			if t.SandboxMode {
				fmt.Printf("Sandbox:    %s (generated=%v)\n", t.SandboxPath, t.SandboxGenerated)
			}
			if t.MergeTargetPath != "" {
				fmt.Printf("Target:     %s\n", t.MergeTargetPath)
			}
			if t.TestCommand != "" {
				fmt.Printf("Tests:      %s\n", t.TestCommand)
			}
			if t.LintCommand != "" {
				fmt.Printf("Lint:       %s\n", t.LintCommand)
			}
			fmt.Printf("Created:    %s\n", t.CreatedAt.Format("2006-01-02 15:04:05"))
			fmt.Printf("Updated:    %s\n", t.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}
