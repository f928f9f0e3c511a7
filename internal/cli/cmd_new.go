package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/awe/internal/task"
)

// newNewCmd creates the new command
func newNewCmd() *cobra.Command {
	var (
		description  string
		author       string
		reviewers    []string
		project      string
		mergeTarget  string
		sandboxMode  bool
		cleanup      bool
		maxRounds    int
		autoMerge    bool
		selfLoop     bool
		debateMode   bool
		streamMode   bool
		language     string
		repairMode   string
		memoryMode   string
		testCommand  string
		lintCommand  string
		evolveUntil  string
		evolutionLvl int
	)

	cmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create a task",
		Long: `Create a new task in the queued state.

Example:
  awe new "Fix login bug" --project . --author 'claude#lead' --reviewer 'codex#rev'
  awe new "Refactor parser" --project . --max-rounds 3 --test-command 'pytest -q'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession()
			if err != nil {
				return err
			}
			defer s.Close()

			if project == "" {
				project, _ = os.Getwd()
			}

			in := &task.Input{
				Title:                args[0],
				Description:          description,
				AuthorParticipant:    author,
				ReviewerParticipants: reviewers,
				ProjectPath:          project,
				MergeTargetPath:      mergeTarget,
				SandboxMode:          sandboxMode,
				SandboxCleanupOnPass: cleanup,
				EvolutionLevel:       evolutionLvl,
				Language:             task.Language(language),
				RepairMode:           task.RepairMode(repairMode),
				MemoryMode:           task.MemoryMode(memoryMode),
				StreamMode:           streamMode,
				DebateMode:           debateMode,
				SelfLoopMode:         boolToMode(selfLoop),
				AutoMerge:            autoMerge,
				MaxRounds:            maxRounds,
				TestCommand:          testCommand,
				LintCommand:          lintCommand,
			}
			if evolveUntil != "" {
				deadline, perr := time.Parse(time.RFC3339, evolveUntil)
				if perr != nil {
					return fmt.Errorf("parse --evolve-until: %w", perr)
				}
				in.EvolveUntil = &deadline
			}

			t, err := s.svc.CreateTask(in)
			if err != nil {
				return err
			}
			if jsonOut {
				return printJSON(t)
			}
			fmt.Printf("Created %s (%s)\n", t.ID, t.Title)
			fmt.Printf("Start it with: awe start %s\n", t.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&author, "author", "claude#author", "author participant (provider#alias)")
	cmd.Flags().StringSliceVar(&reviewers, "reviewer", []string{"codex#reviewer"}, "reviewer participant (repeatable)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "project directory (default: cwd)")
	cmd.Flags().StringVar(&mergeTarget, "merge-target", "", "merge target directory")
	cmd.Flags().BoolVar(&sandboxMode, "sandbox", false, "run in a sandbox copy of the project")
	cmd.Flags().BoolVar(&cleanup, "cleanup-on-pass", false, "remove generated sandbox after pass")
	cmd.Flags().IntVar(&maxRounds, "max-rounds", 1, "maximum workflow rounds")
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "promote changes to merge target on pass")
	cmd.Flags().BoolVar(&selfLoop, "self-loop", false, "auto-approve the consensus proposal")
	cmd.Flags().BoolVar(&debateMode, "debate", false, "run a reviewer debate before each round")
	cmd.Flags().BoolVar(&streamMode, "stream", false, "log agent output as it streams")
	cmd.Flags().StringVar(&language, "language", "", "prompt language (en, zh)")
	cmd.Flags().StringVar(&repairMode, "repair-mode", "", "repair mode (minimal, balanced, structural)")
	cmd.Flags().StringVar(&memoryMode, "memory", "", "memory mode (off, basic, strict)")
	cmd.Flags().StringVar(&testCommand, "test-command", "", "verification test command")
	cmd.Flags().StringVar(&lintCommand, "lint-command", "", "verification lint command")
	cmd.Flags().StringVar(&evolveUntil, "evolve-until", "", "deadline (RFC3339); supersedes max rounds")
	cmd.Flags().IntVar(&evolutionLvl, "evolution-level", 0, "evolution level (0-3)")
	return cmd
}

func boolToMode(b bool) int {
	if b {
		return 1
	}
	return 0
}
