package workflow

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/awe/internal/task"
)

// promptBuilder renders stage prompts. The static instruction block comes
// first so the prompt-cache prefix stays stable; volatile context follows a
// Context: marker.
type promptBuilder struct {
	task *task.Task
	// hint carries the most recent strategy-shift guidance, cleared after
	// it is consumed by a discussion prompt.
	hint string
}

func (b *promptBuilder) languageLine() string {
	if b.task.Language == task.LanguageChinese {
		return "Respond in Chinese (zh)."
	}
	return "Respond in English (en)."
}

func (b *promptBuilder) controlContract() string {
	return `End your response with a single JSON object:
{"verdict": "NO_BLOCKER|BLOCKER|UNKNOWN", "next_action": "pass|retry|stop"}`
}

func (b *promptBuilder) header(role string) string {
	var s strings.Builder
	fmt.Fprintf(&s, "You are the %s for a code-modification task.\n", role)
	s.WriteString(b.languageLine())
	s.WriteString("\n")
	fmt.Fprintf(&s, "Repair mode: %s.\n", b.task.RepairMode)
	s.WriteString(b.controlContract())
	s.WriteString("\n")
	return s.String()
}

// Discussion builds the author's round-opening prompt. From round 2 on it
// names the previous gate failure; a pending strategy hint is injected once.
func (b *promptBuilder) Discussion(round int, prevGateReason, debateContext string) string {
	var s strings.Builder
	s.WriteString(b.header("author"))
	s.WriteString("Plan the next change for this task before implementing.\n")
	s.WriteString("\nContext:\n")
	fmt.Fprintf(&s, "Task: %s\n", b.task.Title)
	if b.task.Description != "" {
		fmt.Fprintf(&s, "Description: %s\n", b.task.Description)
	}
	fmt.Fprintf(&s, "Round: %d of %d\n", round, b.task.MaxRounds)
	if round > 1 && prevGateReason != "" {
		fmt.Fprintf(&s, "Previous gate failure reason: %s\n", prevGateReason)
	}
	if b.hint != "" {
		fmt.Fprintf(&s, "Strategy guidance: %s\n", b.hint)
		b.hint = ""
	}
	if debateContext != "" {
		fmt.Fprintf(&s, "Reviewer debate notes:\n%s\n", debateContext)
	}
	return s.String()
}

// Implementation builds the author's implementation prompt over the
// discussion output.
func (b *promptBuilder) Implementation(round int, discussion string) string {
	var s strings.Builder
	s.WriteString(b.header("author"))
	s.WriteString("Apply the agreed plan to the workspace now. Cite every file you change as a repo-relative path.\n")
	s.WriteString("\nContext:\n")
	fmt.Fprintf(&s, "Task: %s\n", b.task.Title)
	fmt.Fprintf(&s, "Round: %d\n", round)
	fmt.Fprintf(&s, "Plan:\n%s\n", discussion)
	return s.String()
}

// Review builds a reviewer prompt over the implementation output.
func (b *promptBuilder) Review(round int, implementation string) string {
	var s strings.Builder
	s.WriteString(b.header("reviewer"))
	s.WriteString("Review the implementation below. Report BLOCKER only for defects that must be fixed before merge.\n")
	s.WriteString("\nContext:\n")
	fmt.Fprintf(&s, "Task: %s\n", b.task.Title)
	fmt.Fprintf(&s, "Round: %d\n", round)
	fmt.Fprintf(&s, "Implementation report:\n%s\n", implementation)
	return s.String()
}

// Debate builds the pre-discussion debate prompt for a reviewer.
func (b *promptBuilder) Debate(round int, prevGateReason string) string {
	var s strings.Builder
	s.WriteString(b.header("reviewer"))
	s.WriteString("Before the author plans this round, state the risks and constraints you want the plan to address.\n")
	s.WriteString("\nContext:\n")
	fmt.Fprintf(&s, "Task: %s\n", b.task.Title)
	fmt.Fprintf(&s, "Round: %d\n", round)
	if prevGateReason != "" {
		fmt.Fprintf(&s, "Previous gate failure reason: %s\n", prevGateReason)
	}
	return s.String()
}

// SetHint stores strategy-shift guidance for the next discussion prompt.
func (b *promptBuilder) SetHint(hint string) {
	b.hint = hint
}
