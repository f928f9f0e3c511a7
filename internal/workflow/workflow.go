// Package workflow runs a task through its round loop: debate, discussion,
// implementation, review, verification, pre-completion checks, and gate
// evaluation. The engine never touches repository state; it reports through
// an injected event callback and polls an injected cancellation predicate.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/command"
	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/runner"
	"github.com/randalmurphal/awe/internal/task"
)

// EmitFunc reports an engine event. round 0 means no round association.
type EmitFunc func(typ events.Type, round int, payload map[string]any)

// CancelCheck reports whether cancellation has been requested.
type CancelCheck func() bool

// CommandRunner executes a verification command. Satisfied by
// *command.Executor and by stubs in tests.
type CommandRunner interface {
	Run(ctx context.Context, commandLine, workDir string, timeout time.Duration) command.Result
}

// RunResult is the engine's terminal outcome.
type RunResult struct {
	Status     task.Status
	Rounds     int
	GateReason string
	// Checklist is the last round's pre-completion evaluation.
	Checklist Checklist
}

// Engine drives the per-round state machine for one task at a time.
type Engine struct {
	agents   *AgentCaller
	commands CommandRunner
	store    *artifact.Store
	logger   *slog.Logger
}

func NewEngine(agents *AgentCaller, commands CommandRunner, store *artifact.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{agents: agents, commands: commands, store: store, logger: logger}
}

// Run executes rounds until pass, terminal failure, cancellation, or
// exhaustion. Deadline mode (evolve_until set) supersedes max_rounds.
func (e *Engine) Run(ctx context.Context, t *task.Task, emit EmitFunc, canceled CancelCheck) RunResult {
	prompts := &promptBuilder{task: t}
	tracker := &progressTracker{}
	probe := newCacheProbe()

	var recorder *roundRecorder
	if t.MaxRounds > 1 && !t.AutoMerge && e.store != nil {
		recorder = newRoundRecorder(e.store, t.ID, t.WorkspacePath)
		if err := recorder.CaptureBaseline(); err != nil {
			e.logger.Warn("baseline snapshot failed", "task_id", t.ID, "error", err)
			emit(events.RoundArtifactError, 0, map[string]any{"error": err.Error()})
			recorder = nil
		}
	}

	deadlineMode := t.EvolveUntil != nil
	prevGateReason := t.LastGateReason
	lastReason := ""
	round := 0
	for {
		round++

		if canceled() {
			emit(events.Canceled, round, map[string]any{"reason": "canceled"})
			return RunResult{Status: task.StatusCanceled, Rounds: round - 1, GateReason: "canceled"}
		}
		if deadlineMode && time.Now().After(*t.EvolveUntil) {
			emit(events.DeadlineReached, round, map[string]any{"deadline": t.EvolveUntil})
			return RunResult{Status: task.StatusCanceled, Rounds: round - 1, GateReason: ReasonDeadlineReached}
		}
		if !deadlineMode && round > t.MaxRounds {
			return RunResult{Status: task.StatusFailedGate, Rounds: round - 1, GateReason: lastReason}
		}

		emit(events.RoundStarted, round, map[string]any{"round": round})
		res := e.runRound(ctx, t, round, prevGateReason, prompts, probe, emit)

		if recorder != nil {
			diff, err := recorder.CaptureRound(round)
			if err != nil {
				emit(events.RoundArtifactError, round, map[string]any{"error": err.Error()})
			} else {
				emit(events.RoundArtifactReady, round, map[string]any{
					"added": len(diff.Added), "modified": len(diff.Modified), "deleted": len(diff.Deleted),
				})
			}
		}

		if res.passed {
			emit(events.GatePassed, round, map[string]any{"reason": ReasonPassed})
			return RunResult{Status: task.StatusPassed, Rounds: round, GateReason: ReasonPassed, Checklist: res.checklist}
		}

		emit(events.GateFailed, round, map[string]any{"reason": res.reason})
		lastReason = res.reason
		prevGateReason = res.reason

		shift, hint, terminal := tracker.observe(roundSignals{
			GateReason:     res.reason,
			Implementation: res.implementation,
			Reviews:        res.reviews,
			TestsOK:        res.checklist.TestsOK,
			LintOK:         res.checklist.LintOK,
			VerifyReason:   res.checklist.Reason,
		})
		if shift {
			emit(events.StrategyShifted, round, map[string]any{"reason": res.reason, "hint": hint})
			prompts.SetHint(hint)
		}
		if terminal {
			emit(events.GateFailed, round, map[string]any{"reason": ReasonLoopNoProgress})
			return RunResult{Status: task.StatusFailedGate, Rounds: round, GateReason: ReasonLoopNoProgress, Checklist: res.checklist}
		}
		if !deadlineMode && round >= t.MaxRounds {
			return RunResult{Status: task.StatusFailedGate, Rounds: round, GateReason: res.reason, Checklist: res.checklist}
		}
	}
}

// roundResult is the internal outcome of one round.
type roundResult struct {
	passed         bool
	reason         string
	implementation string
	reviews        string
	checklist      Checklist
}

func (e *Engine) runRound(ctx context.Context, t *task.Task, round int, prevGateReason string, prompts *promptBuilder, probe *cacheProbe, emit EmitFunc) roundResult {
	// Debate precheck
	debateContext := ""
	if t.DebateMode && len(t.Reviewers()) > 0 {
		var ok bool
		debateContext, ok = e.runDebate(ctx, t, round, prevGateReason, prompts, probe, emit)
		if !ok {
			return roundResult{reason: ReasonDebateUnavailable}
		}
	}

	// Discussion
	emit(events.DiscussionStarted, round, nil)
	author := t.Author()
	discussionPrompt := prompts.Discussion(round, prevGateReason, debateContext)
	discussion, err := e.invoke(ctx, author, task.PhaseDiscussion, "discussion", discussionPrompt, probe, round, emit)
	if err != nil {
		reason := string(errors.CodeOf(err))
		emit(events.Discussion, round, map[string]any{"error": err.Error(), "stage": "discussion"})
		return roundResult{reason: reason}
	}
	emit(events.Discussion, round, map[string]any{"participant": author.String()})
	e.appendDiscussion(t.ID, "author", round, discussion.Output)

	// Implementation
	emit(events.ImplementationStarted, round, nil)
	implPrompt := prompts.Implementation(round, discussion.Output)
	impl, err := e.invoke(ctx, author, task.PhaseImplementation, "implementation", implPrompt, probe, round, emit)
	if err != nil {
		reason := string(errors.CodeOf(err))
		emit(events.Implementation, round, map[string]any{"error": err.Error(), "stage": "implementation"})
		return roundResult{reason: reason}
	}
	emit(events.Implementation, round, map[string]any{"participant": author.String()})

	// Review
	emit(events.ReviewStarted, round, nil)
	verdicts := make([]provider.Verdict, 0, len(t.Reviewers()))
	var reviewTexts []string
	for _, rev := range t.Reviewers() {
		reviewPrompt := prompts.Review(round, impl.Output)
		res, err := e.invoke(ctx, rev, task.PhaseReview, "review", reviewPrompt, probe, round, emit)
		if err != nil {
			// reviewer failures degrade and the round continues
			synthetic := fmt.Sprintf("[review_error] %v", err)
			emit(events.ReviewError, round, map[string]any{
				"participant": rev.String(), "error": err.Error(),
			})
			verdicts = append(verdicts, provider.VerdictUnknown)
			reviewTexts = append(reviewTexts, synthetic)
			continue
		}
		emit(events.Review, round, map[string]any{
			"participant": rev.String(), "verdict": res.Verdict,
		})
		verdicts = append(verdicts, res.Verdict)
		reviewTexts = append(reviewTexts, res.Output)
		e.appendDiscussion(t.ID, "reviewer", round, res.Output)
	}

	// Verify
	emit(events.VerificationStarted, round, nil)
	cmdTimeout := t.PhaseTimeout(task.PhaseCommand, defaultPhaseTimeout)
	testRes := e.runVerify(ctx, t.TestCommand, t.WorkspacePath, cmdTimeout)
	lintRes := e.runVerify(ctx, t.LintCommand, t.WorkspacePath, cmdTimeout)
	emit(events.Verification, round, map[string]any{
		"tests_ok": testRes.OK, "lint_ok": lintRes.OK,
		"test_returncode": testRes.Returncode, "lint_returncode": lintRes.Returncode,
	})

	// Pre-completion checklist
	evidenceText := strings.Join(append([]string{
		impl.Output, testRes.Stdout, testRes.Stderr, lintRes.Stdout, lintRes.Stderr,
	}, reviewTexts...), "\n")
	evidence := ExtractEvidencePaths(evidenceText, t.WorkspacePath)
	checklist := EvaluateChecklist(
		t.TestCommand != "", t.LintCommand != "", true,
		testRes.OK, lintRes.OK, evidence)
	emit(events.PrecompletionChecklist, round, map[string]any{
		"passed": checklist.Passed, "reason": checklist.Reason,
		"evidence_paths": checklist.EvidencePaths,
	})
	if e.store != nil {
		bundle := map[string]any{"round": round, "checklist": checklist}
		if err := e.store.WriteArtifact(t.ID, "evidence_bundle", bundle); err != nil {
			e.logger.Warn("evidence bundle write failed", "task_id", t.ID, "error", err)
		} else {
			emit(events.EvidenceBundleReady, round, map[string]any{"reason": checklist.Reason})
		}
	}

	reviews := strings.Join(reviewTexts, "\n")
	if !checklist.Passed {
		emit(events.PrecompletionGuardFailed, round, map[string]any{"reason": checklist.Reason})
		return roundResult{reason: checklist.Reason, implementation: impl.Output, reviews: reviews, checklist: checklist}
	}

	// Architecture audit
	if mode := AuditModeFromEnv(); mode != task.AuditOff {
		findings, err := RunArchitectureAudit(t.WorkspacePath)
		if err != nil {
			e.logger.Warn("architecture audit failed", "task_id", t.ID, "error", err)
		}
		failed := len(findings) > 0
		payload := map[string]any{"mode": mode, "findings": findings, "failed": failed}
		if failed && mode == task.AuditWarn {
			payload["reason"] = ReasonArchThresholdWarning
		}
		emit(events.ArchitectureAudit, round, payload)
		if failed && mode == task.AuditHard {
			return roundResult{reason: ReasonArchThresholdExceeded, implementation: impl.Output, reviews: reviews, checklist: checklist}
		}
	}

	// Gate
	passed, reason := EvaluateGate(GateInput{TestsOK: testRes.OK, LintOK: lintRes.OK, ReviewerVerdicts: verdicts})
	return roundResult{
		passed:         passed,
		reason:         reason,
		implementation: impl.Output,
		reviews:        reviews,
		checklist:      checklist,
	}
}

// runDebate collects reviewer debate notes. Returns ok=false only when every
// attempted reviewer was unusable.
func (e *Engine) runDebate(ctx context.Context, t *task.Task, round int, prevGateReason string, prompts *promptBuilder, probe *cacheProbe, emit EmitFunc) (string, bool) {
	emit(events.DebateStarted, round, nil)
	var usable []string
	attempted := 0
	for _, rev := range t.Reviewers() {
		attempted++
		emit(events.DebateReviewStarted, round, map[string]any{"participant": rev.String()})
		res, err := e.invoke(ctx, rev, task.PhaseReview, "debate", prompts.Debate(round, prevGateReason), probe, round, emit)
		if err != nil || strings.TrimSpace(res.Output) == "" {
			payload := map[string]any{"participant": rev.String()}
			if err != nil {
				payload["error"] = err.Error()
			}
			emit(events.DebateReviewError, round, payload)
			continue
		}
		emit(events.DebateReview, round, map[string]any{"participant": rev.String()})
		usable = append(usable, fmt.Sprintf("[%s]\n%s", rev.String(), res.Output))
	}
	emit(events.DebateCompleted, round, map[string]any{"usable": len(usable), "attempted": attempted})
	if len(usable) == 0 && attempted > 0 {
		return "", false
	}
	return strings.Join(usable, "\n\n"), true
}

// invoke wraps an agent call with the prompt-cache probe events.
func (e *Engine) invoke(ctx context.Context, p task.Participant, phase task.Phase, stage, prompt string, probe *cacheProbe, round int, emit EmitFunc) (runner.AdapterResult, error) {
	model, params, toolset := e.agents.CacheInputs(p)
	pr := probe.probe(p.String(), stage, model, params, toolset, prompt)
	emit(events.PromptCacheProbe, round, map[string]any{
		"participant": p.String(), "stage": stage,
		"reuse_eligible": pr.ReuseEligible, "reused": pr.Reused,
	})
	if pr.BreakReason != "" {
		emit(events.PromptCacheBreak, round, map[string]any{
			"participant": p.String(), "stage": stage, "reason": pr.BreakReason,
		})
	}
	return e.agents.Call(ctx, p, phase, prompt)
}

func (e *Engine) runVerify(ctx context.Context, commandLine, workDir string, timeout time.Duration) command.Result {
	if commandLine == "" {
		return command.Result{Returncode: 2, Stderr: "command not configured"}
	}
	return e.commands.Run(ctx, commandLine, workDir, timeout)
}

func (e *Engine) appendDiscussion(taskID, role string, round int, text string) {
	if e.store == nil || text == "" {
		return
	}
	if err := e.store.AppendDiscussion(taskID, role, round, text); err != nil {
		e.logger.Warn("discussion append failed", "task_id", taskID, "role", role, "error", err)
	}
}
