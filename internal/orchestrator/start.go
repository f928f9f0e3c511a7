package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/awe/internal/consensus"
	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/gitx"
	"github.com/randalmurphal/awe/internal/risk"
	"github.com/randalmurphal/awe/internal/sandbox"
	"github.com/randalmurphal/awe/internal/task"
	"github.com/randalmurphal/awe/internal/workflow"
)

// StartTask drives a queued task through guards, consensus, capacity
// claiming, and the workflow loop, returning the task's resulting view.
// Duplicate concurrent starts for the same id return immediately.
func (s *Service) StartTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}

	if !s.claimStartSlot(id) {
		s.emit(id, events.StartDeduped, map[string]any{"reason": string(errors.CodeStartInflightDedup)})
		return t, nil
	}
	defer s.releaseStartSlot(id)

	if t.Status.IsTerminal() {
		return t, nil
	}
	if t.Status == task.StatusRunning || t.Status == task.StatusWaitingManual {
		return t, nil
	}

	s.emit(id, events.TaskStarted, map[string]any{"title": t.Title})

	// Workspace resume guard.
	if t.WorkspaceFingerprint != "" {
		fp, fperr := sandbox.Fingerprint(sandbox.FingerprintInput{
			WorkspacePath: t.WorkspacePath,
			ProjectPath:   t.ProjectPath,
			SandboxMode:   t.SandboxMode,
			Generated:     t.SandboxGenerated,
		})
		if fperr != nil || fp != t.WorkspaceFingerprint {
			s.emit(id, events.WorkspaceResumeGuardBlocked, map[string]any{
				"stored": t.WorkspaceFingerprint, "recomputed": fp,
			})
			return s.transition(id, task.StatusWaitingManual, ReasonResumeGuardMismatch, nil)
		}
	}

	// Preflight risk gate.
	policy, err := risk.Load(t.ProjectPath)
	if err != nil {
		s.logger.Warn("risk policy load failed, using defaults", "task_id", id, "error", err)
		policy = risk.DefaultPolicy()
	}
	assessment, err := policy.Evaluate(t)
	if err != nil {
		return s.failSystem(id, fmt.Sprintf("workflow_error: risk evaluation: %v", err))
	}
	if err := s.store.WriteArtifact(id, "preflight_risk_gate", assessment); err != nil {
		s.logger.Warn("risk artifact write failed", "task_id", id, "error", err)
	}
	s.emit(id, events.PreflightRiskGate, map[string]any{
		"tier": assessment.Tier, "passed": assessment.Passed, "failures": assessment.Failures,
	})
	if !assessment.Passed {
		s.emit(id, events.PreflightRiskGateFailed, map[string]any{"failures": assessment.Failures})
		return s.transition(id, task.StatusFailedGate, ReasonPreflightRiskGateFailed, nil)
	}

	// HEAD capture for workspace and merge target.
	targetHead := ""
	if gitx.IsRepo(ctx, t.WorkspacePath) {
		if sha, herr := gitx.HeadSHA(ctx, t.WorkspacePath); herr == nil {
			s.emit(id, events.HeadSHACaptured, map[string]any{"repo": "workspace", "sha": sha})
		}
	}
	if t.MergeTargetPath != "" && gitx.IsRepo(ctx, t.MergeTargetPath) {
		sha, herr := gitx.HeadSHA(ctx, t.MergeTargetPath)
		if herr != nil || sha == "" {
			s.emit(id, events.HeadSHAMissing, map[string]any{"repo": "merge_target"})
			return s.transition(id, task.StatusFailedGate, ReasonHeadSHAMissing, nil)
		}
		targetHead = sha
		s.emit(id, events.HeadSHACaptured, map[string]any{"repo": "merge_target", "sha": sha})
	}

	// Consensus subprotocol, unless the author already approved.
	if t.LastGateReason != ReasonAuthorApproved {
		view, done, cerr := s.runConsensus(ctx, t)
		if cerr != nil || done {
			return view, cerr
		}
		t, err = s.repo.GetTask(id)
		if err != nil {
			return nil, err
		}
	}

	// Running capacity.
	admitted, err := s.claimCapacity(id)
	if err != nil {
		return nil, err
	}
	if !admitted {
		s.emit(id, events.StartDeferred, map[string]any{"reason": ReasonConcurrencyLimit})
		return s.transition(id, task.StatusQueued, ReasonConcurrencyLimit, nil)
	}
	defer s.releaseCapacity(id)

	running, err := s.repo.UpdateTaskStatusIf(id, t.Status, task.StatusRunning, t.LastGateReason, nil, nil)
	if err != nil {
		return nil, err
	}
	if running == nil {
		// Another caller transitioned first; return their view.
		return s.repo.GetTask(id)
	}
	s.emit(id, events.TaskRunning, nil)
	s.mirrorState(running)

	return s.runWorkflow(ctx, running, targetHead)
}

// runConsensus executes the proposal subprotocol. done=true means the
// start call ends here (waiting on the author, stalled, or failed).
func (s *Service) runConsensus(ctx context.Context, t *task.Task) (*task.Task, bool, error) {
	protocol := consensus.NewProtocol(s.agentCaller(t), s.store, s.logger)
	protocol.FeedbackNote = s.takeFeedback(t.ID)

	emit := func(typ events.Type, round int, payload map[string]any) {
		s.emitRound(t.ID, typ, round, payload)
	}
	res := protocol.Run(ctx, t, emit, t.SelfLoopMode == 1)

	switch res.Outcome {
	case consensus.OutcomeApproved:
		view, err := s.transition(t.ID, task.StatusQueued, ReasonAuthorApproved, nil)
		return view, false, err
	case consensus.OutcomeAwaitingManual, consensus.OutcomeStalled:
		reason := res.Reason
		if reason == "" {
			reason = "author_confirmation_required"
		}
		if res.Outcome == consensus.OutcomeStalled {
			s.emit(t.ID, events.AuthorConfirmationRequired, map[string]any{"reason": reason})
		}
		view, err := s.transition(t.ID, task.StatusWaitingManual, reason, nil)
		return view, true, err
	default:
		view, err := s.transition(t.ID, task.StatusFailedGate, res.Reason, nil)
		return view, true, err
	}
}

// runWorkflow runs the engine and settles the terminal state.
func (s *Service) runWorkflow(ctx context.Context, t *task.Task, targetHead string) (*task.Task, error) {
	if recs, err := s.memory.Recall(t, t.MemoryMode); err == nil && len(recs) > 0 {
		s.emit(t.ID, events.MemoryHit, map[string]any{"count": len(recs), "records": recs})
	}

	// The pre-run workspace manifest anchors the later merge diff.
	var preRun workflow.Manifest
	if t.AutoMerge {
		m, merr := workflow.BuildManifest(t.WorkspacePath)
		if merr != nil {
			s.logger.Warn("pre-run manifest failed", "task_id", t.ID, "error", merr)
			m = workflow.Manifest{}
		}
		preRun = m
	}

	emit := func(typ events.Type, round int, payload map[string]any) {
		s.emitRound(t.ID, typ, round, payload)
	}
	canceled := func() bool {
		c, err := s.repo.IsCancelRequested(t.ID)
		return err == nil && c
	}

	engine := workflow.NewEngine(s.agentCaller(t), s.commands, s.store, s.logger)
	res := engine.Run(ctx, t, emit, canceled)

	if res.Status == task.StatusPassed {
		if reason, ok := s.validateEvidence(t.ID, res); !ok {
			res.Status = task.StatusFailedGate
			res.GateReason = reason
		}
	}

	// Pre-merge guards run before the terminal write so that a blocked
	// promotion lands as failed_gate, never as a retracted pass.
	if res.Status == task.StatusPassed && t.AutoMerge {
		if reason, ok := s.checkPromotion(ctx, t, targetHead); !ok {
			res.Status = task.StatusFailedGate
			res.GateReason = reason
		}
	}

	cleared := false
	final, err := s.repo.UpdateTaskStatusIf(t.ID, task.StatusRunning, res.Status, res.GateReason, &res.Rounds, &cleared)
	if err != nil {
		return nil, err
	}
	if final == nil {
		// A concurrent force_fail won the terminal race.
		cur, gerr := s.repo.GetTask(t.ID)
		if gerr != nil {
			return nil, gerr
		}
		s.finalize(cur)
		return cur, nil
	}

	if final.Status == task.StatusPassed && t.AutoMerge {
		s.autoMerge(ctx, t, preRun)
	}
	if final.Status == task.StatusPassed && t.SandboxCleanupOnPass && t.SandboxGenerated && t.SandboxMode {
		if rerr := sandbox.Remove(t.SandboxPath); rerr != nil {
			s.emit(t.ID, events.SandboxCleanupFailed, map[string]any{"path": t.SandboxPath, "error": rerr.Error()})
		} else {
			s.emit(t.ID, events.SandboxCleanupCompleted, map[string]any{"path": t.SandboxPath})
		}
	}
	if final.Status == task.StatusFailedGate || final.Status == task.StatusFailedSystem {
		s.writeRegression(final)
	}

	s.finalize(final)
	return final, nil
}

// validateEvidence cross-checks the last round's evidence bundle before a
// pass is written, then records the aggregated evidence manifest.
func (s *Service) validateEvidence(taskID string, res workflow.RunResult) (string, bool) {
	var bundle struct {
		Round     int                `json:"round"`
		Checklist workflow.Checklist `json:"checklist"`
	}
	if err := s.store.ReadArtifact(taskID, "evidence_bundle", &bundle); err != nil {
		s.emit(taskID, events.EvidenceManifestFailed, map[string]any{"error": err.Error()})
		return workflow.ReasonEvidenceMissing, false
	}
	if bundle.Round != res.Rounds || !bundle.Checklist.Passed || len(bundle.Checklist.EvidencePaths) == 0 {
		return workflow.ReasonEvidenceMissing, false
	}

	manifest := map[string]any{
		"round":          bundle.Round,
		"checklist":      bundle.Checklist,
		"gate_reason":    res.GateReason,
		"evidence_paths": bundle.Checklist.EvidencePaths,
		"artifacts":      []string{"evidence_bundle", "preflight_risk_gate"},
	}
	if err := s.store.WriteArtifact(taskID, "evidence_manifest", manifest); err != nil {
		s.emit(taskID, events.EvidenceManifestFailed, map[string]any{"error": err.Error()})
		return ReasonEvidenceManifestFailed, false
	}
	s.emit(taskID, events.EvidenceManifestReady, map[string]any{"round": bundle.Round})
	return "", true
}

// checkPromotion re-reads the merge-target HEAD and evaluates the
// promotion guard. Returns the downgrade reason when blocked.
func (s *Service) checkPromotion(ctx context.Context, t *task.Task, targetHead string) (string, bool) {
	if targetHead != "" {
		cur, err := gitx.HeadSHA(ctx, t.MergeTargetPath)
		if err != nil || cur != targetHead {
			s.emit(t.ID, events.HeadSHAMismatch, map[string]any{"expected": targetHead, "actual": cur})
			return ReasonHeadSHAMismatch, false
		}
	}
	if err := s.guard.Check(ctx, t.MergeTargetPath); err != nil {
		s.emit(t.ID, events.PromotionGuardBlocked, map[string]any{"error": err.Error()})
		return ReasonPromotionGuardBlocked, false
	}
	s.emit(t.ID, events.PromotionGuardChecked, map[string]any{"target": t.MergeTargetPath})
	return "", true
}

// autoMerge promotes the workspace changes into the merge target. Runs
// strictly after the terminal passed write. A merge failure is surfaced
// as a system_failure event; the pass itself stands.
func (s *Service) autoMerge(ctx context.Context, t *task.Task, preRun workflow.Manifest) {
	summary, err := s.merger.Merge(ctx, t.WorkspacePath, t.MergeTargetPath, preRun)
	if err != nil {
		s.emit(t.ID, events.SystemFailure, map[string]any{"reason": fmt.Sprintf("auto_merge_error: %v", err)})
		return
	}
	s.emit(t.ID, events.AutoMergeCompleted, map[string]any{
		"applied": summary.Applied, "deleted": summary.Deleted, "target": t.MergeTargetPath,
	})
}

// writeRegression captures a regression-case artifact for a failed task.
func (s *Service) writeRegression(t *task.Task) {
	rec := map[string]any{
		"task_id":     t.ID,
		"title":       t.Title,
		"status":      string(t.Status),
		"gate_reason": t.LastGateReason,
		"rounds":      t.RoundsCompleted,
		"workspace":   t.WorkspacePath,
	}
	if err := s.store.WriteArtifact(t.ID, "regression_case", rec); err != nil {
		s.logger.Warn("regression artifact write failed", "task_id", t.ID, "error", err)
	}
}

// finalize writes the terminal mirror, report, and memory outcome.
func (s *Service) finalize(t *task.Task) {
	if t == nil || !t.Status.IsFinal() {
		return
	}
	if err := s.store.WriteFinalReport(t.ID, string(t.Status), t.LastGateReason); err != nil {
		s.logger.Warn("final report write failed", "task_id", t.ID, "error", err)
	}
	if err := s.memory.Persist(t, t.MemoryMode, t.RoundsCompleted); err != nil {
		s.logger.Warn("memory persist failed", "task_id", t.ID, "error", err)
	} else if t.MemoryMode != task.MemoryOff {
		s.emit(t.ID, events.MemoryPersisted, map[string]any{"status": string(t.Status)})
	}
	s.mirrorState(t)
}

// transition applies an unconditional status update and mirrors it.
func (s *Service) transition(id string, status task.Status, reason string, rounds *int) (*task.Task, error) {
	updated, err := s.repo.UpdateTaskStatus(id, status, reason, rounds)
	if err != nil {
		return nil, err
	}
	s.mirrorState(updated)
	return updated, nil
}

func (s *Service) failSystem(id, reason string) (*task.Task, error) {
	s.emit(id, events.SystemFailure, map[string]any{"reason": reason})
	view, err := s.transition(id, task.StatusFailedSystem, reason, nil)
	if err != nil {
		return nil, err
	}
	s.finalize(view)
	return view, nil
}

// StartQueued starts every queued task, at most the configured number in
// parallel. The per-task capacity gate still applies.
func (s *Service) StartQueued(ctx context.Context) error {
	tasks, err := s.repo.ListTasks(0)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentRunningTasks)
	for i := range tasks {
		t := tasks[i]
		if t.Status != task.StatusQueued {
			continue
		}
		g.Go(func() error {
			if _, err := s.StartTask(ctx, t.ID); err != nil {
				s.logger.Error("start failed", "task_id", t.ID, "error", err)
			}
			return nil
		})
	}
	return g.Wait()
}
