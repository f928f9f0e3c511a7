package orchestrator

import (
	"context"
	"os"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/merge"
	"github.com/randalmurphal/awe/internal/task"
	"github.com/randalmurphal/awe/internal/workflow"
)

// Decision is an author verdict on a pending proposal.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
	DecisionRevise  Decision = "revise"
)

// SubmitAuthorDecision resolves a waiting_manual checkpoint. Approve
// re-queues with author_approved and clears any pending cancel; reject
// cancels; revise re-queues and records the note for the next consensus
// round.
func (s *Service) SubmitAuthorDecision(id string, decision Decision, note string) (*task.Task, error) {
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	if t.Status != task.StatusWaitingManual {
		return nil, errors.Newf(errors.CodeTaskInvalidState,
			"author decision requires waiting_manual, task is %s", t.Status)
	}

	cleared := false
	var updated *task.Task
	switch decision {
	case DecisionApprove:
		updated, err = s.repo.UpdateTaskStatusIf(id, task.StatusWaitingManual, task.StatusQueued,
			ReasonAuthorApproved, nil, &cleared)
	case DecisionReject:
		updated, err = s.repo.UpdateTaskStatusIf(id, task.StatusWaitingManual, task.StatusCanceled,
			ReasonAuthorRejected, nil, nil)
	case DecisionRevise:
		updated, err = s.repo.UpdateTaskStatusIf(id, task.StatusWaitingManual, task.StatusQueued,
			ReasonAuthorFeedbackRequested, nil, nil)
	default:
		return nil, errors.Validation("decision", "decision must be approve, reject, or revise")
	}
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return s.repo.GetTask(id)
	}

	s.emit(id, events.AuthorDecision, map[string]any{"decision": string(decision), "note": note})
	if decision == DecisionRevise {
		s.setFeedback(id, note)
		s.emit(id, events.AuthorFeedbackRequested, map[string]any{"note": note})
	}
	if updated.Status == task.StatusCanceled {
		s.finalize(updated)
	} else {
		s.mirrorState(updated)
	}
	return updated, nil
}

// RequestCancel sets the persistent cancel flag; the workflow observes it
// between phases.
func (s *Service) RequestCancel(id string) (*task.Task, error) {
	t, err := s.repo.SetCancelRequested(id, true)
	if err != nil {
		return nil, err
	}
	s.emit(id, events.CancelRequested, nil)
	s.mirrorState(t)
	return t, nil
}

// ForceFailTask forces a task into failed_system. Passed and canceled
// tasks are left untouched.
func (s *Service) ForceFailTask(id, reason string) (*task.Task, error) {
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	if t.Status == task.StatusPassed || t.Status == task.StatusCanceled {
		return t, nil
	}

	requested := true
	updated, err := s.repo.UpdateTaskStatusIf(id, t.Status, task.StatusFailedSystem, reason, nil, &requested)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		// Lost the race against another transition; report what won.
		return s.repo.GetTask(id)
	}
	s.emit(id, events.ForceFailed, map[string]any{"reason": reason})
	s.finalize(updated)
	return updated, nil
}

// MarkFailedSystem records a background failure. Running tasks go through
// CAS; terminal tasks are untouched; everything else updates directly.
func (s *Service) MarkFailedSystem(id, reason string) (*task.Task, error) {
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	switch t.Status {
	case task.StatusPassed, task.StatusCanceled, task.StatusFailedSystem:
		return t, nil
	case task.StatusRunning:
		updated, err := s.repo.UpdateTaskStatusIf(id, task.StatusRunning, task.StatusFailedSystem, reason, nil, nil)
		if err != nil {
			return nil, err
		}
		if updated == nil {
			return s.repo.GetTask(id)
		}
		s.emit(id, events.SystemFailure, map[string]any{"reason": reason})
		s.finalize(updated)
		return updated, nil
	default:
		s.emit(id, events.SystemFailure, map[string]any{"reason": reason})
		view, err := s.transition(id, task.StatusFailedSystem, reason, nil)
		if err != nil {
			return nil, err
		}
		s.finalize(view)
		return view, nil
	}
}

// EvaluateGate runs the gate calculation against caller-supplied signals
// and records the manual verdict as an event. Status is not changed.
func (s *Service) EvaluateGate(id string, in workflow.GateInput) (*task.Task, error) {
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	passed, reason := workflow.EvaluateGate(in)
	s.emit(id, events.ManualGate, map[string]any{"passed": passed, "reason": reason})
	return t, nil
}

// PromoteSelectedRound merges a chosen round snapshot into a target
// directory. Only multi-round tasks without auto-merge, already final,
// can promote.
func (s *Service) PromoteSelectedRound(ctx context.Context, id string, round int, mergeTargetPath string) (merge.Summary, error) {
	var none merge.Summary

	t, err := s.repo.GetTask(id)
	if err != nil {
		return none, err
	}
	if t == nil {
		return none, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	if !t.Status.IsFinal() {
		return none, errors.Newf(errors.CodeTaskInvalidState, "task %s has not finished", id)
	}
	if t.MaxRounds <= 1 || t.AutoMerge {
		return none, errors.New(errors.CodeTaskInvalidState,
			"round promotion requires max_rounds > 1 and auto_merge disabled")
	}

	snapshot := s.store.SnapshotDir(id, round)
	if info, serr := os.Stat(snapshot); serr != nil || !info.IsDir() {
		return none, errors.Newf(errors.CodeValidation, "round %d has no snapshot", round)
	}

	target := mergeTargetPath
	if target == "" {
		target = t.MergeTargetPath
	}
	if target == "" {
		target = t.ProjectPath
	}

	if err := s.guard.Check(ctx, target); err != nil {
		s.emit(id, events.PromotionGuardBlocked, map[string]any{"error": err.Error()})
		return none, err
	}
	s.emit(id, events.PromotionGuardChecked, map[string]any{"target": target})

	baseline := workflow.Manifest{}
	if m, berr := workflow.BuildManifest(s.store.SnapshotDir(id, 0)); berr == nil {
		baseline = m
	}
	summary, err := s.merger.Merge(ctx, snapshot, target, baseline)
	if err != nil {
		return none, errors.Wrap(errors.CodeAutoMergeError, err, "promote round")
	}
	s.emitRound(id, events.ManualRoundPromoted, round, map[string]any{
		"applied": summary.Applied, "deleted": summary.Deleted, "target": target,
	})
	return summary, nil
}
