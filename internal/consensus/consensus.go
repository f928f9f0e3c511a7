package consensus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/task"
	"github.com/randalmurphal/awe/internal/workflow"
)

const (
	// StallRetryLimit bounds in-round retries of contract violations,
	// incomplete discussions, and failed consensus checks.
	StallRetryLimit = 10
	// RepeatRoundsLimit declares a cross-round stall when the same round
	// signature repeats this many consecutive rounds.
	RepeatRoundsLimit = 4
)

// Reasons surfaced by the subprotocol.
const (
	ReasonPrecheckUnavailable = "proposal_precheck_unavailable"
	ReasonAuthorUnavailable   = "proposal_author_unavailable"
	ReasonReviewUnavailable   = "proposal_review_unavailable"
	ReasonStalledInRound      = "proposal_consensus_stalled_in_round"
	ReasonStalledAcrossRounds = "proposal_consensus_stalled_across_rounds"
	// AutoApproveNote annotates the synthetic author decision in self-loop
	// mode.
	AutoApproveNote = "auto_approved_by_self_loop_mode"
)

// Outcome classifies how the subprotocol ended.
type Outcome string

const (
	OutcomeApproved       Outcome = "approved"
	OutcomeAwaitingManual Outcome = "awaiting_manual"
	OutcomeStalled        Outcome = "stalled"
	OutcomeFailed         Outcome = "failed"
)

// Result is the subprotocol's terminal state.
type Result struct {
	Outcome  Outcome
	Reason   string
	Proposal string
}

// Protocol runs proposal consensus for one task.
type Protocol struct {
	agents *workflow.AgentCaller
	store  *artifact.Store
	logger *slog.Logger

	// FeedbackNote is the most recent author revise note, folded into the
	// discussion prompt and the pending_proposal artifact.
	FeedbackNote string

	prevSignature  string
	signatureCount int
}

func NewProtocol(agents *workflow.AgentCaller, store *artifact.Store, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	return &Protocol{agents: agents, store: store, logger: logger}
}

// reviewOutcome is one reviewer's parsed precheck or proposal review.
type reviewOutcome struct {
	participant task.Participant
	verdict     provider.Verdict
	issues      []Issue
	output      string
	// actionable is false for runtime-error synthetics.
	actionable bool
}

// Run executes one consensus round (with bounded in-round retries) for the
// task seed. autoApprove approves a reached consensus without waiting for
// the author's manual decision.
func (p *Protocol) Run(ctx context.Context, t *task.Task, emit workflow.EmitFunc, autoApprove bool) Result {
	seed := t.Description
	if seed == "" {
		seed = t.Title
	}
	if p.FeedbackNote != "" {
		seed += "\n\nAuthor feedback: " + p.FeedbackNote
	}

	var lastProposal string
	var lastReviews []reviewOutcome
	for attempt := 1; attempt <= StallRetryLimit; attempt++ {
		// 1. Reviewer precheck
		precheck, usable := p.collectReviews(ctx, t, seed, true, emit)
		if usable == 0 {
			return Result{Outcome: OutcomeFailed, Reason: ReasonPrecheckUnavailable}
		}
		if violated := contractViolators(precheck); len(violated) > 0 {
			emit(events.ProposalReviewContractViolation, 0, map[string]any{
				"participants": violated, "attempt": attempt,
			})
			seed += "\n\nContract: reviewers reporting BLOCKER or UNKNOWN must enumerate concrete issues."
			continue
		}

		// 2. Author proposal
		required := requiredIssues(precheck)
		emit(events.ProposalDiscussionStarted, 0, map[string]any{"attempt": attempt})
		prompt := p.proposalPrompt(t, seed, precheck)
		res, err := p.agents.Call(ctx, t.Author(), task.PhaseProposal, prompt)
		if err != nil {
			emit(events.ProposalDiscussionError, 0, map[string]any{"error": err.Error()})
			return Result{Outcome: OutcomeFailed, Reason: ReasonAuthorUnavailable}
		}
		lastProposal = res.Output
		responses := ParseIssueResponses(res.Output)
		if invalid := ValidateResponses(required, responses); len(invalid) > 0 {
			emit(events.ProposalDiscussionIncomplete, 0, map[string]any{
				"missing_issue_ids": invalid, "attempt": attempt,
			})
			seed += fmt.Sprintf("\n\nIncomplete responses for: %s. Rejects need a reason, an alternative plan, validation commands, and evidence paths.",
				strings.Join(invalid, ", "))
			continue
		}

		// 3. Proposal review
		reviews, usable := p.collectReviews(ctx, t, res.Output, false, emit)
		if usable == 0 {
			return Result{Outcome: OutcomeFailed, Reason: ReasonReviewUnavailable}
		}
		if usable < len(reviews) {
			emit(events.ProposalReviewPartial, 0, map[string]any{
				"usable": usable, "total": len(reviews),
			})
		}
		if violated := contractViolators(reviews); len(violated) > 0 {
			emit(events.ProposalReviewContractViolation, 0, map[string]any{
				"participants": violated, "attempt": attempt,
			})
			seed += "\n\nContract: reviewers reporting BLOCKER or UNKNOWN must enumerate concrete issues."
			continue
		}
		lastReviews = reviews

		// 4. Consensus decision over the usable subset
		if consensusReached(reviews) {
			if stalled, reason := p.checkCrossRoundStall(reviews, res.Output); stalled {
				p.writePendingProposal(t.ID, res.Output, reviews, reason)
				emit(events.ProposalConsensusStalled, 0, map[string]any{"reason": reason})
				return Result{Outcome: OutcomeStalled, Reason: reason, Proposal: res.Output}
			}
			emit(events.ProposalConsensusReached, 0, map[string]any{"attempt": attempt})
			if autoApprove {
				emit(events.AuthorDecision, 0, map[string]any{
					"decision": "approved", "note": AutoApproveNote,
				})
				return Result{Outcome: OutcomeApproved, Proposal: res.Output}
			}
			p.writePendingProposal(t.ID, res.Output, reviews, "")
			emit(events.AuthorConfirmationRequired, 0, nil)
			return Result{Outcome: OutcomeAwaitingManual, Proposal: res.Output}
		}

		if stalled, reason := p.checkCrossRoundStall(reviews, res.Output); stalled {
			p.writePendingProposal(t.ID, res.Output, reviews, reason)
			emit(events.ProposalConsensusStalled, 0, map[string]any{"reason": reason})
			return Result{Outcome: OutcomeStalled, Reason: reason, Proposal: res.Output}
		}

		emit(events.ProposalConsensusRetry, 0, map[string]any{"attempt": attempt})
		seed += "\n\nConsensus not reached; address every open reviewer issue."
	}

	p.writePendingProposal(t.ID, lastProposal, lastReviews, ReasonStalledInRound)
	return Result{Outcome: OutcomeStalled, Reason: ReasonStalledInRound, Proposal: lastProposal}
}

// collectReviews runs every reviewer over the subject text. precheck
// selects the precheck prompt and events. Returns the outcomes and how many
// were usable (actionable).
func (p *Protocol) collectReviews(ctx context.Context, t *task.Task, subject string, precheck bool, emit workflow.EmitFunc) ([]reviewOutcome, int) {
	var outcomes []reviewOutcome
	usable := 0
	for _, rev := range t.Reviewers() {
		if precheck {
			emit(events.ProposalPrecheckReviewStarted, 0, map[string]any{"participant": rev.String()})
		} else {
			emit(events.ProposalReviewStarted, 0, map[string]any{"participant": rev.String()})
		}
		prompt := p.reviewPrompt(t, subject, precheck)
		res, err := p.agents.Call(ctx, rev, task.PhaseProposal, prompt)
		if err != nil {
			typ := events.ProposalPrecheckReviewError
			if !precheck {
				typ = events.ProposalReview
			}
			emit(typ, 0, map[string]any{"participant": rev.String(), "error": err.Error()})
			outcomes = append(outcomes, reviewOutcome{
				participant: rev,
				verdict:     provider.VerdictUnknown,
				output:      fmt.Sprintf("[review_error] %v", err),
				actionable:  false,
			})
			continue
		}
		if !precheck {
			emit(events.ProposalReview, 0, map[string]any{
				"participant": rev.String(), "verdict": res.Verdict,
			})
		}
		outcomes = append(outcomes, reviewOutcome{
			participant: rev,
			verdict:     res.Verdict,
			issues:      ParseIssues(res.Output),
			output:      res.Output,
			actionable:  true,
		})
		usable++
	}
	return outcomes, usable
}

// contractViolators returns actionable reviewers that reported BLOCKER or
// UNKNOWN without producing a single issue.
func contractViolators(reviews []reviewOutcome) []string {
	var violated []string
	for _, r := range reviews {
		if !r.actionable {
			continue
		}
		if (r.verdict == provider.VerdictBlocker || r.verdict == provider.VerdictUnknown) && len(r.issues) == 0 {
			violated = append(violated, r.participant.String())
		}
	}
	return violated
}

// requiredIssues merges every actionable reviewer's issues, deduped by id.
func requiredIssues(reviews []reviewOutcome) []Issue {
	seen := map[string]bool{}
	var issues []Issue
	for _, r := range reviews {
		if !r.actionable {
			continue
		}
		for _, iss := range r.issues {
			if seen[iss.ID] {
				continue
			}
			seen[iss.ID] = true
			issues = append(issues, iss)
		}
	}
	return issues
}

// consensusReached holds iff every actionable reviewer reported NO_BLOCKER.
func consensusReached(reviews []reviewOutcome) bool {
	for _, r := range reviews {
		if r.actionable && r.verdict != provider.VerdictNoBlocker {
			return false
		}
	}
	return true
}

// checkCrossRoundStall hashes sorted issue identities plus the proposal
// text; the same signature repeating RepeatRoundsLimit consecutive rounds
// is a stall.
func (p *Protocol) checkCrossRoundStall(reviews []reviewOutcome, proposal string) (bool, string) {
	var ids []string
	for _, r := range reviews {
		for _, iss := range r.issues {
			ids = append(ids, iss.ID)
		}
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",") + "|" + proposal))
	sig := hex.EncodeToString(sum[:8])

	if sig == p.prevSignature {
		p.signatureCount++
	} else {
		p.prevSignature = sig
		p.signatureCount = 1
	}
	if p.signatureCount >= RepeatRoundsLimit {
		return true, ReasonStalledAcrossRounds
	}
	return false, ""
}

// writePendingProposal snapshots the stalled or awaiting proposal for
// manual review.
func (p *Protocol) writePendingProposal(taskID, proposal string, reviews []reviewOutcome, stallReason string) {
	if p.store == nil || taskID == "" {
		return
	}
	reviewPayload := make([]map[string]any, 0, len(reviews))
	for _, r := range reviews {
		reviewPayload = append(reviewPayload, map[string]any{
			"participant": r.participant.String(),
			"verdict":     r.verdict,
			"issues":      r.issues,
			"actionable":  r.actionable,
		})
	}
	pending := map[string]any{
		"summary":       summarize(proposal),
		"proposal":      proposal,
		"reviews":       reviewPayload,
		"stall_reason":  stallReason,
		"feedback_note": p.FeedbackNote,
	}
	if err := p.store.WriteArtifact(taskID, "pending_proposal", pending); err != nil {
		p.logger.Warn("pending proposal write failed", "task_id", taskID, "error", err)
	}
}

func summarize(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > 400 {
		return text[:400] + "..."
	}
	return text
}

func (p *Protocol) reviewPrompt(t *task.Task, subject string, precheck bool) string {
	var b strings.Builder
	if precheck {
		b.WriteString("Review the task seed below before the author proposes a plan.\n")
	} else {
		b.WriteString("Review the author's proposal below.\n")
	}
	b.WriteString(`Report findings as {"issues": [{"issue_id", "summary", "severity", "required_action"}]} ` +
		"and end with the verdict object. BLOCKER or UNKNOWN verdicts must list at least one issue.\n")
	b.WriteString("\nContext:\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Subject:\n%s\n", subject)
	return b.String()
}

func (p *Protocol) proposalPrompt(t *task.Task, seed string, precheck []reviewOutcome) string {
	var b strings.Builder
	b.WriteString("Propose a concrete implementation plan for this task.\n")
	b.WriteString(`Answer every reviewer issue with {"issue_responses": [{"issue_id", "status": "accept|reject|defer", ...}]}. ` +
		"A reject requires a reason, an alternative_plan, validation_commands, and evidence_paths.\n")
	b.WriteString("\nContext:\n")
	fmt.Fprintf(&b, "Task: %s\n", t.Title)
	fmt.Fprintf(&b, "Seed:\n%s\n", seed)
	for _, r := range precheck {
		if !r.actionable || len(r.issues) == 0 {
			continue
		}
		fmt.Fprintf(&b, "Issues from %s:\n", r.participant.String())
		for _, iss := range r.issues {
			fmt.Fprintf(&b, "- %s: %s\n", iss.ID, iss.Summary)
		}
	}
	return b.String()
}
