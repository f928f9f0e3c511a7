// Package events defines the engine's event vocabulary and the dual-sink
// emitter. The repository is the authoritative event log; the artifact store
// keeps a JSONL mirror readers can fall back to.
package events

// Type tags an event row. Values are stable strings; they appear in stored
// rows and must not change.
type Type string

// Task lifecycle.
const (
	TaskStarted     Type = "task_started"
	TaskRunning     Type = "task_running"
	RoundStarted    Type = "round_started"
	Canceled        Type = "canceled"
	DeadlineReached Type = "deadline_reached"
	CancelRequested Type = "cancel_requested"
	SystemFailure   Type = "system_failure"
	ForceFailed     Type = "force_failed"
)

// Workflow stages.
const (
	DebateStarted         Type = "debate_started"
	DebateReviewStarted   Type = "debate_review_started"
	DebateReview          Type = "debate_review"
	DebateReviewError     Type = "debate_review_error"
	DebateCompleted       Type = "debate_completed"
	DiscussionStarted     Type = "discussion_started"
	Discussion            Type = "discussion"
	ImplementationStarted Type = "implementation_started"
	Implementation        Type = "implementation"
	ReviewStarted         Type = "review_started"
	Review                Type = "review"
	ReviewError           Type = "review_error"
	VerificationStarted   Type = "verification_started"
	Verification          Type = "verification"
)

// Gates and progress tracking.
const (
	PrecompletionChecklist   Type = "precompletion_checklist"
	PrecompletionGuardFailed Type = "precompletion_guard_failed"
	ArchitectureAudit        Type = "architecture_audit"
	GatePassed               Type = "gate_passed"
	GateFailed               Type = "gate_failed"
	ManualGate               Type = "manual_gate"
	StrategyShifted          Type = "strategy_shifted"
	PromptCacheProbe         Type = "prompt_cache_probe"
	PromptCacheBreak         Type = "prompt_cache_break"
)

// Evidence and round artifacts.
const (
	EvidenceBundleReady    Type = "evidence_bundle_ready"
	EvidenceManifestReady  Type = "evidence_manifest_ready"
	EvidenceManifestFailed Type = "evidence_manifest_failed"
	RoundArtifactReady     Type = "round_artifact_ready"
	RoundArtifactError     Type = "round_artifact_error"
)

// Merge and guards.
const (
	AutoMergeCompleted          Type = "auto_merge_completed"
	PromotionGuardChecked       Type = "promotion_guard_checked"
	PromotionGuardBlocked       Type = "promotion_guard_blocked"
	HeadSHACaptured             Type = "head_sha_captured"
	HeadSHAMissing              Type = "head_sha_missing"
	HeadSHAMismatch             Type = "head_sha_mismatch"
	PreflightRiskGate           Type = "preflight_risk_gate"
	PreflightRiskGateFailed     Type = "preflight_risk_gate_failed"
	WorkspaceResumeGuardBlocked Type = "workspace_resume_guard_blocked"
	ManualRoundPromoted         Type = "manual_round_promoted"
	SandboxCleanupCompleted     Type = "sandbox_cleanup_completed"
	SandboxCleanupFailed        Type = "sandbox_cleanup_failed"
)

// Scheduling and author interaction.
const (
	StartDeduped               Type = "start_deduped"
	StartDeferred              Type = "start_deferred"
	AuthorConfirmationRequired Type = "author_confirmation_required"
	AuthorDecision             Type = "author_decision"
	AuthorFeedbackRequested    Type = "author_feedback_requested"
	MemoryHit                  Type = "memory_hit"
	MemoryPersisted            Type = "memory_persisted"
)

// Proposal consensus subprotocol.
const (
	ProposalPrecheckReviewStarted   Type = "proposal_precheck_review_started"
	ProposalPrecheckReviewError     Type = "proposal_precheck_review_error"
	ProposalReviewStarted           Type = "proposal_review_started"
	ProposalReview                  Type = "proposal_review"
	ProposalDiscussionStarted       Type = "proposal_discussion_started"
	ProposalDiscussionError         Type = "proposal_discussion_error"
	ProposalDiscussionIncomplete    Type = "proposal_discussion_incomplete"
	ProposalReviewContractViolation Type = "proposal_review_contract_violation"
	ProposalReviewPartial           Type = "proposal_review_partial"
	ProposalReviewUnavailable       Type = "proposal_review_unavailable"
	ProposalPrecheckUnavailable     Type = "proposal_precheck_unavailable"
	ProposalConsensusRetry          Type = "proposal_consensus_retry"
	ProposalConsensusReached        Type = "proposal_consensus_reached"
	ProposalConsensusStalled        Type = "proposal_consensus_stalled"
)
