package task

import (
	"time"
)

// Task is the persistent unit of work traversing the status state machine.
type Task struct {
	ID string `json:"id"`

	// Identity / configuration
	Title                string   `json:"title"`
	Description          string   `json:"description"`
	AuthorParticipant    string   `json:"author_participant"`
	ReviewerParticipants []string `json:"reviewer_participants"`
	WorkspacePath        string   `json:"workspace_path"`
	ProjectPath          string   `json:"project_path"`
	MergeTargetPath      string   `json:"merge_target_path,omitempty"`
	SandboxMode          bool     `json:"sandbox_mode"`
	SandboxPath          string   `json:"sandbox_path,omitempty"`
	SandboxGenerated     bool     `json:"sandbox_generated"`
	SandboxCleanupOnPass bool     `json:"sandbox_cleanup_on_pass"`
	WorkspaceFingerprint string   `json:"workspace_fingerprint,omitempty"`

	// Execution policy
	EvolutionLevel      int                      `json:"evolution_level"`
	EvolveUntil         *time.Time               `json:"evolve_until,omitempty"`
	Language            Language                 `json:"language"`
	ModelOverrides      map[string]string        `json:"model_overrides,omitempty"`
	ModelParamOverrides map[string]string        `json:"model_param_overrides,omitempty"`
	FeatureOverrides    map[string]AgentFeatures `json:"feature_overrides,omitempty"`
	RepairMode          RepairMode               `json:"repair_mode"`
	MemoryMode          MemoryMode               `json:"memory_mode"`
	PhaseTimeoutSeconds map[Phase]float64        `json:"phase_timeout_seconds,omitempty"`
	PlainMode           bool                     `json:"plain_mode"`
	StreamMode          bool                     `json:"stream_mode"`
	DebateMode          bool                     `json:"debate_mode"`
	SelfLoopMode        int                      `json:"self_loop_mode"`
	AutoMerge           bool                     `json:"auto_merge"`
	MaxRounds           int                      `json:"max_rounds"`
	TestCommand         string                   `json:"test_command,omitempty"`
	LintCommand         string                   `json:"lint_command,omitempty"`

	// Mutable runtime state
	Status          Status    `json:"status"`
	LastGateReason  string    `json:"last_gate_reason,omitempty"`
	RoundsCompleted int       `json:"rounds_completed"`
	CancelRequested bool      `json:"cancel_requested"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PhaseTimeout returns the configured timeout for a phase, or def when the
// phase has no explicit entry.
func (t *Task) PhaseTimeout(p Phase, def time.Duration) time.Duration {
	if t.PhaseTimeoutSeconds != nil {
		if secs, ok := t.PhaseTimeoutSeconds[p]; ok && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

// Author returns the parsed author participant.
// Valid tasks always parse; validation happens at create time.
func (t *Task) Author() Participant {
	p, _ := ParseParticipant(t.AuthorParticipant)
	return p
}

// Reviewers returns the parsed reviewer participants.
func (t *Task) Reviewers() []Participant {
	out := make([]Participant, 0, len(t.ReviewerParticipants))
	for _, id := range t.ReviewerParticipants {
		if p, err := ParseParticipant(id); err == nil {
			out = append(out, p)
		}
	}
	return out
}

// ModelFor returns the model override for a participant, if any.
func (t *Task) ModelFor(participant string) string {
	return t.ModelOverrides[participant]
}

// ModelParamsFor returns the model-param override for a participant, if any.
func (t *Task) ModelParamsFor(participant string) string {
	return t.ModelParamOverrides[participant]
}

// FeaturesFor returns the agent-feature toggles for a participant.
func (t *Task) FeaturesFor(participant string) AgentFeatures {
	if t.FeatureOverrides != nil {
		if f, ok := t.FeatureOverrides[participant]; ok {
			return f
		}
	}
	return AgentFeatures{}
}

// Input carries the caller-supplied fields for task creation.
type Input struct {
	Title                string                   `json:"title"`
	Description          string                   `json:"description"`
	AuthorParticipant    string                   `json:"author_participant"`
	ReviewerParticipants []string                 `json:"reviewer_participants"`
	ProjectPath          string                   `json:"project_path"`
	MergeTargetPath      string                   `json:"merge_target_path,omitempty"`
	SandboxMode          bool                     `json:"sandbox_mode"`
	SandboxPath          string                   `json:"sandbox_path,omitempty"`
	SandboxCleanupOnPass bool                     `json:"sandbox_cleanup_on_pass"`
	EvolutionLevel       int                      `json:"evolution_level"`
	EvolveUntil          *time.Time               `json:"evolve_until,omitempty"`
	Language             Language                 `json:"language,omitempty"`
	ModelOverrides       map[string]string        `json:"model_overrides,omitempty"`
	ModelParamOverrides  map[string]string        `json:"model_param_overrides,omitempty"`
	FeatureOverrides     map[string]AgentFeatures `json:"feature_overrides,omitempty"`
	RepairMode           RepairMode               `json:"repair_mode,omitempty"`
	MemoryMode           MemoryMode               `json:"memory_mode,omitempty"`
	PhaseTimeoutSeconds  map[Phase]float64        `json:"phase_timeout_seconds,omitempty"`
	PlainMode            bool                     `json:"plain_mode"`
	StreamMode           bool                     `json:"stream_mode"`
	DebateMode           bool                     `json:"debate_mode"`
	SelfLoopMode         int                      `json:"self_loop_mode"`
	AutoMerge            bool                     `json:"auto_merge"`
	MaxRounds            int                      `json:"max_rounds"`
	TestCommand          string                   `json:"test_command,omitempty"`
	LintCommand          string                   `json:"lint_command,omitempty"`
}
