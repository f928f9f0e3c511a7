package task

// RepairMode controls how aggressively the author agent may restructure code.
type RepairMode string

const (
	RepairMinimal    RepairMode = "minimal"
	RepairBalanced   RepairMode = "balanced"
	RepairStructural RepairMode = "structural"
)

// IsValidRepairMode returns true if m is a valid repair mode.
func IsValidRepairMode(m RepairMode) bool {
	switch m {
	case RepairMinimal, RepairBalanced, RepairStructural:
		return true
	default:
		return false
	}
}

// MemoryMode controls recall/persist behavior around a run.
type MemoryMode string

const (
	MemoryOff    MemoryMode = "off"
	MemoryBasic  MemoryMode = "basic"
	MemoryStrict MemoryMode = "strict"
)

// IsValidMemoryMode returns true if m is a valid memory mode.
func IsValidMemoryMode(m MemoryMode) bool {
	switch m {
	case MemoryOff, MemoryBasic, MemoryStrict:
		return true
	default:
		return false
	}
}

// Language is the conversation language for agent prompts.
type Language string

const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "zh"
)

// IsValidLanguage returns true if l is a supported conversation language.
func IsValidLanguage(l Language) bool {
	return l == LanguageEnglish || l == LanguageChinese
}

// Phase identifies a workflow stage with a configurable timeout.
type Phase string

const (
	PhaseProposal       Phase = "proposal"
	PhaseDiscussion     Phase = "discussion"
	PhaseImplementation Phase = "implementation"
	PhaseReview         Phase = "review"
	PhaseCommand        Phase = "command"
)

// ValidPhases returns the phase keys accepted in phase_timeout_seconds.
func ValidPhases() []Phase {
	return []Phase{PhaseProposal, PhaseDiscussion, PhaseImplementation, PhaseReview, PhaseCommand}
}

// IsValidPhase returns true if p is a recognized phase key.
func IsValidPhase(p Phase) bool {
	switch p {
	case PhaseProposal, PhaseDiscussion, PhaseImplementation, PhaseReview, PhaseCommand:
		return true
	default:
		return false
	}
}

// AuditMode controls the optional architecture audit stage.
type AuditMode string

const (
	AuditOff  AuditMode = "off"
	AuditWarn AuditMode = "warn"
	AuditHard AuditMode = "hard"
)

// AgentFeatures holds per-participant agent-capability toggles.
type AgentFeatures struct {
	ClaudeTeamAgents bool `json:"claude_team_agents" yaml:"claude_team_agents"`
	CodexMultiAgents bool `json:"codex_multi_agents" yaml:"codex_multi_agents"`
}
