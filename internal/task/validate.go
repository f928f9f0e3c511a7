package task

import (
	"fmt"
	"os"

	"github.com/randalmurphal/awe/internal/errors"
)

const (
	// MinPhaseTimeoutSeconds is the lowest accepted per-phase timeout.
	MinPhaseTimeoutSeconds = 10
	// MaxEvolutionLevel bounds the evolution_level field.
	MaxEvolutionLevel = 3
)

// ValidateInput checks caller-supplied task fields against the engine's
// closed enums and structural rules. knownProviders is the set of provider
// keys with a registered adapter. The first offending field is reported.
func ValidateInput(in *Input, knownProviders map[string]bool) *errors.Error {
	if in.Title == "" {
		return errors.Validation("title", "title is required")
	}
	if in.ProjectPath == "" {
		return errors.Validation("project_path", "project path is required")
	}

	if in.AuthorParticipant == "" {
		return errors.Validation("author_participant", "author participant is required")
	}
	author, err := ParseParticipant(in.AuthorParticipant)
	if err != nil {
		return errors.Validation("author_participant", err.Error())
	}
	if !knownProviders[author.Provider] {
		return errors.Validation("author_participant", fmt.Sprintf("unknown provider %q", author.Provider))
	}

	if len(in.ReviewerParticipants) == 0 {
		return errors.Validation("reviewer_participants", "at least one reviewer is required")
	}
	for i, id := range in.ReviewerParticipants {
		p, err := ParseParticipant(id)
		field := fmt.Sprintf("reviewer_participants[%d]", i)
		if err != nil {
			return errors.Validation(field, err.Error())
		}
		if !knownProviders[p.Provider] {
			return errors.Validation(field, fmt.Sprintf("unknown provider %q", p.Provider))
		}
	}

	if in.Language != "" && !IsValidLanguage(in.Language) {
		return errors.Validation("language", "language must be one of: en, zh")
	}
	if in.RepairMode != "" && !IsValidRepairMode(in.RepairMode) {
		return errors.Validation("repair_mode", "repair_mode must be one of: minimal, balanced, structural")
	}
	if in.MemoryMode != "" && !IsValidMemoryMode(in.MemoryMode) {
		return errors.Validation("memory_mode", "memory_mode must be one of: off, basic, strict")
	}
	if in.EvolutionLevel < 0 || in.EvolutionLevel > MaxEvolutionLevel {
		return errors.Validation("evolution_level", "evolution_level must be between 0 and 3")
	}
	if in.SelfLoopMode != 0 && in.SelfLoopMode != 1 {
		return errors.Validation("self_loop_mode", "self_loop_mode must be 0 or 1")
	}
	if in.MaxRounds < 1 {
		return errors.Validation("max_rounds", "max_rounds must be at least 1")
	}

	for phase, secs := range in.PhaseTimeoutSeconds {
		if !IsValidPhase(phase) {
			return errors.Validation("phase_timeout_seconds", fmt.Sprintf("unrecognized phase key %q", phase))
		}
		if secs < MinPhaseTimeoutSeconds {
			return errors.Validation("phase_timeout_seconds",
				fmt.Sprintf("timeout for %s must be at least %d seconds", phase, MinPhaseTimeoutSeconds))
		}
	}

	if in.AutoMerge {
		if in.MergeTargetPath == "" {
			return errors.Validation("merge_target_path", "merge target is required when auto_merge is enabled")
		}
		if info, err := os.Stat(in.MergeTargetPath); err != nil || !info.IsDir() {
			return errors.Validation("merge_target_path", "merge target directory does not exist")
		}
	}

	return nil
}
