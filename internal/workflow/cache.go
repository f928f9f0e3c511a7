package workflow

import (
	"fmt"
	"strings"
)

const staticPrefixLimit = 1800

// cacheProbe tracks prompt signatures per (participant, stage) so prompt
// cache breaks can be attributed to a specific cause.
type cacheProbe struct {
	last map[string]cacheSignature
}

type cacheSignature struct {
	Model   string
	Toolset string
	Prefix  string
}

// ProbeResult feeds the prompt_cache_probe and prompt_cache_break events.
type ProbeResult struct {
	ReuseEligible bool   `json:"reuse_eligible"`
	Reused        bool   `json:"reused"`
	BreakReason   string `json:"break_reason,omitempty"`
}

func newCacheProbe() *cacheProbe {
	return &cacheProbe{last: map[string]cacheSignature{}}
}

// probe computes the three signatures and compares them to the previous
// invocation for the same participant and stage. The first invocation is
// reuse-eligible but not reused.
func (p *cacheProbe) probe(participant, stage, model, modelParams, toolset, prompt string) ProbeResult {
	sig := cacheSignature{
		Model:   shortHash(model + "|" + modelParams),
		Toolset: shortHash(toolset),
		Prefix:  shortHash(staticPrefix(prompt)),
	}
	key := participant + "|" + stage
	prev, ok := p.last[key]
	p.last[key] = sig
	if !ok {
		return ProbeResult{ReuseEligible: true}
	}
	switch {
	case prev.Model != sig.Model:
		return ProbeResult{ReuseEligible: true, BreakReason: "model_changed"}
	case prev.Toolset != sig.Toolset:
		return ProbeResult{ReuseEligible: true, BreakReason: "toolset_changed"}
	case prev.Prefix != sig.Prefix:
		return ProbeResult{ReuseEligible: true, BreakReason: "prefix_changed"}
	}
	return ProbeResult{ReuseEligible: true, Reused: true}
}

// staticPrefix is everything before the first Context: marker, capped.
func staticPrefix(prompt string) string {
	if idx := strings.Index(prompt, "Context:"); idx >= 0 {
		prompt = prompt[:idx]
	}
	if len(prompt) > staticPrefixLimit {
		prompt = prompt[:staticPrefixLimit]
	}
	return prompt
}

func toolsetSignature(claudeTeamAgents, codexMultiAgents bool) string {
	return fmt.Sprintf("team_agents=%t multi_agents=%t", claudeTeamAgents, codexMultiAgents)
}
