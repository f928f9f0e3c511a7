package provider

import (
	"strings"
)

// claudeAdapter drives the Claude CLI. The prompt goes over stdin in print
// mode. When the team-agents toggle is on and the capability is declared,
// the agents flag is injected.
type claudeAdapter struct{}

func (claudeAdapter) Name() string { return "claude" }

func (claudeAdapter) Capabilities() Capabilities {
	return Capabilities{ClaudeTeamAgents: true}
}

func (a claudeAdapter) BuildArgv(base []string, model, modelParams string, claudeTeamAgents, _ bool) []string {
	argv := append([]string{}, base...)
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if claudeTeamAgents && a.Capabilities().ClaudeTeamAgents && !hasFlag(argv, "--agents") {
		argv = append(argv, "--agents")
	}
	argv = appendParams(argv, modelParams)
	return argv
}

func (claudeAdapter) PrepareInvocation(argv []string, prompt string) ([]string, string) {
	return argv, prompt
}

func (claudeAdapter) NormalizeOutput(raw string) string {
	return stripNoise(raw, []string{
		"(node:",
		"[dotenv",
	})
}

// codexAdapter drives the Codex CLI. Injects the multi-agent enable flag
// when toggled.
type codexAdapter struct{}

func (codexAdapter) Name() string { return "codex" }

func (codexAdapter) Capabilities() Capabilities {
	return Capabilities{CodexMultiAgents: true}
}

func (a codexAdapter) BuildArgv(base []string, model, modelParams string, _, codexMultiAgents bool) []string {
	argv := append([]string{}, base...)
	if model != "" {
		argv = append(argv, "--model", model)
	}
	if codexMultiAgents && a.Capabilities().CodexMultiAgents && !hasFlag(argv, "--enable-multi-agent") {
		argv = append(argv, "--enable-multi-agent")
	}
	argv = appendParams(argv, modelParams)
	return argv
}

func (codexAdapter) PrepareInvocation(argv []string, prompt string) ([]string, string) {
	return argv, prompt
}

func (codexAdapter) NormalizeOutput(raw string) string {
	return stripNoise(raw, []string{
		"[codex]",
		"tokens used:",
	})
}

// geminiAdapter drives the Gemini CLI. The CLI rejects duplicate
// approval-mode flags, so conflicting occurrences are collapsed to the last
// one given.
type geminiAdapter struct{}

func (geminiAdapter) Name() string { return "gemini" }

func (geminiAdapter) Capabilities() Capabilities { return Capabilities{} }

func (geminiAdapter) BuildArgv(base []string, model, modelParams string, _, _ bool) []string {
	argv := append([]string{}, base...)
	if model != "" {
		argv = append(argv, "--model", model)
	}
	argv = appendParams(argv, modelParams)
	return dedupeApprovalFlags(argv)
}

func (geminiAdapter) PrepareInvocation(argv []string, prompt string) ([]string, string) {
	return argv, prompt
}

func (geminiAdapter) NormalizeOutput(raw string) string {
	return stripNoise(raw, []string{
		"Loaded cached credentials",
		"[WARN]",
	})
}

// genericAdapter covers user-registered providers from
// AWE_PROVIDER_ADAPTERS_JSON. It applies no provider-specific flag logic.
type genericAdapter struct {
	name string
	caps Capabilities
	// promptFlag, when set, delivers the prompt as a trailing flag value
	// instead of stdin.
	promptFlag string
	modelFlag  string
}

func (g genericAdapter) Name() string { return g.name }

func (g genericAdapter) Capabilities() Capabilities { return g.caps }

func (g genericAdapter) BuildArgv(base []string, model, modelParams string, _, _ bool) []string {
	argv := append([]string{}, base...)
	if model != "" {
		flag := g.modelFlag
		if flag == "" {
			flag = "--model"
		}
		argv = append(argv, flag, model)
	}
	return appendParams(argv, modelParams)
}

func (g genericAdapter) PrepareInvocation(argv []string, prompt string) ([]string, string) {
	if g.promptFlag != "" {
		out := append(append([]string{}, argv...), g.promptFlag, prompt)
		return out, ""
	}
	return argv, prompt
}

func (genericAdapter) NormalizeOutput(raw string) string { return raw }

// approvalFlags are the gemini flags that conflict when repeated.
var approvalFlags = map[string]bool{
	"--approval-mode": true,
	"--yolo":          true,
	"-y":              true,
}

// dedupeApprovalFlags keeps only the last approval-mode flag occurrence.
func dedupeApprovalFlags(argv []string) []string {
	last := -1
	for i, a := range argv {
		if approvalFlags[a] {
			last = i
		}
	}
	if last < 0 {
		return argv
	}
	out := make([]string, 0, len(argv))
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		if approvalFlags[a] && i != last {
			if a == "--approval-mode" && i+1 < len(argv) && !strings.HasPrefix(argv[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

func appendParams(argv []string, modelParams string) []string {
	if modelParams == "" {
		return argv
	}
	return append(argv, strings.Fields(modelParams)...)
}

func hasFlag(argv []string, flag string) bool {
	for _, a := range argv {
		if a == flag {
			return true
		}
	}
	return false
}

// stripNoise drops lines beginning with any of the given prefixes, unless
// the line sits inside a fenced block.
func stripNoise(raw string, prefixes []string) string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	fenced := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fenced = !fenced
			out = append(out, line)
			continue
		}
		if !fenced && lineHasPrefix(line, prefixes) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func lineHasPrefix(line string, prefixes []string) bool {
	trimmed := strings.TrimSpace(line)
	for _, p := range prefixes {
		if strings.HasPrefix(trimmed, p) {
			return true
		}
	}
	return false
}
