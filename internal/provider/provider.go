// Package provider supplies adapters for external code-agent CLIs.
//
// An adapter knows how to build an argv for its provider, how to deliver the
// prompt (stdin for most providers, a flag for some), and how to scrub
// provider-specific noise from raw output. Adapters are pure; process
// execution lives in the runner package.
package provider

// Capabilities declares which agent-feature toggles a provider understands.
type Capabilities struct {
	ClaudeTeamAgents bool `json:"claude_team_agents"`
	CodexMultiAgents bool `json:"codex_multi_agents"`
}

// Adapter is the per-provider protocol.
type Adapter interface {
	// Name returns the provider key (e.g. "claude").
	Name() string

	// Capabilities returns the declared feature flags.
	Capabilities() Capabilities

	// BuildArgv assembles the command line from a base command, optional
	// model and model-param strings, and the two agent-feature toggles.
	BuildArgv(base []string, model, modelParams string, claudeTeamAgents, codexMultiAgents bool) []string

	// PrepareInvocation produces the final argv and the stdin payload.
	// Providers that take the prompt as a flag return an empty stdin.
	PrepareInvocation(argv []string, prompt string) ([]string, string)

	// NormalizeOutput filters provider noise, preserving the last
	// structured control object.
	NormalizeOutput(raw string) string
}
