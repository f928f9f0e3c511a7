package workflow

import (
	"context"
	"time"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/runner"
	"github.com/randalmurphal/awe/internal/task"
)

// AgentRunner executes one adapter invocation. Satisfied by *runner.Runner
// and by stubs in tests.
type AgentRunner interface {
	Run(ctx context.Context, inv runner.Invocation) (runner.AdapterResult, error)
}

// AgentCaller binds a task's policy to the provider registry and runner so
// stages can invoke a participant with one call. Shared by the main loop
// and the proposal consensus subprotocol.
type AgentCaller struct {
	Task     *task.Task
	Registry *provider.Registry
	Runner   AgentRunner
	// Commands maps provider key to its base argv.
	Commands map[string][]string
	OnStream runner.StreamFunc
	DryRun   bool
}

// defaultPhaseTimeout applies when the task has no explicit entry.
const defaultPhaseTimeout = 10 * time.Minute

// Call runs one participant for a phase. The returned error carries a
// runtime-error code from the process taxonomy when the invocation failed.
func (a *AgentCaller) Call(ctx context.Context, p task.Participant, phase task.Phase, prompt string) (runner.AdapterResult, error) {
	adapter := a.Registry.Lookup(p.Provider)
	base, ok := a.Commands[p.Provider]
	if !ok || len(base) == 0 {
		return runner.AdapterResult{}, errors.Newf(errors.CodeCommandNotConfigured,
			"command_not_configured provider=%s", p.Provider)
	}
	features := a.Task.FeaturesFor(p.String())
	argv := adapter.BuildArgv(base,
		a.Task.ModelFor(p.String()),
		a.Task.ModelParamsFor(p.String()),
		features.ClaudeTeamAgents,
		features.CodexMultiAgents)

	var onStream runner.StreamFunc
	if a.Task.StreamMode {
		onStream = a.OnStream
	}
	return a.Runner.Run(ctx, runner.Invocation{
		Provider:       p.Provider,
		Adapter:        adapter,
		Argv:           argv,
		Prompt:         prompt,
		WorkDir:        a.Task.WorkspacePath,
		TimeoutSeconds: a.Task.PhaseTimeout(phase, defaultPhaseTimeout).Seconds(),
		TimeoutRetries: runner.DefaultTimeoutRetries,
		OnStream:       onStream,
		DryRun:         a.DryRun,
	})
}

// CacheInputs returns the signature inputs the prompt-cache probe hashes
// for this participant.
func (a *AgentCaller) CacheInputs(p task.Participant) (model, params, toolset string) {
	features := a.Task.FeaturesFor(p.String())
	return a.Task.ModelFor(p.String()),
		a.Task.ModelParamsFor(p.String()),
		toolsetSignature(features.ClaudeTeamAgents, features.CodexMultiAgents)
}
