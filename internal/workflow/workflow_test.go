package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/command"
	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/runner"
	"github.com/randalmurphal/awe/internal/task"
)

// stubAgent returns scripted results keyed by a classifier func.
type stubAgent struct {
	respond func(inv runner.Invocation) (runner.AdapterResult, error)
	calls   []runner.Invocation
}

func (s *stubAgent) Run(_ context.Context, inv runner.Invocation) (runner.AdapterResult, error) {
	s.calls = append(s.calls, inv)
	return s.respond(inv)
}

type stubCommands struct {
	testOK bool
	lintOK bool
	stdout string
}

func (s *stubCommands) Run(_ context.Context, commandLine, _ string, _ time.Duration) command.Result {
	ok := s.testOK
	if commandLine == "ruff check ." {
		ok = s.lintOK
	}
	rc := 0
	if !ok {
		rc = 1
	}
	return command.Result{OK: ok, Returncode: rc, Stdout: s.stdout}
}

func testTask(t *testing.T) *task.Task {
	t.Helper()
	return &task.Task{
		ID:                   "wf-test-1",
		Title:                "fix parser",
		AuthorParticipant:    "codex#author-A",
		ReviewerParticipants: []string{"claude#review-B"},
		WorkspacePath:        t.TempDir(),
		Language:             task.LanguageEnglish,
		RepairMode:           task.RepairBalanced,
		MaxRounds:            1,
		TestCommand:          "pytest -q",
		LintCommand:          "ruff check .",
		Status:               task.StatusRunning,
	}
}

func newTestEngine(t *testing.T, agent *stubAgent, cmds CommandRunner, tsk *task.Task) *Engine {
	t.Helper()
	reg, err := provider.NewRegistry()
	require.NoError(t, err)
	caller := &AgentCaller{
		Task:     tsk,
		Registry: reg,
		Runner:   agent,
		Commands: map[string][]string{"codex": {"codex", "exec"}, "claude": {"claude", "-p"}},
	}
	store := artifact.NewStore(t.TempDir())
	require.NoError(t, store.EnsureTask(tsk.ID))
	return NewEngine(caller, cmds, store, nil)
}

type recorded struct {
	typ     events.Type
	round   int
	payload map[string]any
}

func collect(evts *[]recorded) EmitFunc {
	return func(typ events.Type, round int, payload map[string]any) {
		*evts = append(*evts, recorded{typ, round, payload})
	}
}

func never() bool { return false }

func hasEvent(evts []recorded, typ events.Type) bool {
	for _, e := range evts {
		if e.typ == typ {
			return true
		}
	}
	return false
}

func okAgent(inv runner.Invocation) (runner.AdapterResult, error) {
	return runner.AdapterResult{
		Output:     `Changed src/x.py per plan. {"verdict": "NO_BLOCKER", "next_action": "pass"}`,
		Verdict:    provider.VerdictNoBlocker,
		NextAction: provider.ActionPass,
	}, nil
}

func TestRunHappyPathSingleRound(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: okAgent}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusPassed, res.Status)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, ReasonPassed, res.GateReason)
	assert.True(t, res.Checklist.Passed)
	assert.NotEmpty(t, res.Checklist.EvidencePaths)

	for _, typ := range []events.Type{
		events.RoundStarted, events.Discussion, events.Implementation,
		events.Review, events.Verification, events.PrecompletionChecklist,
		events.GatePassed,
	} {
		assert.True(t, hasEvent(evts, typ), string(typ))
	}
}

func TestRunTestsFailedThenExhausted(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: okAgent}
	eng := newTestEngine(t, agent, &stubCommands{testOK: false, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonTestsFailed, res.GateReason)
	assert.True(t, hasEvent(evts, events.GateFailed))
}

func TestRunEvidenceMissingBlocksPass(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: func(runner.Invocation) (runner.AdapterResult, error) {
		return runner.AdapterResult{
			Output:  `all done, trust me {"verdict": "NO_BLOCKER", "next_action": "pass"}`,
			Verdict: provider.VerdictNoBlocker,
		}, nil
	}}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonEvidenceMissing, res.GateReason)
}

func TestRunReviewerBlocker(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: func(inv runner.Invocation) (runner.AdapterResult, error) {
		if inv.Provider == "claude" {
			return runner.AdapterResult{
				Output:  `src/x.py is wrong {"verdict": "BLOCKER", "next_action": "retry"}`,
				Verdict: provider.VerdictBlocker,
			}, nil
		}
		return okAgent(inv)
	}}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonReviewBlocker, res.GateReason)
}

func TestRunReviewerErrorDegradesToUnknown(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: func(inv runner.Invocation) (runner.AdapterResult, error) {
		if inv.Provider == "claude" {
			return runner.AdapterResult{}, errors.New(errors.CodeCommandFailed, "command_failed provider=claude returncode=1")
		}
		return okAgent(inv)
	}}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.True(t, hasEvent(evts, events.ReviewError))
	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonReviewUnknown, res.GateReason)
}

func TestRunAuthorErrorFailsRound(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: func(inv runner.Invocation) (runner.AdapterResult, error) {
		if inv.Provider == "codex" {
			return runner.AdapterResult{}, errors.New(errors.CodeProviderLimit, "provider_limit provider=codex command=codex")
		}
		return okAgent(inv)
	}}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, string(errors.CodeProviderLimit), res.GateReason)
}

func TestRunCanceledBeforeRound(t *testing.T) {
	tsk := testTask(t)
	agent := &stubAgent{respond: okAgent}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), func() bool { return true })

	assert.Equal(t, task.StatusCanceled, res.Status)
	assert.Equal(t, 0, res.Rounds)
	assert.True(t, hasEvent(evts, events.Canceled))
	assert.Empty(t, agent.calls, "no agent runs after cancellation")
}

func TestRunDeadlineReached(t *testing.T) {
	tsk := testTask(t)
	past := time.Now().Add(-time.Minute)
	tsk.EvolveUntil = &past

	agent := &stubAgent{respond: okAgent}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusCanceled, res.Status)
	assert.Equal(t, ReasonDeadlineReached, res.GateReason)
	assert.True(t, hasEvent(evts, events.DeadlineReached))
	assert.Empty(t, agent.calls)
}

func TestRunLoopNoProgress(t *testing.T) {
	tsk := testTask(t)
	tsk.MaxRounds = 50
	agent := &stubAgent{respond: okAgent}
	// tests always fail with identical signatures
	eng := newTestEngine(t, agent, &stubCommands{testOK: false, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonLoopNoProgress, res.GateReason)

	shifts := 0
	for _, e := range evts {
		if e.typ == events.StrategyShifted {
			shifts++
		}
	}
	assert.Equal(t, shiftLimit, shifts)
	assert.Less(t, res.Rounds, 50)
}

func TestRunSecondRoundMentionsPreviousReason(t *testing.T) {
	tsk := testTask(t)
	tsk.MaxRounds = 2
	agent := &stubAgent{respond: okAgent}
	cmds := &stubCommands{testOK: false, lintOK: true}
	eng := newTestEngine(t, agent, cmds, tsk)

	round := 0
	agent.respond = func(inv runner.Invocation) (runner.AdapterResult, error) {
		if inv.Provider == "codex" && round >= 1 {
			assert.Contains(t, inv.Prompt, "Previous gate failure reason: "+ReasonTestsFailed)
		}
		return okAgent(inv)
	}
	var evts []recorded
	emit := func(typ events.Type, r int, payload map[string]any) {
		if typ == events.RoundStarted {
			round = r - 1
		}
		evts = append(evts, recorded{typ, r, payload})
	}
	_ = eng.Run(context.Background(), tsk, emit, never)
}

func TestRunDebateUnavailable(t *testing.T) {
	tsk := testTask(t)
	tsk.DebateMode = true
	agent := &stubAgent{respond: func(inv runner.Invocation) (runner.AdapterResult, error) {
		if inv.Provider == "claude" {
			return runner.AdapterResult{Output: ""}, nil
		}
		return okAgent(inv)
	}}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusFailedGate, res.Status)
	assert.Equal(t, ReasonDebateUnavailable, res.GateReason)
	assert.True(t, hasEvent(evts, events.DebateReviewError))
}

func TestRunRoundArtifacts(t *testing.T) {
	tsk := testTask(t)
	tsk.MaxRounds = 2
	agent := &stubAgent{respond: okAgent}
	eng := newTestEngine(t, agent, &stubCommands{testOK: true, lintOK: true}, tsk)

	var evts []recorded
	res := eng.Run(context.Background(), tsk, collect(&evts), never)

	assert.Equal(t, task.StatusPassed, res.Status)
	assert.True(t, hasEvent(evts, events.RoundArtifactReady))
}
