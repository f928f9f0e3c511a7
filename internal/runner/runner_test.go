package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/provider"
)

func testAdapter(t *testing.T) provider.Adapter {
	t.Helper()
	r, err := provider.NewRegistry()
	require.NoError(t, err)
	return r.Lookup("shell-test")
}

func TestRunDryRun(t *testing.T) {
	r := New(nil)
	res, err := r.Run(context.Background(), Invocation{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, provider.VerdictNoBlocker, res.Verdict)
	assert.Equal(t, provider.ActionPass, res.NextAction)
}

func TestRunCommandNotFound(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Invocation{
		Provider: "claude",
		Adapter:  testAdapter(t),
		Argv:     []string{"definitely-not-a-real-binary-xyz"},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeCommandNotFound, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "provider=claude")
}

func TestRunCommandNotConfigured(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Invocation{Provider: "p", Adapter: testAdapter(t)})
	assert.Equal(t, errors.CodeCommandNotConfigured, errors.CodeOf(err))
}

func TestRunHappyPath(t *testing.T) {
	r := New(nil)
	res, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sh", "-c", `echo '{"verdict": "NO_BLOCKER", "next_action": "pass"}'`},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Returncode)
	assert.Equal(t, provider.VerdictNoBlocker, res.Verdict)
	assert.Equal(t, provider.ActionPass, res.NextAction)
	assert.Greater(t, res.DurationSeconds, 0.0)
}

func TestRunDefaultVerdictUnknown(t *testing.T) {
	r := New(nil)
	res, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sh", "-c", "echo plain text"},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.VerdictUnknown, res.Verdict)
}

func TestRunCommandFailed(t *testing.T) {
	r := New(nil)
	res, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sh", "-c", "echo broken >&2; exit 3"},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeCommandFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "returncode=3")
	assert.Equal(t, 3, res.Returncode)
	assert.Contains(t, res.Output, "broken")
}

func TestRunProviderLimitWinsOverExitCode(t *testing.T) {
	r := New(nil)
	_, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sh", "-c", "echo 'You have hit your LIMIT for today'; exit 0"},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeProviderLimit, errors.CodeOf(err))
}

func TestRunTimeoutSharedBudget(t *testing.T) {
	r := New(nil)
	start := time.Now()
	res, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sleep", "10"},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 1,
		TimeoutRetries: 1,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeCommandTimeout, errors.CodeOf(err))
	assert.Equal(t, 124, res.Returncode)
	// both attempts plus backoff still fit inside a few seconds
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunStreamsOutput(t *testing.T) {
	r := New(nil)
	var chunks []string
	res, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{"sh", "-c", "echo one; echo two >&2"},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
		OnStream: func(stream, chunk string) {
			chunks = append(chunks, stream+":"+strings.TrimSpace(chunk))
		},
	})
	require.NoError(t, err)
	assert.Contains(t, chunks, "stdout:one")
	assert.Contains(t, chunks, "stderr:two")
	assert.Contains(t, res.Output, "one")
}

func TestRunStreamStartFailure(t *testing.T) {
	// executable bit set but no valid format: lookPath passes, Start
	// fails, and the streaming path reports command_failed with the
	// exec error in the chain.
	bad := filepath.Join(t.TempDir(), "not-a-binary")
	require.NoError(t, os.WriteFile(bad, []byte{0x00, 0x01}, 0o755))

	r := New(nil)
	_, err := r.Run(context.Background(), Invocation{
		Provider:       "shell-test",
		Adapter:        testAdapter(t),
		Argv:           []string{bad},
		WorkDir:        t.TempDir(),
		TimeoutSeconds: 10,
		OnStream:       func(string, string) {},
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeCommandFailed, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "provider=shell-test")
}

func TestClipPrompt(t *testing.T) {
	long := strings.Repeat("x", 5000)
	clipped := clipPrompt(long, retryPromptLimit)
	assert.Len(t, clipped, retryPromptLimit+len(truncationMarker))
	assert.True(t, strings.HasSuffix(clipped, truncationMarker))

	assert.Equal(t, "short", clipPrompt("short", retryPromptLimit))
}

func TestChildEnv(t *testing.T) {
	t.Setenv("PYTEST_CURRENT_TEST", "leaky")
	t.Setenv("PYTHONPATH", "/existing:/elsewhere")

	env := ChildEnv("/ws")
	var pythonPath string
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		assert.NotEqual(t, "PYTEST_CURRENT_TEST", k)
		if k == "PYTHONPATH" {
			pythonPath = v
		}
	}
	parts := strings.Split(pythonPath, string(os.PathListSeparator))
	require.NotEmpty(t, parts)
	assert.Equal(t, "/ws/src", parts[0])
	assert.Contains(t, parts, "/existing")
}

func TestChildEnvDedupesSrc(t *testing.T) {
	t.Setenv("PYTHONPATH", "/ws/src:/other")
	env := ChildEnv("/ws")
	for _, kv := range env {
		if k, v, _ := strings.Cut(kv, "="); k == "PYTHONPATH" {
			assert.Equal(t, "/ws/src"+string(os.PathListSeparator)+"/other", v)
		}
	}
}

func TestMatchesLimit(t *testing.T) {
	assert.True(t, matchesLimit("ERROR: Rate Limit exceeded"))
	assert.True(t, matchesLimit("no capacity available right now"))
	assert.False(t, matchesLimit("all good"))
}
