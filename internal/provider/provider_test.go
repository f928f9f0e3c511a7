package provider

import (
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClaudeBuildArgv(t *testing.T) {
	a := claudeAdapter{}
	argv := a.BuildArgv([]string{"claude", "-p"}, "opus", "", true, false)
	assert.Equal(t, []string{"claude", "-p", "--model", "opus", "--agents"}, argv)

	// toggle off: no agents flag
	argv = a.BuildArgv([]string{"claude", "-p"}, "", "", false, false)
	assert.Equal(t, []string{"claude", "-p"}, argv)
}

func TestCodexBuildArgvMultiAgent(t *testing.T) {
	a := codexAdapter{}
	argv := a.BuildArgv([]string{"codex", "exec"}, "", "--sandbox full", false, true)
	assert.Equal(t, []string{"codex", "exec", "--enable-multi-agent", "--sandbox", "full"}, argv)
}

func TestGeminiDedupesApprovalFlags(t *testing.T) {
	a := geminiAdapter{}
	argv := a.BuildArgv([]string{"gemini", "--approval-mode", "auto_edit", "--yolo"}, "", "", false, false)
	assert.Equal(t, []string{"gemini", "--yolo"}, argv)

	argv = a.BuildArgv([]string{"gemini", "--yolo", "--approval-mode", "plan"}, "", "", false, false)
	assert.Equal(t, []string{"gemini", "--approval-mode", "plan"}, argv)
}

func TestGenericPromptFlag(t *testing.T) {
	g := genericAdapter{name: "myagent", promptFlag: "-p"}
	argv, stdin := g.PrepareInvocation([]string{"myagent"}, "do the thing")
	assert.Equal(t, []string{"myagent", "-p", "do the thing"}, argv)
	assert.Empty(t, stdin)

	g = genericAdapter{name: "other"}
	argv, stdin = g.PrepareInvocation([]string{"other"}, "do the thing")
	assert.Equal(t, []string{"other"}, argv)
	assert.Equal(t, "do the thing", stdin)
}

func TestRegistry(t *testing.T) {
	t.Setenv(EnvAdaptersJSON, `{"myagent": {"prompt_flag": "-p", "model_flag": "-m"}}`)
	r, err := NewRegistry()
	require.NoError(t, err)

	assert.True(t, r.Known("claude"))
	assert.True(t, r.Known("myagent"))
	assert.False(t, r.Known("nope"))
	assert.Equal(t, []string{"claude", "codex", "gemini", "myagent"}, r.Names())

	// unknown providers still resolve to a usable adapter
	a := r.Lookup("nope")
	assert.Equal(t, "nope", a.Name())
}

func TestRegistryBadJSON(t *testing.T) {
	t.Setenv(EnvAdaptersJSON, `{not json`)
	_, err := NewRegistry()
	require.Error(t, err)
	assert.Equal(t, errors.CodeValidation, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "parse "+EnvAdaptersJSON)
	// the json parse failure stays in the chain
	var syn *json.SyntaxError
	assert.True(t, stderrors.As(err, &syn))
}

func TestParseControlJSON(t *testing.T) {
	out := "analysis text\n```json\n{\"verdict\": \"NO_BLOCKER\", \"next_action\": \"pass\"}\n```\ntrailer"
	c, ok := ParseControl(out)
	require.True(t, ok)
	assert.Equal(t, VerdictNoBlocker, c.Verdict)
	assert.Equal(t, ActionPass, c.NextAction)
}

func TestParseControlFirstObjectWins(t *testing.T) {
	out := `{"verdict": "BLOCKER", "next_action": "retry"}
later reflection:
{"verdict": "NO_BLOCKER", "next_action": "pass"}`
	c, ok := ParseControl(out)
	require.True(t, ok)
	assert.Equal(t, VerdictBlocker, c.Verdict)
}

func TestParseControlRepairsNearJSON(t *testing.T) {
	out := `{"verdict": "BLOCKER", "next_action": "retry", "issue": "missing tests",}`
	c, ok := ParseControl(out)
	require.True(t, ok)
	assert.Equal(t, VerdictBlocker, c.Verdict)
	assert.Equal(t, ActionRetry, c.NextAction)
	assert.Equal(t, "missing tests", c.Issue)
}

func TestParseControlDefaultsAction(t *testing.T) {
	c, ok := ParseControl(`{"verdict": "UNKNOWN"}`)
	require.True(t, ok)
	assert.Equal(t, ActionRetry, c.NextAction)

	c, ok = ParseControl(`{"verdict": "NO_BLOCKER"}`)
	require.True(t, ok)
	assert.Equal(t, ActionPass, c.NextAction)
}

func TestParseControlLegacyLines(t *testing.T) {
	out := "some text\nVERDICT: NO_BLOCKER\nNEXT_ACTION: pass\n"

	_, ok := ParseControl(out)
	assert.False(t, ok, "legacy lines need the compat flag")

	t.Setenv(EnvControlSchemaCompat, "1")
	c, ok := ParseControl(out)
	require.True(t, ok)
	assert.Equal(t, VerdictNoBlocker, c.Verdict)
	assert.Equal(t, ActionPass, c.NextAction)
}

func TestParseControlNone(t *testing.T) {
	_, ok := ParseControl("no structured output here")
	assert.False(t, ok)
}

func TestExtractJSONObjectsBracesInStrings(t *testing.T) {
	objs := ExtractJSONObjects(`prefix {"a": "has } brace", "b": 2} suffix`)
	require.Len(t, objs, 1)
	assert.Contains(t, objs[0], "has } brace")
}

func TestNormalizeOutputStripsNoise(t *testing.T) {
	raw := "(node:1234) warning\nreal content\n"
	clean := claudeAdapter{}.NormalizeOutput(raw)
	assert.NotContains(t, clean, "node:1234")
	assert.Contains(t, clean, "real content")
}
