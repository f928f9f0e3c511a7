package provider

import (
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// Verdict is a reviewer or self-check outcome.
type Verdict string

const (
	VerdictNoBlocker Verdict = "NO_BLOCKER"
	VerdictBlocker   Verdict = "BLOCKER"
	VerdictUnknown   Verdict = "UNKNOWN"
)

// NextAction is the agent's requested continuation.
type NextAction string

const (
	ActionPass  NextAction = "pass"
	ActionRetry NextAction = "retry"
	ActionStop  NextAction = "stop"
)

// EnvControlSchemaCompat accepts legacy VERDICT:/NEXT_ACTION: control lines
// in addition to the JSON control object.
const EnvControlSchemaCompat = "AWE_CONTROL_SCHEMA_COMPAT"

// Control is the structured agent response.
type Control struct {
	Verdict    Verdict
	NextAction NextAction
	Issue      string
	Impact     string
	Next       string
	// Raw is the JSON object the control was parsed from, empty for
	// legacy-line parses.
	Raw string
}

// ParseControl extracts the control object from agent output. The first JSON
// object carrying a valid verdict key wins. When no object parses and the
// compat flag is set, legacy control lines are consulted. Returns false when
// no control is found.
func ParseControl(output string) (Control, bool) {
	for _, obj := range ExtractJSONObjects(output) {
		v := gjson.Get(obj, "verdict")
		if !v.Exists() {
			continue
		}
		verdict, ok := normalizeVerdict(v.String())
		if !ok {
			continue
		}
		c := Control{
			Verdict: verdict,
			Issue:   gjson.Get(obj, "issue").String(),
			Impact:  gjson.Get(obj, "impact").String(),
			Next:    gjson.Get(obj, "next").String(),
			Raw:     obj,
		}
		c.NextAction, _ = normalizeAction(gjson.Get(obj, "next_action").String())
		if c.NextAction == "" {
			c.NextAction = defaultAction(verdict)
		}
		return c, true
	}
	if compatEnabled() {
		return parseLegacyControl(output)
	}
	return Control{}, false
}

func compatEnabled() bool {
	switch strings.ToLower(os.Getenv(EnvControlSchemaCompat)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// parseLegacyControl reads VERDICT: and NEXT_ACTION: lines, last wins.
func parseLegacyControl(output string) (Control, bool) {
	var c Control
	found := false
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "VERDICT:"); ok {
			if v, ok := normalizeVerdict(rest); ok {
				c.Verdict = v
				found = true
			}
		}
		if rest, ok := strings.CutPrefix(trimmed, "NEXT_ACTION:"); ok {
			if a, ok := normalizeAction(rest); ok {
				c.NextAction = a
			}
		}
	}
	if !found {
		return Control{}, false
	}
	if c.NextAction == "" {
		c.NextAction = defaultAction(c.Verdict)
	}
	return c, true
}

func normalizeVerdict(s string) (Verdict, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case string(VerdictNoBlocker):
		return VerdictNoBlocker, true
	case string(VerdictBlocker):
		return VerdictBlocker, true
	case string(VerdictUnknown):
		return VerdictUnknown, true
	}
	return "", false
}

func normalizeAction(s string) (NextAction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(ActionPass):
		return ActionPass, true
	case string(ActionRetry):
		return ActionRetry, true
	case string(ActionStop):
		return ActionStop, true
	}
	return "", false
}

func defaultAction(v Verdict) NextAction {
	if v == VerdictNoBlocker {
		return ActionPass
	}
	return ActionRetry
}
