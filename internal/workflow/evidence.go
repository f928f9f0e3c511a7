package workflow

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// evidencePathRe is deliberately conservative: a relative path-ish token
// with at least one separator or a file extension, made of safe filename
// characters.
var evidencePathRe = regexp.MustCompile(`(?:^|[\s"'` + "`" + `(\[])((?:[A-Za-z]:)?[\\/]?(?:[\w.\-]+[\\/])*[\w\-]+\.[\w]{1,8})`)

// ExtractEvidencePaths finds repo-relative file paths in free text. Absolute
// paths inside the workspace are normalized to workspace-relative; http(s)
// URLs and fragments shorter than 5 characters are excluded.
func ExtractEvidencePaths(text, workspace string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range evidencePathRe.FindAllStringSubmatchIndex(text, -1) {
		cand := text[m[2]:m[3]]
		if len(cand) < 5 {
			continue
		}
		start := m[2]
		if looksLikeURL(text, start) {
			continue
		}
		p := normalizeEvidencePath(cand, workspace)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func looksLikeURL(text string, start int) bool {
	prefix := text[:start]
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasSuffix(prefix, scheme) {
			return true
		}
		// the host portion of a URL also matches the path regex
		if idx := strings.LastIndex(prefix, scheme); idx >= 0 && !strings.ContainsAny(prefix[idx:], " \t\n") {
			return true
		}
	}
	return false
}

func normalizeEvidencePath(p, workspace string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if workspace != "" {
		ws := strings.ReplaceAll(workspace, `\`, "/")
		ws = strings.TrimSuffix(ws, "/") + "/"
		if strings.HasPrefix(p, ws) {
			return strings.TrimPrefix(p, ws)
		}
	}
	if filepath.IsAbs(p) || (len(p) >= 2 && p[1] == ':') {
		// absolute but outside the workspace
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// Checklist is the structured pre-completion evaluation.
type Checklist struct {
	TestCommandConfigured bool     `json:"test_command_configured"`
	LintCommandConfigured bool     `json:"lint_command_configured"`
	VerificationExecuted  bool     `json:"verification_executed"`
	TestsOK               bool     `json:"tests_ok"`
	LintOK                bool     `json:"lint_ok"`
	EvidencePaths         []string `json:"evidence_paths"`
	Passed                bool     `json:"passed"`
	Reason                string   `json:"reason"`
}

// Pre-completion and gate reasons, in checklist priority order.
const (
	ReasonCommandsMissing     = "precompletion_commands_missing"
	ReasonVerificationMissing = "precompletion_verification_missing"
	ReasonTestsFailed         = "tests_failed"
	ReasonLintFailed          = "lint_failed"
	ReasonEvidenceMissing     = "precompletion_evidence_missing"
	ReasonPassed              = "passed"
	ReasonReviewBlocker       = "review_blocker"
	ReasonReviewUnknown       = "review_unknown"
	ReasonLoopNoProgress      = "loop_no_progress"
	ReasonDeadlineReached     = "deadline_reached"
	ReasonDebateUnavailable   = "debate_review_unavailable"
)

// EvaluateChecklist applies the reason priority: commands missing, then
// verification missing, tests, lint, evidence.
func EvaluateChecklist(testConfigured, lintConfigured, verificationExecuted, testsOK, lintOK bool, evidence []string) Checklist {
	c := Checklist{
		TestCommandConfigured: testConfigured,
		LintCommandConfigured: lintConfigured,
		VerificationExecuted:  verificationExecuted,
		TestsOK:               testsOK,
		LintOK:                lintOK,
		EvidencePaths:         evidence,
	}
	switch {
	case !testConfigured || !lintConfigured:
		c.Reason = ReasonCommandsMissing
	case !verificationExecuted:
		c.Reason = ReasonVerificationMissing
	case !testsOK:
		c.Reason = ReasonTestsFailed
	case !lintOK:
		c.Reason = ReasonLintFailed
	case len(evidence) == 0:
		c.Reason = ReasonEvidenceMissing
	default:
		c.Reason = ReasonPassed
		c.Passed = true
	}
	return c
}
