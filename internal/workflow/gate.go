package workflow

import (
	"github.com/randalmurphal/awe/internal/provider"
)

// GateInput is what gate evaluation needs, whether fed by the engine or the
// manual gate endpoint.
type GateInput struct {
	TestsOK          bool
	LintOK           bool
	ReviewerVerdicts []provider.Verdict
}

// EvaluateGate returns (passed, reason). A gate passes only when tests and
// lint are ok and every reviewer verdict is NO_BLOCKER. Failure reasons
// apply in order: tests, lint, blocker, unknown.
func EvaluateGate(in GateInput) (bool, string) {
	if !in.TestsOK {
		return false, ReasonTestsFailed
	}
	if !in.LintOK {
		return false, ReasonLintFailed
	}
	for _, v := range in.ReviewerVerdicts {
		if v == provider.VerdictBlocker {
			return false, ReasonReviewBlocker
		}
	}
	for _, v := range in.ReviewerVerdicts {
		if v != provider.VerdictNoBlocker {
			return false, ReasonReviewUnknown
		}
	}
	return true, ReasonPassed
}
