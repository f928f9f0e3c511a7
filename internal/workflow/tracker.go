package workflow

import (
	"crypto/sha256"
	"encoding/hex"
)

const (
	// repeatThreshold triggers a strategy shift.
	repeatThreshold = 3
	// shiftLimit terminates the loop as making no progress.
	shiftLimit = 5
)

// progressTracker watches round-over-round signatures and decides when the
// task is spinning in place.
type progressTracker struct {
	lastReason   string
	lastImpl     string
	lastReviews  string
	lastVerify   string
	reasonRepeat int
	implRepeat   int
	reviewRepeat int
	verifyRepeat int
	shifts       int
}

// roundSignals is one round's worth of loop-detection inputs.
type roundSignals struct {
	GateReason     string
	Implementation string
	Reviews        string
	TestsOK        bool
	LintOK         bool
	VerifyReason   string
}

// observe records a failed round. It returns (shift, hint) when a repeat
// threshold is crossed, and terminal=true after the shift budget is spent.
func (t *progressTracker) observe(sig roundSignals) (shift bool, hint string, terminal bool) {
	reason := shortHash(sig.GateReason)
	impl := shortHash(sig.Implementation)
	reviews := shortHash(sig.Reviews)
	verify := shortHash(verifySignature(sig))

	t.reasonRepeat = bump(&t.lastReason, reason, t.reasonRepeat)
	t.implRepeat = bump(&t.lastImpl, impl, t.implRepeat)
	t.reviewRepeat = bump(&t.lastReviews, reviews, t.reviewRepeat)
	t.verifyRepeat = bump(&t.lastVerify, verify, t.verifyRepeat)

	if t.reasonRepeat >= repeatThreshold || t.implRepeat >= repeatThreshold ||
		t.reviewRepeat >= repeatThreshold || t.verifyRepeat >= repeatThreshold {
		t.shifts++
		t.reasonRepeat, t.implRepeat, t.reviewRepeat, t.verifyRepeat = 0, 0, 0, 0
		return true, shiftHint(sig.GateReason), t.shifts >= shiftLimit
	}
	return false, "", false
}

func bump(last *string, cur string, count int) int {
	if *last == cur {
		return count + 1
	}
	*last = cur
	return 1
}

func verifySignature(sig roundSignals) string {
	s := "f"
	if sig.TestsOK {
		s = "t"
	}
	if sig.LintOK {
		s += "t"
	} else {
		s += "f"
	}
	return s + "|" + sig.VerifyReason
}

// shiftHint maps a repeated gate reason to concrete redirection guidance for
// the next round's prompts.
func shiftHint(reason string) string {
	switch reason {
	case ReasonEvidenceMissing:
		return "Cite explicit repo-relative file paths for every claim in the next round; name each changed file and its verification output."
	case ReasonTestsFailed, ReasonLintFailed:
		return "Stop broad refactoring. Pick the single smallest failing check, write or fix one test first, then make only that check pass."
	case ReasonReviewBlocker, ReasonReviewUnknown:
		return "Restrict scope to the blocking reviewer issues only; respond to each issue id individually and change nothing else."
	case ReasonCommandsMissing, ReasonVerificationMissing:
		return "Configure and run the verification commands before any further code changes."
	default:
		return "Change approach: summarize what has been tried, discard the failing strategy, and propose a materially different plan."
	}
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
