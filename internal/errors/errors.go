// Package errors provides structured error types for awe.
//
// Every failure that can surface to a caller carries a stable Code from the
// engine's taxonomy. Codes double as gate/terminal reasons, so they must
// never be reworded once released.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Code is a stable machine-readable error identifier.
type Code string

const (
	// Validation
	CodeValidation Code = "validation_error"

	// Runtime / process
	CodeProviderLimit        Code = "provider_limit"
	CodeCommandTimeout       Code = "command_timeout"
	CodeCommandNotFound      Code = "command_not_found"
	CodeCommandNotConfigured Code = "command_not_configured"
	CodeCommandFailed        Code = "command_failed"

	// Workflow gates
	CodeTestsFailed                  Code = "tests_failed"
	CodeLintFailed                   Code = "lint_failed"
	CodeReviewBlocker                Code = "review_blocker"
	CodeReviewUnknown                Code = "review_unknown"
	CodePrecompletionCommandsMissing Code = "precompletion_commands_missing"
	CodePrecompletionVerifyMissing   Code = "precompletion_verification_missing"
	CodePrecompletionEvidenceMissing Code = "precompletion_evidence_missing"
	CodeArchThresholdExceeded        Code = "architecture_threshold_exceeded"
	CodeArchThresholdWarning         Code = "architecture_threshold_warning"
	CodeLoopNoProgress               Code = "loop_no_progress"

	// Proposal subprotocol
	CodeProposalPrecheckUnavailable  Code = "proposal_precheck_unavailable"
	CodeProposalReviewUnavailable    Code = "proposal_review_unavailable"
	CodeProposalStalledInRound       Code = "proposal_consensus_stalled_in_round"
	CodeProposalStalledAcrossRounds  Code = "proposal_consensus_stalled_across_rounds"
	CodeProposalDiscussionIncomplete Code = "proposal_discussion_incomplete"

	// Guards
	CodePreflightRiskGateFailed Code = "preflight_risk_gate_failed"
	CodeResumeGuardMismatch     Code = "workspace_resume_guard_mismatch"
	CodeHeadSHAMissing          Code = "head_sha_missing"
	CodeHeadSHAMismatch         Code = "head_sha_mismatch"
	CodePromotionGuardBlocked   Code = "promotion_guard_blocked"

	// Lifecycle
	CodeCanceled              Code = "canceled"
	CodeDeadlineReached       Code = "deadline_reached"
	CodeConcurrencyLimit      Code = "concurrency_limit"
	CodeStartInflightDedup    Code = "start_inflight_dedup"
	CodeTaskNotFound          Code = "task_not_found"
	CodeTaskInvalidState      Code = "task_invalid_state"
	CodeStorageRetryExhausted Code = "storage_lock_retry_exhausted"

	// System
	CodeWorkflowError  Code = "workflow_error"
	CodeAutoMergeError Code = "auto_merge_error"
)

// Category groups codes for HTTP status mapping at the API facade.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

var codeCategories = map[Code]Category{
	CodeValidation:            CategoryBadRequest,
	CodeTaskNotFound:          CategoryNotFound,
	CodeTaskInvalidState:      CategoryBadRequest,
	CodeCommandTimeout:        CategoryTimeout,
	CodeCommandNotFound:       CategoryBadRequest,
	CodeCommandNotConfigured:  CategoryBadRequest,
	CodeProviderLimit:         CategoryUnavailable,
	CodeConcurrencyLimit:      CategoryConflict,
	CodeStartInflightDedup:    CategoryConflict,
	CodeStorageRetryExhausted: CategoryUnavailable,
	CodeWorkflowError:         CategoryInternal,
	CodeAutoMergeError:        CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for awe.
//
// Field is set for validation errors and points at the offending input
// field, including indexed forms like "reviewer_participants[1]".
type Error struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Field string `json:"field,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.What != "" {
		b.WriteString(": ")
		b.WriteString(e.What)
	}
	if e.Field != "" {
		b.WriteString(" field=")
		b.WriteString(e.Field)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// New creates an error with a code and message.
func New(code Code, what string) *Error {
	return &Error{Code: code, What: what}
}

// Newf creates an error with a code and formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, What: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error pointing at a specific input field.
// Messages never include absolute filesystem paths.
func Validation(field, what string) *Error {
	return &Error{Code: CodeValidation, Field: field, What: what}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(code Code, err error, what string) *Error {
	return &Error{Code: code, What: what, Cause: err}
}

// CodeOf extracts the code from an error chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// AsError attempts to convert an error to a structured *Error.
// Returns nil if the chain contains none.
func AsError(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}
