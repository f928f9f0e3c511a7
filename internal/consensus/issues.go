// Package consensus implements the proposal consensus subprotocol that
// precedes the main workflow loop: reviewer precheck, author proposal,
// proposal review, and the consensus decision with stall detection.
package consensus

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/randalmurphal/awe/internal/provider"
)

// Issue is one structured reviewer finding.
type Issue struct {
	ID               string   `json:"issue_id"`
	Summary          string   `json:"summary"`
	Severity         string   `json:"severity,omitempty"`
	RequiredAction   string   `json:"required_action,omitempty"`
	EvidencePaths    []string `json:"evidence_paths,omitempty"`
	RequiredResponse bool     `json:"required_response,omitempty"`
}

// IssueResponse is the author's answer to one issue.
type IssueResponse struct {
	IssueID            string   `json:"issue_id"`
	Status             string   `json:"status"`
	Reason             string   `json:"reason,omitempty"`
	AlternativePlan    string   `json:"alternative_plan,omitempty"`
	ValidationCommands []string `json:"validation_commands,omitempty"`
	EvidencePaths      []string `json:"evidence_paths,omitempty"`
}

// Response statuses.
const (
	StatusAccept = "accept"
	StatusReject = "reject"
	StatusDefer  = "defer"
)

var issueIDNumRe = regexp.MustCompile(`(\d+)`)

// NormalizeIssueID canonicalizes ids to ISSUE-NNN with 3-digit padding.
// Ids with no numeric component are kept uppercase as given.
func NormalizeIssueID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if m := issueIDNumRe.FindString(id); m != "" {
		n, err := strconv.Atoi(m)
		if err == nil {
			return fmt.Sprintf("ISSUE-%03d", n)
		}
	}
	return strings.ToUpper(id)
}

// issueLineRe is the line fallback: "ISSUE-001: summary text".
var issueLineRe = regexp.MustCompile(`(?mi)^[-*\s]*(ISSUE[-_ ]?\d+)\s*[:\-]\s*(.+)$`)

// ParseIssues extracts structured issues from reviewer output: a JSON object
// with an issues array (bare or fenced) first, then a line-format fallback.
func ParseIssues(output string) []Issue {
	for _, obj := range provider.ExtractJSONObjects(output) {
		arr := gjson.Get(obj, "issues")
		if !arr.IsArray() {
			continue
		}
		var issues []Issue
		arr.ForEach(func(_, v gjson.Result) bool {
			iss := Issue{
				ID:               NormalizeIssueID(v.Get("issue_id").String()),
				Summary:          v.Get("summary").String(),
				Severity:         v.Get("severity").String(),
				RequiredAction:   v.Get("required_action").String(),
				RequiredResponse: v.Get("required_response").Bool(),
			}
			v.Get("evidence_paths").ForEach(func(_, p gjson.Result) bool {
				iss.EvidencePaths = append(iss.EvidencePaths, p.String())
				return true
			})
			if iss.ID != "" || iss.Summary != "" {
				if iss.ID == "" {
					iss.ID = NormalizeIssueID(strconv.Itoa(len(issues) + 1))
				}
				issues = append(issues, iss)
			}
			return true
		})
		if len(issues) > 0 {
			return issues
		}
	}

	var issues []Issue
	for _, m := range issueLineRe.FindAllStringSubmatch(output, -1) {
		issues = append(issues, Issue{
			ID:      NormalizeIssueID(m[1]),
			Summary: strings.TrimSpace(m[2]),
		})
	}
	return issues
}

// ParseIssueResponses extracts the author's issue_responses array.
func ParseIssueResponses(output string) []IssueResponse {
	for _, obj := range provider.ExtractJSONObjects(output) {
		arr := gjson.Get(obj, "issue_responses")
		if !arr.IsArray() {
			continue
		}
		var responses []IssueResponse
		arr.ForEach(func(_, v gjson.Result) bool {
			r := IssueResponse{
				IssueID:         NormalizeIssueID(v.Get("issue_id").String()),
				Status:          strings.ToLower(strings.TrimSpace(v.Get("status").String())),
				Reason:          v.Get("reason").String(),
				AlternativePlan: v.Get("alternative_plan").String(),
			}
			v.Get("validation_commands").ForEach(func(_, c gjson.Result) bool {
				r.ValidationCommands = append(r.ValidationCommands, c.String())
				return true
			})
			v.Get("evidence_paths").ForEach(func(_, p gjson.Result) bool {
				r.EvidencePaths = append(r.EvidencePaths, p.String())
				return true
			})
			responses = append(responses, r)
			return true
		})
		if len(responses) > 0 {
			return responses
		}
	}
	return nil
}

// ValidateResponses checks that every required issue id has a well-formed
// response. A reject needs a reason, an alternative plan, at least one
// validation command, and at least one evidence path. Returns the ids that
// are missing or invalid.
func ValidateResponses(required []Issue, responses []IssueResponse) (missing []string) {
	byID := map[string]IssueResponse{}
	for _, r := range responses {
		byID[r.IssueID] = r
	}
	for _, iss := range required {
		r, ok := byID[iss.ID]
		if !ok {
			missing = append(missing, iss.ID)
			continue
		}
		switch r.Status {
		case StatusAccept, StatusDefer:
		case StatusReject:
			if r.Reason == "" || r.AlternativePlan == "" ||
				len(r.ValidationCommands) == 0 || len(r.EvidencePaths) == 0 {
				missing = append(missing, iss.ID)
			}
		default:
			missing = append(missing, iss.ID)
		}
	}
	return missing
}
