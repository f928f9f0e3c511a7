// Package risk loads the project risk policy and evaluates the preflight
// risk gate before a task starts running.
package risk

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/randalmurphal/awe/internal/task"
)

// PolicyFileName is looked up under the project root.
const PolicyFileName = ".awe/risk-policy.yaml"

// Tier orders risk levels low to high.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

var tierRank = map[Tier]int{TierLow: 0, TierMedium: 1, TierHigh: 2}

// Check names a required precondition for a tier.
type Check string

const (
	CheckTestCommand    Check = "test_command"
	CheckLintCommand    Check = "lint_command"
	CheckReviewerQuorum Check = "reviewer_quorum"
	CheckMergeTarget    Check = "merge_target"
	CheckSandbox        Check = "sandbox"
)

// Policy is the parsed risk policy.
type Policy struct {
	// DefaultTier applies when no rule matches.
	DefaultTier Tier `yaml:"default_tier"`
	// Rules escalate the tier when a workspace contains matching paths.
	Rules []Rule `yaml:"rules"`
	// RequiredChecks per tier.
	RequiredChecks map[Tier][]Check `yaml:"required_checks"`
	// MinReviewers for the reviewer_quorum check.
	MinReviewers int `yaml:"min_reviewers"`
}

// Rule maps doublestar path patterns to a tier.
type Rule struct {
	Patterns []string `yaml:"patterns"`
	Tier     Tier     `yaml:"tier"`
}

// DefaultPolicy applies when the project has no policy file.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTier: TierLow,
		Rules: []Rule{
			{Patterns: []string{"**/migrations/**", "**/auth/**", "**/security/**"}, Tier: TierHigh},
			{Patterns: []string{"**/api/**", "**/db/**", "**/models/**"}, Tier: TierMedium},
		},
		RequiredChecks: map[Tier][]Check{
			TierMedium: {CheckTestCommand},
			TierHigh:   {CheckTestCommand, CheckLintCommand, CheckReviewerQuorum, CheckSandbox},
		},
		MinReviewers: 1,
	}
}

// Load reads the project policy, falling back to DefaultPolicy when the
// file does not exist.
func Load(projectPath string) (Policy, error) {
	path := filepath.Join(projectPath, filepath.FromSlash(PolicyFileName))
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultPolicy(), nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read risk policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse risk policy: %w", err)
	}
	if p.DefaultTier == "" {
		p.DefaultTier = TierLow
	}
	if p.MinReviewers == 0 {
		p.MinReviewers = 1
	}
	return p, nil
}

// Assessment is the preflight gate outcome.
type Assessment struct {
	Tier         Tier     `json:"tier"`
	MatchedPaths []string `json:"matched_paths,omitempty"`
	Required     []Check  `json:"required_checks,omitempty"`
	Failures     []string `json:"failures,omitempty"`
	Passed       bool     `json:"passed"`
}

// Evaluate resolves the workspace risk tier and verifies the tier's
// required checks against the task configuration.
func (p Policy) Evaluate(t *task.Task) (Assessment, error) {
	tier, matched, err := p.resolveTier(t.WorkspacePath)
	if err != nil {
		return Assessment{}, err
	}
	a := Assessment{Tier: tier, MatchedPaths: matched, Required: p.RequiredChecks[tier]}
	for _, c := range a.Required {
		if msg := checkFailure(c, t, p.MinReviewers); msg != "" {
			a.Failures = append(a.Failures, msg)
		}
	}
	a.Passed = len(a.Failures) == 0
	return a, nil
}

func (p Policy) resolveTier(workspace string) (Tier, []string, error) {
	tier := p.DefaultTier
	var matched []string
	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		for _, rule := range p.Rules {
			for _, pat := range rule.Patterns {
				ok, _ := doublestar.Match(pat, rel)
				if !ok {
					continue
				}
				if tierRank[rule.Tier] > tierRank[tier] {
					tier = rule.Tier
				}
				matched = append(matched, rel)
			}
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return tier, nil, fmt.Errorf("scan workspace for risk tier: %w", err)
	}
	sort.Strings(matched)
	return tier, dedupe(matched), nil
}

func checkFailure(c Check, t *task.Task, minReviewers int) string {
	switch c {
	case CheckTestCommand:
		if t.TestCommand == "" {
			return "test_command not configured"
		}
	case CheckLintCommand:
		if t.LintCommand == "" {
			return "lint_command not configured"
		}
	case CheckReviewerQuorum:
		if len(t.ReviewerParticipants) < minReviewers {
			return fmt.Sprintf("reviewer quorum not met: have %d, need %d",
				len(t.ReviewerParticipants), minReviewers)
		}
	case CheckMergeTarget:
		if t.MergeTargetPath == "" {
			return "merge_target not configured"
		}
	case CheckSandbox:
		if !t.SandboxMode {
			return "sandbox mode required for this risk tier"
		}
	default:
		return fmt.Sprintf("unknown required check %q", string(c))
	}
	return ""
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// String renders a short human summary for the preflight event payload.
func (a Assessment) String() string {
	if a.Passed {
		return fmt.Sprintf("tier=%s passed", a.Tier)
	}
	return fmt.Sprintf("tier=%s failed: %s", a.Tier, strings.Join(a.Failures, "; "))
}
