// Package merge promotes workspace changes into the merge target after a
// task passes. The promotion guard gates every promotion path: a branch
// allowlist plus a clean-worktree requirement on git targets.
package merge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/gitx"
	"github.com/randalmurphal/awe/internal/sandbox"
	"github.com/randalmurphal/awe/internal/workflow"
)

// Summary reports what a merge applied.
type Summary struct {
	Applied int      `json:"applied"`
	Deleted int      `json:"deleted"`
	Paths   []string `json:"paths"`
}

// Merger applies the difference between a source tree and the pre-run
// manifest onto a target tree.
type Merger interface {
	Merge(ctx context.Context, source, target string, preRun workflow.Manifest) (Summary, error)
}

// FileMerger is the default merger: it recomputes the source manifest,
// diffs it against the pre-run manifest, and copies added/modified files
// into the target, deleting what the workspace deleted.
type FileMerger struct {
	logger *slog.Logger
}

func NewFileMerger(logger *slog.Logger) *FileMerger {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileMerger{logger: logger}
}

func (m *FileMerger) Merge(ctx context.Context, source, target string, preRun workflow.Manifest) (Summary, error) {
	cur, err := workflow.BuildManifest(source)
	if err != nil {
		return Summary{}, fmt.Errorf("manifest source tree: %w", err)
	}
	diff := workflow.DiffManifests(preRun, cur)

	var s Summary
	for _, rel := range append(append([]string{}, diff.Added...), diff.Modified...) {
		if err := ctx.Err(); err != nil {
			return s, err
		}
		if sandbox.Excluded(rel, false) {
			continue
		}
		if err := copyInto(filepath.Join(source, rel), filepath.Join(target, rel)); err != nil {
			return s, fmt.Errorf("apply %s: %w", rel, err)
		}
		s.Applied++
		s.Paths = append(s.Paths, rel)
	}
	for _, rel := range diff.Deleted {
		dst := filepath.Join(target, rel)
		if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
			return s, fmt.Errorf("delete %s: %w", rel, err)
		}
		s.Deleted++
		s.Paths = append(s.Paths, rel)
	}
	m.logger.Info("merge applied", "target", target, "applied", s.Applied, "deleted", s.Deleted)
	return s, nil
}

func copyInto(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// Guard is the promotion guard configuration.
type Guard struct {
	// AllowedBranches a git target must be on. Empty means any branch.
	AllowedBranches []string
	// RequireClean blocks promotion into a dirty worktree.
	RequireClean bool
}

// DefaultGuard matches mainline development targets.
func DefaultGuard() Guard {
	return Guard{
		AllowedBranches: []string{"main", "master", "develop"},
		RequireClean:    true,
	}
}

// Check evaluates the guard against the target directory. Non-git targets
// pass. Returns a nil error when promotion may proceed.
func (g Guard) Check(ctx context.Context, target string) error {
	if !gitx.IsRepo(ctx, target) {
		return nil
	}
	if len(g.AllowedBranches) > 0 {
		branch, err := gitx.CurrentBranch(ctx, target)
		if err != nil {
			return errors.Wrap(errors.CodePromotionGuardBlocked, err, "resolve target branch")
		}
		if !contains(g.AllowedBranches, branch) {
			return errors.Newf(errors.CodePromotionGuardBlocked,
				"target branch %q not in allowlist %v", branch, g.AllowedBranches)
		}
	}
	if g.RequireClean {
		clean, err := gitx.IsClean(ctx, target)
		if err != nil {
			return errors.Wrap(errors.CodePromotionGuardBlocked, err, "check target worktree")
		}
		if !clean {
			return errors.New(errors.CodePromotionGuardBlocked, "target worktree is dirty")
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
