// Package gitx provides the read-only git queries the engine needs for merge
// guards. All operations shell out to the git binary; the engine never
// mutates repository state itself.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// HeadSHA returns the full SHA of HEAD in repoDir.
func HeadSHA(ctx context.Context, repoDir string) (string, error) {
	out, err := run(ctx, repoDir, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD in %s: %w", repoDir, err)
	}
	return out, nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	out, err := run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name, or "HEAD" when
// detached.
func CurrentBranch(ctx context.Context, repoDir string) (string, error) {
	out, err := run(ctx, repoDir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve branch in %s: %w", repoDir, err)
	}
	return out, nil
}

// IsClean reports whether the work tree has no staged or unstaged changes.
// Untracked files count as dirty.
func IsClean(ctx context.Context, repoDir string) (bool, error) {
	out, err := run(ctx, repoDir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("git status in %s: %w", repoDir, err)
	}
	return out == "", nil
}

func run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", args[0], msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}
