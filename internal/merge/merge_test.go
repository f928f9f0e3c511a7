package merge

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/workflow"
)

func write(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestFileMergerAppliesDiff(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()

	// pre-run state: a.py unchanged, b.py will be modified, c.py deleted
	write(t, source, "src/a.py", "a\n")
	write(t, source, "src/b.py", "b-old\n")
	write(t, source, "src/c.py", "c\n")
	preRun, err := workflow.BuildManifest(source)
	require.NoError(t, err)

	write(t, target, "src/a.py", "a\n")
	write(t, target, "src/b.py", "b-old\n")
	write(t, target, "src/c.py", "c\n")

	// workspace changes after the run
	write(t, source, "src/b.py", "b-new\n")
	write(t, source, "src/d.py", "d\n")
	require.NoError(t, os.Remove(filepath.Join(source, "src/c.py")))

	s, err := NewFileMerger(nil).Merge(context.Background(), source, target, preRun)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Applied)
	assert.Equal(t, 1, s.Deleted)

	data, err := os.ReadFile(filepath.Join(target, "src/b.py"))
	require.NoError(t, err)
	assert.Equal(t, "b-new\n", string(data))
	assert.FileExists(t, filepath.Join(target, "src/d.py"))
	assert.NoFileExists(t, filepath.Join(target, "src/c.py"))
	// untouched files stay untouched
	data, err = os.ReadFile(filepath.Join(target, "src/a.py"))
	require.NoError(t, err)
	assert.Equal(t, "a\n", string(data))
}

func TestFileMergerSkipsSecrets(t *testing.T) {
	source := t.TempDir()
	target := t.TempDir()
	preRun := workflow.Manifest{}
	write(t, source, ".env", "SECRET=1\n")
	write(t, source, "src/x.py", "x\n")

	_, err := NewFileMerger(nil).Merge(context.Background(), source, target, preRun)
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(target, ".env"))
	assert.FileExists(t, filepath.Join(target, "src/x.py"))
}

func gitRepo(t *testing.T, branch string) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", branch},
		{"config", "user.email", "t@example.com"},
		{"config", "user.name", "T"},
	} {
		require.NoError(t, exec.Command("git", append([]string{"-C", dir}, args...)...).Run())
	}
	write(t, dir, "f.txt", "f\n")
	for _, args := range [][]string{{"add", "."}, {"commit", "-m", "init"}} {
		require.NoError(t, exec.Command("git", append([]string{"-C", dir}, args...)...).Run())
	}
	return dir
}

func TestGuardNonGitTargetPasses(t *testing.T) {
	assert.NoError(t, DefaultGuard().Check(context.Background(), t.TempDir()))
}

func TestGuardBranchAllowlist(t *testing.T) {
	ctx := context.Background()

	assert.NoError(t, DefaultGuard().Check(ctx, gitRepo(t, "main")))

	err := DefaultGuard().Check(ctx, gitRepo(t, "feature/x"))
	require.Error(t, err)
	assert.Equal(t, errors.CodePromotionGuardBlocked, errors.CodeOf(err))
}

func TestGuardUnbornBranchError(t *testing.T) {
	// git init with no commit: branch resolution fails and the guard
	// reports the blocked code with the git error in the chain.
	dir := t.TempDir()
	require.NoError(t, exec.Command("git", "-C", dir, "init", "-b", "main").Run())

	err := DefaultGuard().Check(context.Background(), dir)
	require.Error(t, err)
	assert.Equal(t, errors.CodePromotionGuardBlocked, errors.CodeOf(err))
	assert.Contains(t, err.Error(), "resolve target branch")
}

func TestGuardDirtyWorktree(t *testing.T) {
	repo := gitRepo(t, "main")
	write(t, repo, "dirty.txt", "d\n")

	err := DefaultGuard().Check(context.Background(), repo)
	require.Error(t, err)
	assert.Equal(t, errors.CodePromotionGuardBlocked, errors.CodeOf(err))
}
