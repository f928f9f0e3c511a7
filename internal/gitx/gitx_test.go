package gitx

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, args := range [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test User"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	for _, args := range [][]string{
		{"add", "."},
		{"commit", "-m", "initial"},
	} {
		cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
		require.NoError(t, cmd.Run(), "git %v", args)
	}
	return dir
}

func TestIsRepo(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)
	assert.True(t, IsRepo(ctx, repo))
	assert.False(t, IsRepo(ctx, t.TempDir()))
}

func TestHeadSHAAndBranch(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	sha, err := HeadSHA(ctx, repo)
	require.NoError(t, err)
	assert.Len(t, sha, 40)

	branch, err := CurrentBranch(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestIsClean(t *testing.T) {
	ctx := context.Background()
	repo := initRepo(t)

	clean, err := IsClean(ctx, repo)
	require.NoError(t, err)
	assert.True(t, clean)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "b.txt"), []byte("b\n"), 0o644))
	clean, err = IsClean(ctx, repo)
	require.NoError(t, err)
	assert.False(t, clean, "untracked files count as dirty")
}

func TestHeadSHANotARepo(t *testing.T) {
	_, err := HeadSHA(context.Background(), t.TempDir())
	assert.Error(t, err)
}
