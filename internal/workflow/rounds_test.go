package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/artifact"
)

func TestDiffManifests(t *testing.T) {
	prev := Manifest{"a.py": "1", "b.py": "2", "c.py": "3"}
	cur := Manifest{"a.py": "1", "b.py": "changed", "d.py": "4"}

	d := DiffManifests(prev, cur)
	assert.Equal(t, []string{"d.py"}, d.Added)
	assert.Equal(t, []string{"b.py"}, d.Modified)
	assert.Equal(t, []string{"c.py"}, d.Deleted)
	assert.False(t, d.Empty())

	assert.True(t, DiffManifests(prev, prev).Empty())
}

func TestBuildManifestMissingDir(t *testing.T) {
	m, err := BuildManifest(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, m)
}

func TestRoundRecorderCapture(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "src", "a.py"), []byte("x = 1\n"), 0o644))

	store := artifact.NewStore(t.TempDir())
	require.NoError(t, store.EnsureTask("rr1"))

	rec := newRoundRecorder(store, "rr1", ws)
	require.NoError(t, rec.CaptureBaseline())

	// round 1 modifies a file and adds one
	require.NoError(t, os.WriteFile(filepath.Join(ws, "src", "a.py"), []byte("x = 2\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "src", "b.py"), []byte("y = 1\n"), 0o644))

	diff, err := rec.CaptureRound(1)
	require.NoError(t, err)
	assert.Equal(t, []string{"src/b.py"}, diff.Added)
	assert.Equal(t, []string{"src/a.py"}, diff.Modified)
	assert.Empty(t, diff.Deleted)

	roundsDir := filepath.Join(store.TaskDir("rr1"), "artifacts", "rounds")
	assert.FileExists(t, filepath.Join(roundsDir, "round-1.patch"))
	assert.FileExists(t, filepath.Join(roundsDir, "round-1.md"))
	assert.FileExists(t, filepath.Join(roundsDir, "round-1.json"))

	md, err := os.ReadFile(filepath.Join(roundsDir, "round-1.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "src/b.py")
}

func TestRenderPatchBinaryFiles(t *testing.T) {
	prev := t.TempDir()
	cur := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(prev, "blob.bin"), []byte{0xff, 0xfe, 0x00, 0x01}, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(cur, "blob.bin"), []byte{0x00, 0x01, 0xff}, 0o644))

	r := &roundRecorder{}
	patch := r.renderPatch(prev, cur, ManifestDiff{Modified: []string{"blob.bin"}})
	assert.Contains(t, patch, "Binary files differ")
}

func TestAuditFindsOversizedPythonFiles(t *testing.T) {
	ws := t.TempDir()
	big := make([]byte, 0, 4096)
	for i := 0; i < 900; i++ {
		big = append(big, []byte("x = 1\n")...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(ws, "big.py"), big, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "small.py"), []byte("ok = 1\n"), 0o644))

	t.Setenv(EnvAuditPythonFileLinesMax, "100")
	findings, err := RunArchitectureAudit(ws)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "big.py", findings[0].Path)
	assert.Equal(t, 900, findings[0].Lines)
	assert.Equal(t, 100, findings[0].Limit)
}
