package sandbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv(EnvBase, "/custom/base")
	p, err := ResolvePath("abc123")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/custom/base", "awe-sandbox", "abc123"), p)

	t.Setenv(EnvBase, "")
	t.Setenv(EnvUsePublicBase, "1")
	p, err = ResolvePath("abc123")
	require.NoError(t, err)
	assert.Contains(t, p, "awe-sandbox")

	t.Setenv(EnvUsePublicBase, "")
	p, err = ResolvePath("abc123")
	require.NoError(t, err)
	assert.Contains(t, p, filepath.Join(".awe", "sandbox", "abc123"))
}

func TestExcluded(t *testing.T) {
	dirs := []string{".git", "node_modules", ".venv", "__pycache__", ".idea"}
	for _, d := range dirs {
		assert.True(t, Excluded(d, true), d)
		assert.True(t, Excluded(filepath.Join("sub", d), true), d)
	}

	files := []string{
		".env", ".env.local", "cert.pem", "id_rsa.key",
		"api_token.txt", "my_secret.json", "NUL", "con.txt", "COM3",
	}
	for _, f := range files {
		assert.True(t, Excluded(f, false), f)
	}

	keep := []string{"main.py", "src", "README.md", "config.yaml", "environment.md"}
	for _, f := range keep {
		assert.False(t, Excluded(f, false), f)
	}
	assert.False(t, Excluded("src", true))
}

func TestBootstrapCopiesAndExcludes(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(project, ".git", "objects"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "src", "x.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".env"), []byte("SECRET=1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ".git", "objects", "blob"), []byte("o"), 0o644))

	sandbox := filepath.Join(t.TempDir(), "ws")
	require.NoError(t, Bootstrap(project, sandbox))

	assert.FileExists(t, filepath.Join(sandbox, "src", "x.py"))
	assert.NoFileExists(t, filepath.Join(sandbox, ".env"))
	assert.NoDirExists(t, filepath.Join(sandbox, ".git"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "c:/Users/dev", NormalizePath(`C:\Users\dev`))
	assert.Equal(t, "/home/dev/ws", NormalizePath("/home/dev/../dev/ws"))
}

func TestFingerprintStableAndSensitive(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "src", "a.py"), []byte("a\n"), 0o644))

	in := FingerprintInput{WorkspacePath: ws, ProjectPath: "/proj", SandboxMode: true, Generated: true}
	fp1, err := Fingerprint(in)
	require.NoError(t, err)
	fp2, err := Fingerprint(in)
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 32)

	// adding a top-level entry changes the fingerprint
	require.NoError(t, os.WriteFile(filepath.Join(ws, "new.txt"), []byte("n\n"), 0o644))
	fp3, err := Fingerprint(in)
	require.NoError(t, err)
	assert.NotEqual(t, fp1, fp3)
}

func TestFingerprintMissingWorkspace(t *testing.T) {
	_, err := Fingerprint(FingerprintInput{WorkspacePath: filepath.Join(t.TempDir(), "gone")})
	assert.NoError(t, err)
}
