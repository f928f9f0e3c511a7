// Package sandbox manages generated task workspaces: deterministic path
// resolution, project bootstrap copies with secret/cache exclusions, and the
// workspace fingerprint used by the resume guard.
package sandbox

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// EnvBase overrides the sandbox root directory.
	EnvBase = "AWE_SANDBOX_BASE"
	// EnvUsePublicBase opts into a world-readable sandbox root.
	EnvUsePublicBase = "AWE_SANDBOX_USE_PUBLIC_BASE"
)

// excludedDirNames are skipped wholesale wherever they appear.
var excludedDirNames = map[string]bool{
	// VCS and caches
	".git": true, ".hg": true, ".svn": true,
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	".ruff_cache": true, "node_modules": true, ".cache": true,
	// virtualenvs
	".venv": true, "venv": true, ".tox": true,
	// editor metadata
	".idea": true, ".vscode": true,
}

// excludePatterns are doublestar globs matched against slash-separated
// relative file paths. Matching files are never copied into a sandbox.
var excludePatterns = []string{
	"**/*.swp", "**/.DS_Store",
	// secrets
	"**/.env*", "**/*.pem", "**/*.key",
	"**/*token*", "**/*secret*",
}

// windowsReservedNames cannot exist as file names on Windows targets, so a
// bootstrap copy skips them regardless of platform.
var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true, "com5": true,
	"com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true, "lpt5": true,
	"lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ResolvePath returns the deterministic sandbox directory for a task.
// Precedence: AWE_SANDBOX_BASE, then the public base when opted in, then a
// private directory under the user home.
func ResolvePath(taskID string) (string, error) {
	if base := os.Getenv(EnvBase); base != "" {
		return filepath.Join(base, "awe-sandbox", taskID), nil
	}
	if usePublic(os.Getenv(EnvUsePublicBase)) {
		return filepath.Join(os.TempDir(), "awe-sandbox", taskID), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".awe", "sandbox", taskID), nil
}

func usePublic(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Excluded reports whether the slash-relative path should be skipped.
func Excluded(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	base := strings.ToLower(filepath.Base(rel))
	if isDir && excludedDirNames[base] {
		return true
	}
	if stem, _, found := strings.Cut(base, "."); found && stem != "" {
		base = stem
	}
	if windowsReservedNames[base] {
		return true
	}
	if isDir {
		return false
	}
	lower := strings.ToLower(rel)
	for _, p := range excludePatterns {
		if ok, _ := doublestar.Match(p, lower); ok {
			return true
		}
	}
	return false
}

// Bootstrap copies projectPath into sandboxPath, skipping excluded entries.
// The sandbox directory is created; existing contents are left in place.
func Bootstrap(projectPath, sandboxPath string) error {
	if err := os.MkdirAll(sandboxPath, 0o755); err != nil {
		return fmt.Errorf("create sandbox dir: %w", err)
	}
	return filepath.WalkDir(projectPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if Excluded(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		dst := filepath.Join(sandboxPath, rel)
		if d.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, dst)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// Remove deletes the sandbox directory tree.
func Remove(sandboxPath string) error {
	return os.RemoveAll(sandboxPath)
}
