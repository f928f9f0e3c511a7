package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
)

// FingerprintInput is the sandbox configuration folded into a workspace
// fingerprint. Any change to these fields invalidates a resume.
type FingerprintInput struct {
	WorkspacePath string
	ProjectPath   string
	SandboxMode   bool
	Generated     bool
}

// Fingerprint produces a stable hash of the workspace identity: normalized
// paths, sandbox config, and shallow content signatures of the top-level
// directories. Used by the resume guard to detect a moved or mutated
// workspace between start attempts.
func Fingerprint(in FingerprintInput) (string, error) {
	h := sha256.New()
	fmt.Fprintf(h, "workspace=%s\n", NormalizePath(in.WorkspacePath))
	fmt.Fprintf(h, "project=%s\n", NormalizePath(in.ProjectPath))
	fmt.Fprintf(h, "sandbox_mode=%t generated=%t\n", in.SandboxMode, in.Generated)

	sigs, err := shallowDirHashes(in.WorkspacePath)
	if err != nil {
		return "", err
	}
	for _, s := range sigs {
		fmt.Fprintf(h, "%s\n", s)
	}
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}

// NormalizePath canonicalizes a path for fingerprinting: cleaned, slash
// separators, and a lowercased drive letter on Windows-style paths. Handles
// both separator styles regardless of host platform so fingerprints travel.
func NormalizePath(p string) string {
	p = path.Clean(strings.ReplaceAll(p, `\`, "/"))
	if len(p) >= 2 && p[1] == ':' && unicode.IsUpper(rune(p[0])) {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return p
}

// shallowDirHashes signs each top-level entry of the workspace: directories
// by their sorted immediate child names, files by size. Deliberately shallow
// so the guard is cheap and tolerant of deep content churn within a run.
func shallowDirHashes(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read workspace dir: %w", err)
	}
	var sigs []string
	for _, e := range entries {
		if Excluded(e.Name(), e.IsDir()) {
			continue
		}
		if e.IsDir() {
			children, err := os.ReadDir(filepath.Join(root, e.Name()))
			if err != nil {
				continue
			}
			names := make([]string, 0, len(children))
			for _, c := range children {
				names = append(names, c.Name())
			}
			sort.Strings(names)
			sum := sha256.Sum256([]byte(strings.Join(names, "\x00")))
			sigs = append(sigs, fmt.Sprintf("dir %s %s", e.Name(), hex.EncodeToString(sum[:8])))
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		sigs = append(sigs, fmt.Sprintf("file %s %d", e.Name(), info.Size()))
	}
	sort.Strings(sigs)
	return sigs, nil
}
