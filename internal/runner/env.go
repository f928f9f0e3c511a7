package runner

import (
	"os"
	"path/filepath"
	"strings"
)

// instrumentationVars leak test harness state into agent children and are
// stripped from the child environment.
var instrumentationVars = map[string]bool{
	"PYTEST_CURRENT_TEST":    true,
	"PYTEST_ADDOPTS":         true,
	"COVERAGE_FILE":          true,
	"COVERAGE_PROCESS_START": true,
	"COV_CORE_SOURCE":        true,
	"COV_CORE_CONFIG":        true,
	"COV_CORE_DATAFILE":      true,
}

// ChildEnv builds the child process environment. The workspace src directory
// is prepended to PYTHONPATH, inherited duplicates of it are removed, and
// test-instrumentation variables are stripped.
func ChildEnv(workDir string) []string {
	src := filepath.Join(workDir, "src")
	env := make([]string, 0, len(os.Environ())+1)
	sawPythonPath := false
	for _, kv := range os.Environ() {
		key, val, _ := strings.Cut(kv, "=")
		if instrumentationVars[key] {
			continue
		}
		if key == "PYTHONPATH" {
			sawPythonPath = true
			env = append(env, "PYTHONPATH="+prependPath(src, val))
			continue
		}
		env = append(env, kv)
	}
	if !sawPythonPath {
		env = append(env, "PYTHONPATH="+src)
	}
	return env
}

// prependPath puts dir first in a list-style path variable, dropping any
// existing occurrences of dir.
func prependPath(dir, existing string) string {
	parts := []string{dir}
	seen := map[string]bool{dir: true}
	for _, p := range strings.Split(existing, string(os.PathListSeparator)) {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	return strings.Join(parts, string(os.PathListSeparator))
}
