package workflow

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/randalmurphal/awe/internal/sandbox"
	"github.com/randalmurphal/awe/internal/task"
)

const (
	// EnvAuditMode selects the architecture audit behavior (off|warn|hard).
	EnvAuditMode = "AWE_ARCH_AUDIT_MODE"
	// EnvAuditPythonFileLinesMax overrides the per-file line threshold.
	EnvAuditPythonFileLinesMax = "AWE_ARCH_PYTHON_FILE_LINES_MAX"

	defaultPythonFileLinesMax = 800
)

const (
	ReasonArchThresholdExceeded = "architecture_threshold_exceeded"
	ReasonArchThresholdWarning  = "architecture_threshold_warning"
)

// AuditFinding is one file over the structural threshold.
type AuditFinding struct {
	Path  string `json:"path"`
	Lines int    `json:"lines"`
	Limit int    `json:"limit"`
}

// AuditModeFromEnv reads the configured audit mode, defaulting to off.
func AuditModeFromEnv() task.AuditMode {
	switch strings.ToLower(os.Getenv(EnvAuditMode)) {
	case string(task.AuditWarn):
		return task.AuditWarn
	case string(task.AuditHard):
		return task.AuditHard
	}
	return task.AuditOff
}

func auditLineLimit() int {
	if v := os.Getenv(EnvAuditPythonFileLinesMax); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultPythonFileLinesMax
}

// RunArchitectureAudit checks every python file in the workspace against
// the line threshold.
func RunArchitectureAudit(workspace string) ([]AuditFinding, error) {
	limit := auditLineLimit()
	var findings []AuditFinding
	err := filepath.WalkDir(workspace, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(workspace, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if rel != "." && sandbox.Excluded(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".py" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		lines := bytes.Count(data, []byte("\n"))
		if len(data) > 0 && !bytes.HasSuffix(data, []byte("\n")) {
			lines++
		}
		if lines > limit {
			findings = append(findings, AuditFinding{
				Path:  filepath.ToSlash(rel),
				Lines: lines,
				Limit: limit,
			})
		}
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Path < findings[j].Path })
	return findings, err
}
