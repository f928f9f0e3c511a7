// Package cli implements the awe command-line interface.
// This file contains shared helpers used across commands.
package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/config"
	"github.com/randalmurphal/awe/internal/db"
	"github.com/randalmurphal/awe/internal/orchestrator"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/task"
)

// session bundles the service with the resources it must close.
type session struct {
	svc *orchestrator.Service
	db  *db.DB
	cfg *config.Config
}

func (s *session) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

// openSession wires storage, providers, and the orchestrator from config.
func openSession() (*session, error) {
	cwd, _ := os.Getwd()
	cfg, err := config.Load(cwd)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	d, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	repo := db.NewRepository(d, slog.Default())
	store := artifact.NewStore(cfg.ArtifactRoot)
	registry, err := provider.NewRegistry()
	if err != nil {
		_ = d.Close()
		return nil, err
	}

	svc := orchestrator.NewService(repo, store, registry, cfg, slog.Default())
	return &session{svc: svc, db: d, cfg: cfg}, nil
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdoutIsTTY() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// statusIcon renders a status with a glyph on terminals.
func statusIcon(s task.Status) string {
	if !stdoutIsTTY() {
		return string(s)
	}
	switch s {
	case task.StatusQueued:
		return "… " + string(s)
	case task.StatusRunning:
		return "▶ " + string(s)
	case task.StatusWaitingManual:
		return "✋ " + string(s)
	case task.StatusPassed:
		return "✓ " + string(s)
	case task.StatusFailedGate, task.StatusFailedSystem:
		return "✗ " + string(s)
	case task.StatusCanceled:
		return "⊘ " + string(s)
	default:
		return string(s)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
