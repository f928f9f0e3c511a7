// Package artifact provides the per-task filesystem tree for awe.
//
// Layout under the artifact root:
//
//	threads/<task_id>/state.json
//	threads/<task_id>/events.jsonl
//	threads/<task_id>/final_report.txt
//	threads/<task_id>/discussion/<role>-round-NNN.md
//	threads/<task_id>/artifacts/<name>.json
//	threads/<task_id>/artifacts/rounds/round-NNN-snapshot/...
//
// state.json and events.jsonl mirror the repository; the repository stays
// authoritative for status.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/randalmurphal/awe/internal/util"
)

// Store owns all files under the artifact root. No write escapes
// threads/<task_id>/.
type Store struct {
	root string
}

// NewStore creates a store rooted at dir.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the artifact root directory.
func (s *Store) Root() string {
	return s.root
}

// TaskDir returns the directory for a task's artifacts.
func (s *Store) TaskDir(taskID string) string {
	return filepath.Join(s.root, "threads", sanitizeID(taskID))
}

// EnsureTask creates the task's artifact directories.
func (s *Store) EnsureTask(taskID string) error {
	dir := s.TaskDir(taskID)
	for _, sub := range []string{"", "discussion", "artifacts"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create artifact dir: %w", err)
		}
	}
	return nil
}

// EventRecord is the JSONL mirror form of a repository event.
type EventRecord struct {
	Seq       int64     `json:"seq"`
	Type      string    `json:"type"`
	Round     *int      `json:"round,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AppendEvent appends one record to the task's events.jsonl mirror.
func (s *Store) AppendEvent(taskID string, rec EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal event record: %w", err)
	}

	path := filepath.Join(s.TaskDir(taskID), "events.jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open events mirror: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append([]byte(sanitizeText(string(data))), '\n')); err != nil {
		return fmt.Errorf("append event record: %w", err)
	}
	return nil
}

// ReadEvents reads the JSONL mirror, used as a fallback when the repository
// does not know the task. Malformed lines are skipped.
func (s *Store) ReadEvents(taskID string) ([]EventRecord, error) {
	path := filepath.Join(s.TaskDir(taskID), "events.jsonl")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read events mirror: %w", err)
	}

	var records []EventRecord
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec EventRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// WriteArtifact writes (or overwrites) a named JSON artifact.
// Name must be a bare filename; subdirectories are created for
// rounds/... paths but traversal outside the task dir is rejected.
func (s *Store) WriteArtifact(taskID, name string, v any) error {
	if err := checkRelative(name); err != nil {
		return err
	}
	path := filepath.Join(s.TaskDir(taskID), "artifacts", name)
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}
	return util.AtomicWriteJSON(path, v)
}

// ReadArtifact unmarshals a named JSON artifact into v.
// Returns os.ErrNotExist when absent.
func (s *Store) ReadArtifact(taskID, name string, v any) error {
	if err := checkRelative(name); err != nil {
		return err
	}
	path := filepath.Join(s.TaskDir(taskID), "artifacts", name)
	if !strings.HasSuffix(path, ".json") {
		path += ".json"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse artifact %s: %w", name, err)
	}
	return nil
}

// AppendDiscussion appends a message to the role+round-scoped markdown file.
func (s *Store) AppendDiscussion(taskID, role string, round int, text string) error {
	name := fmt.Sprintf("%s-round-%03d.md", sanitizeID(role), round)
	path := filepath.Join(s.TaskDir(taskID), "discussion", name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open discussion file: %w", err)
	}
	defer func() { _ = f.Close() }()

	entry := fmt.Sprintf("\n---\n_%s_\n\n%s\n", time.Now().UTC().Format(time.RFC3339), sanitizeText(text))
	if _, err := f.WriteString(entry); err != nil {
		return fmt.Errorf("append discussion: %w", err)
	}
	return nil
}

// WriteState atomically updates the state.json mirror of the task row.
func (s *Store) WriteState(taskID string, state any) error {
	return util.AtomicWriteJSON(filepath.Join(s.TaskDir(taskID), "state.json"), state)
}

// WriteFinalReport writes final_report.txt for a terminal task.
func (s *Store) WriteFinalReport(taskID, status, reason string) error {
	content := fmt.Sprintf("status=%s\nreason=%s\n", status, sanitizeText(reason))
	return util.AtomicWriteFile(filepath.Join(s.TaskDir(taskID), "final_report.txt"), []byte(content), 0o644)
}

// SnapshotDir returns the snapshot directory for a round.
// Round 0 is the pre-run baseline.
func (s *Store) SnapshotDir(taskID string, round int) string {
	name := "round-baseline-snapshot"
	if round > 0 {
		name = fmt.Sprintf("round-%03d-snapshot", round)
	}
	return filepath.Join(s.TaskDir(taskID), "artifacts", "rounds", name)
}

// WriteRoundFile writes a raw file under artifacts/rounds/ (patches and
// summaries produced by round capture).
func (s *Store) WriteRoundFile(taskID, name string, data []byte) error {
	if err := checkRelative(name); err != nil {
		return err
	}
	path := filepath.Join(s.TaskDir(taskID), "artifacts", "rounds", name)
	return util.AtomicWriteFile(path, []byte(sanitizeText(string(data))), 0o644)
}

// RemoveTask removes the task's artifact subtree. Best-effort.
func (s *Store) RemoveTask(taskID string) error {
	return os.RemoveAll(s.TaskDir(taskID))
}

// sanitizeID strips path separators so ids and roles can never escape the
// task directory.
func sanitizeID(id string) string {
	id = strings.ReplaceAll(id, "/", "_")
	id = strings.ReplaceAll(id, "\\", "_")
	id = strings.ReplaceAll(id, "..", "_")
	return id
}

// sanitizeText replaces invalid UTF-8 so mixed-encoding agent output never
// corrupts an artifact file.
func sanitizeText(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// checkRelative rejects artifact names that traverse upward or are absolute.
func checkRelative(name string) error {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return fmt.Errorf("invalid artifact name %q", name)
	}
	return nil
}
