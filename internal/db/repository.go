package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/randalmurphal/awe/internal/db/driver"
	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/task"
)

const (
	// lockRetryAttempts bounds retries on transient storage-lock errors.
	lockRetryAttempts = 8
	// lockRetryBackoff is the initial backoff between lock retries.
	lockRetryBackoff = 5 * time.Millisecond
	// lockRetryBackoffCap caps a single backoff sleep so the total stays
	// under ~200ms across all attempts.
	lockRetryBackoffCap = 50 * time.Millisecond
)

const timeFormat = time.RFC3339Nano

// Repository provides CRUD for tasks and append-only events.
// It is the exclusive owner of the task and event rows.
type Repository struct {
	db  *DB
	log *slog.Logger
}

// NewRepository creates a repository over an open database.
func NewRepository(d *DB, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{db: d, log: log}
}

// Event is an append-only per-task event row, keyed (task_id, seq).
type Event struct {
	TaskID    string          `json:"task_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Round     *int            `json:"round,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// policyBlob is the execution-policy portion of a task, stored as a single
// JSON column. Identity and runtime state get their own columns.
type policyBlob struct {
	EvolutionLevel      int                           `json:"evolution_level"`
	EvolveUntil         *time.Time                    `json:"evolve_until,omitempty"`
	Language            task.Language                 `json:"language"`
	ModelOverrides      map[string]string             `json:"model_overrides,omitempty"`
	ModelParamOverrides map[string]string             `json:"model_param_overrides,omitempty"`
	FeatureOverrides    map[string]task.AgentFeatures `json:"feature_overrides,omitempty"`
	RepairMode          task.RepairMode               `json:"repair_mode"`
	MemoryMode          task.MemoryMode               `json:"memory_mode"`
	PhaseTimeoutSeconds map[task.Phase]float64        `json:"phase_timeout_seconds,omitempty"`
	PlainMode           bool                          `json:"plain_mode"`
	StreamMode          bool                          `json:"stream_mode"`
	DebateMode          bool                          `json:"debate_mode"`
	SelfLoopMode        int                           `json:"self_loop_mode"`
	AutoMerge           bool                          `json:"auto_merge"`
	MaxRounds           int                           `json:"max_rounds"`
	TestCommand         string                        `json:"test_command,omitempty"`
	LintCommand         string                        `json:"lint_command,omitempty"`
}

func policyFromTask(t *task.Task) policyBlob {
	return policyBlob{
		EvolutionLevel:      t.EvolutionLevel,
		EvolveUntil:         t.EvolveUntil,
		Language:            t.Language,
		ModelOverrides:      t.ModelOverrides,
		ModelParamOverrides: t.ModelParamOverrides,
		FeatureOverrides:    t.FeatureOverrides,
		RepairMode:          t.RepairMode,
		MemoryMode:          t.MemoryMode,
		PhaseTimeoutSeconds: t.PhaseTimeoutSeconds,
		PlainMode:           t.PlainMode,
		StreamMode:          t.StreamMode,
		DebateMode:          t.DebateMode,
		SelfLoopMode:        t.SelfLoopMode,
		AutoMerge:           t.AutoMerge,
		MaxRounds:           t.MaxRounds,
		TestCommand:         t.TestCommand,
		LintCommand:         t.LintCommand,
	}
}

func (p policyBlob) applyTo(t *task.Task) {
	t.EvolutionLevel = p.EvolutionLevel
	t.EvolveUntil = p.EvolveUntil
	t.Language = p.Language
	t.ModelOverrides = p.ModelOverrides
	t.ModelParamOverrides = p.ModelParamOverrides
	t.FeatureOverrides = p.FeatureOverrides
	t.RepairMode = p.RepairMode
	t.MemoryMode = p.MemoryMode
	t.PhaseTimeoutSeconds = p.PhaseTimeoutSeconds
	t.PlainMode = p.PlainMode
	t.StreamMode = p.StreamMode
	t.DebateMode = p.DebateMode
	t.SelfLoopMode = p.SelfLoopMode
	t.AutoMerge = p.AutoMerge
	t.MaxRounds = p.MaxRounds
	t.TestCommand = p.TestCommand
	t.LintCommand = p.LintCommand
}

// CreateTask persists a new task. A fresh opaque id is assigned when the
// ID field is empty. Initial status is queued with zero rounds completed.
func (r *Repository) CreateTask(t *task.Task) error {
	if t.ID == "" {
		t.ID = task.NewID()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.Status = task.StatusQueued
	t.RoundsCompleted = 0
	t.CancelRequested = false

	reviewers, err := marshalASCII(t.ReviewerParticipants)
	if err != nil {
		return fmt.Errorf("marshal reviewers: %w", err)
	}
	policy, err := marshalASCII(policyFromTask(t))
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO tasks (id, title, description, author_participant, reviewer_participants,
			workspace_path, project_path, merge_target_path,
			sandbox_mode, sandbox_path, sandbox_generated, sandbox_cleanup_on_pass,
			workspace_fingerprint, policy, status, last_gate_reason,
			rounds_completed, cancel_requested, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Title, t.Description, t.AuthorParticipant, string(reviewers),
		t.WorkspacePath, t.ProjectPath, t.MergeTargetPath,
		boolToInt(t.SandboxMode), t.SandboxPath, boolToInt(t.SandboxGenerated), boolToInt(t.SandboxCleanupOnPass),
		t.WorkspaceFingerprint, string(policy), string(t.Status), t.LastGateReason,
		t.RoundsCompleted, boolToInt(t.CancelRequested),
		now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

// SaveTask overwrites mutable configuration columns of an existing task.
// Status transitions go through UpdateTaskStatus/UpdateTaskStatusIf instead.
func (r *Repository) SaveTask(t *task.Task) error {
	policy, err := marshalASCII(policyFromTask(t))
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	now := time.Now().UTC()
	t.UpdatedAt = now

	_, err = r.db.Exec(`
		UPDATE tasks SET workspace_path = ?, sandbox_path = ?, sandbox_generated = ?,
			workspace_fingerprint = ?, policy = ?, updated_at = ?
		WHERE id = ?
	`, t.WorkspacePath, t.SandboxPath, boolToInt(t.SandboxGenerated),
		t.WorkspaceFingerprint, string(policy), now.Format(timeFormat), t.ID)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

const taskColumns = `id, title, description, author_participant, reviewer_participants,
	workspace_path, project_path, merge_target_path,
	sandbox_mode, sandbox_path, sandbox_generated, sandbox_cleanup_on_pass,
	workspace_fingerprint, policy, status, last_gate_reason,
	rounds_completed, cancel_requested, created_at, updated_at`

// GetTask retrieves a task by id. Returns (nil, nil) when absent.
func (r *Repository) GetTask(id string) (*task.Task, error) {
	row := r.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks sorted by created_at descending.
// limit <= 0 returns all tasks.
func (r *Repository) ListTasks(limit int) ([]task.Task, error) {
	query := "SELECT " + taskColumns + " FROM tasks ORDER BY created_at DESC"
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus unconditionally sets status, reason, and optionally
// rounds_completed, refreshing updated_at.
func (r *Repository) UpdateTaskStatus(id string, status task.Status, reason string, rounds *int) (*task.Task, error) {
	now := time.Now().UTC().Format(timeFormat)

	set := "status = ?, last_gate_reason = ?, updated_at = ?"
	args := []any{string(status), reason, now}
	if rounds != nil {
		set += ", rounds_completed = ?"
		args = append(args, *rounds)
	}
	args = append(args, id)

	res, err := r.db.Exec("UPDATE tasks SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	return r.GetTask(id)
}

// UpdateTaskStatusIf applies an atomic compare-and-swap on status: the
// update happens only when the current status equals expected. Returns
// (nil, nil) on mismatch. This is the primary primitive for race-free
// terminal transitions.
func (r *Repository) UpdateTaskStatusIf(id string, expected, newStatus task.Status, reason string, rounds *int, cancelRequested *bool) (*task.Task, error) {
	now := time.Now().UTC().Format(timeFormat)

	set := "status = ?, last_gate_reason = ?, updated_at = ?"
	args := []any{string(newStatus), reason, now}
	if rounds != nil {
		set += ", rounds_completed = ?"
		args = append(args, *rounds)
	}
	if cancelRequested != nil {
		set += ", cancel_requested = ?"
		args = append(args, boolToInt(*cancelRequested))
	}
	args = append(args, id, string(expected))

	res, err := r.db.Exec("UPDATE tasks SET "+set+" WHERE id = ? AND status = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("cas task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		// Lost the race or the task is gone; either way the expectation
		// did not hold.
		return nil, nil
	}
	return r.GetTask(id)
}

// SetCancelRequested sets the persistent cancel flag.
func (r *Repository) SetCancelRequested(id string, requested bool) (*task.Task, error) {
	now := time.Now().UTC().Format(timeFormat)
	res, err := r.db.Exec("UPDATE tasks SET cancel_requested = ?, updated_at = ? WHERE id = ?",
		boolToInt(requested), now, id)
	if err != nil {
		return nil, fmt.Errorf("set cancel requested: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return nil, errors.Newf(errors.CodeTaskNotFound, "task %s not found", id)
	}
	return r.GetTask(id)
}

// IsCancelRequested reads the persistent cancel flag.
func (r *Repository) IsCancelRequested(id string) (bool, error) {
	var v int
	err := r.db.QueryRow("SELECT cancel_requested FROM tasks WHERE id = ?", id).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return v != 0, nil
}

// AppendEvent reserves the next per-task sequence number and inserts the
// event atomically. The counter is seeded from max(seq)+1 on first append.
// Transient storage-lock errors are retried with bounded backoff before a
// distinct exhaustion error is surfaced.
func (r *Repository) AppendEvent(taskID, eventType string, payload any, round *int) (*Event, error) {
	var payloadJSON *string
	if payload != nil {
		data, err := marshalASCII(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		s := string(data)
		payloadJSON = &s
	}

	now := time.Now().UTC()
	var seq int64

	err := r.withLockRetry(func() error {
		return r.db.RunInTx(context.Background(), func(tx driver.Tx) error {
			ctx := context.Background()
			err := tx.QueryRow(ctx, `
				INSERT INTO task_event_counters (task_id, last_seq)
				VALUES (?, COALESCE((SELECT MAX(seq) FROM task_events WHERE task_id = ?), 0) + 1)
				ON CONFLICT(task_id) DO UPDATE SET last_seq = task_event_counters.last_seq + 1
				RETURNING last_seq
			`, taskID, taskID).Scan(&seq)
			if err != nil {
				return fmt.Errorf("reserve event seq: %w", err)
			}

			_, err = tx.Exec(ctx, `
				INSERT INTO task_events (task_id, seq, event_type, round, payload, created_at)
				VALUES (?, ?, ?, ?, ?, ?)
			`, taskID, seq, eventType, round, payloadJSON, now.Format(timeFormat))
			if err != nil {
				return fmt.Errorf("insert event: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	ev := &Event{TaskID: taskID, Seq: seq, Type: eventType, Round: round, CreatedAt: now}
	if payloadJSON != nil {
		ev.Payload = json.RawMessage(*payloadJSON)
	}
	return ev, nil
}

// ListEvents returns all events for a task ordered by seq ascending.
func (r *Repository) ListEvents(taskID string) ([]Event, error) {
	rows, err := r.db.Query(`
		SELECT task_id, seq, event_type, round, payload, created_at
		FROM task_events WHERE task_id = ? ORDER BY seq ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var round sql.NullInt64
		var payload sql.NullString
		var createdAt string
		if err := rows.Scan(&e.TaskID, &e.Seq, &e.Type, &round, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if round.Valid {
			n := int(round.Int64)
			e.Round = &n
		}
		if payload.Valid && payload.String != "" {
			e.Payload = json.RawMessage(payload.String)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// DeleteTasks purges tasks with their events and counters.
// Returns the number of task rows removed.
func (r *Repository) DeleteTasks(ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat("?, ", len(ids)-1) + "?"
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	deleted := 0
	err := r.db.RunInTx(context.Background(), func(tx driver.Tx) error {
		ctx := context.Background()
		if _, err := tx.Exec(ctx, "DELETE FROM task_events WHERE task_id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		if _, err := tx.Exec(ctx, "DELETE FROM task_event_counters WHERE task_id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("delete counters: %w", err)
		}
		res, err := tx.Exec(ctx, "DELETE FROM tasks WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return fmt.Errorf("delete tasks: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		deleted = int(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CountRunning returns the number of tasks in status running, excluding
// excludeID when non-empty. Used by the running-capacity gate.
func (r *Repository) CountRunning(excludeID string) (int, error) {
	query := "SELECT COUNT(*) FROM tasks WHERE status = ?"
	args := []any{string(task.StatusRunning)}
	if excludeID != "" {
		query += " AND id != ?"
		args = append(args, excludeID)
	}
	var n int
	if err := r.db.QueryRow(query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count running tasks: %w", err)
	}
	return n, nil
}

// CountEventsByType returns event counts grouped by type across all tasks.
func (r *Repository) CountEventsByType() (map[string]int, error) {
	rows, err := r.db.Query("SELECT event_type, COUNT(*) FROM task_events GROUP BY event_type")
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts[typ] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

// withLockRetry retries fn on transient storage-lock errors.
func (r *Repository) withLockRetry(fn func() error) error {
	backoff := lockRetryBackoff
	var err error
	for attempt := 1; attempt <= lockRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !isLockError(err) {
			return err
		}
		if attempt < lockRetryAttempts {
			r.log.Debug("storage lock, retrying", "attempt", attempt, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > lockRetryBackoffCap {
				backoff = lockRetryBackoffCap
			}
		}
	}
	return errors.Wrap(errors.CodeStorageRetryExhausted, err,
		fmt.Sprintf("storage still locked after %d attempts", lockRetryAttempts))
}

// isLockError reports whether err looks like a transient lock/busy error.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "deadlock detected")
}

// scanTask scans a task row using the taskColumns order.
func scanTask(scan func(dest ...any) error) (*task.Task, error) {
	var t task.Task
	var reviewers, policy, createdAt, updatedAt string
	var sandboxMode, sandboxGenerated, sandboxCleanup, cancelRequested int

	err := scan(&t.ID, &t.Title, &t.Description, &t.AuthorParticipant, &reviewers,
		&t.WorkspacePath, &t.ProjectPath, &t.MergeTargetPath,
		&sandboxMode, &t.SandboxPath, &sandboxGenerated, &sandboxCleanup,
		&t.WorkspaceFingerprint, &policy, (*string)(&t.Status), &t.LastGateReason,
		&t.RoundsCompleted, &cancelRequested, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(reviewers), &t.ReviewerParticipants); err != nil {
		return nil, fmt.Errorf("parse reviewers: %w", err)
	}
	var p policyBlob
	if err := json.Unmarshal([]byte(policy), &p); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	p.applyTo(&t)

	t.SandboxMode = sandboxMode != 0
	t.SandboxGenerated = sandboxGenerated != 0
	t.SandboxCleanupOnPass = sandboxCleanup != 0
	t.CancelRequested = cancelRequested != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

// parseTime parses stored timestamps; zero time on failure.
func parseTime(s string) time.Time {
	for _, format := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(format, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// marshalASCII marshals v as JSON with all non-ASCII runes escaped, so the
// payload is robust across storage backends and collations.
func marshalASCII(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.Grow(len(data))
	for _, r := range string(data) {
		switch {
		case r < 128:
			b.WriteRune(r)
		case r > 0xFFFF:
			// Escape as a UTF-16 surrogate pair.
			r -= 0x10000
			b.WriteString(fmt.Sprintf("\\u%04x\\u%04x", 0xD800+(r>>10), 0xDC00+(r&0x3FF)))
		default:
			b.WriteString(fmt.Sprintf("\\u%04x", r))
		}
	}
	return []byte(b.String()), nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
