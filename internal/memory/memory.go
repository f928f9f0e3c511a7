// Package memory keeps a small file-backed record of past task outcomes so
// later runs over the same project can recall what worked and what stalled.
package memory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphal/awe/internal/task"
)

// fileName under the store root.
const fileName = "outcomes.jsonl"

// maxRecall bounds how many records a recall returns.
const maxRecall = 5

// Record is one remembered task outcome.
type Record struct {
	TaskID     string    `json:"task_id"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	GateReason string    `json:"gate_reason,omitempty"`
	Rounds     int       `json:"rounds"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store reads and appends outcome records under a root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path() string {
	return filepath.Join(s.root, fileName)
}

// Recall returns past outcomes relevant to the task, best match first.
// Mode off recalls nothing; basic matches on title-token overlap; strict
// only returns records whose normalized title matches exactly.
func (s *Store) Recall(t *task.Task, mode task.MemoryMode) ([]Record, error) {
	if mode == task.MemoryOff {
		return nil, nil
	}
	records, err := s.readAll()
	if err != nil {
		return nil, err
	}
	want := tokenize(t.Title)
	wantKey := strings.Join(want, " ")

	type scored struct {
		rec   Record
		score float64
	}
	var hits []scored
	for _, r := range records {
		if r.TaskID == t.ID {
			continue
		}
		got := tokenize(r.Title)
		if mode == task.MemoryStrict {
			if strings.Join(got, " ") == wantKey && wantKey != "" {
				hits = append(hits, scored{r, 1})
			}
			continue
		}
		if score := overlap(want, got); score > 0.3 {
			hits = append(hits, scored{r, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})
	if len(hits) > maxRecall {
		hits = hits[:maxRecall]
	}
	out := make([]Record, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.rec)
	}
	return out, nil
}

// Persist appends the task's terminal outcome. A no-op in mode off.
func (s *Store) Persist(t *task.Task, mode task.MemoryMode, rounds int) error {
	if mode == task.MemoryOff {
		return nil
	}
	rec := Record{
		TaskID:     t.ID,
		Title:      t.Title,
		Status:     string(t.Status),
		GateReason: t.LastGateReason,
		Rounds:     rounds,
		CreatedAt:  time.Now().UTC(),
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}
	f, err := os.OpenFile(s.path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append memory record: %w", err)
	}
	return nil
}

func (s *Store) readAll() ([]Record, error) {
	f, err := os.Open(s.path())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open memory file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r Record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			// skip malformed lines, the file is advisory
			continue
		}
		records = append(records, r)
	}
	return records, scanner.Err()
}

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(s string) []string {
	tokens := tokenRe.FindAllString(strings.ToLower(s), -1)
	sort.Strings(tokens)
	return tokens
}

func overlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	common := 0
	for _, t := range b {
		if set[t] {
			common++
		}
	}
	denom := len(a)
	if len(b) > denom {
		denom = len(b)
	}
	return float64(common) / float64(denom)
}
