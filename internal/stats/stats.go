// Package stats derives read-only counters from stored tasks and events.
package stats

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/awe/internal/db"
	"github.com/randalmurphal/awe/internal/task"
)

// Summary is a point-in-time rollup of engine activity.
type Summary struct {
	TotalTasks     int            `json:"total_tasks"`
	ByStatus       map[string]int `json:"by_status"`
	Running        int            `json:"running"`
	AvgRounds      float64        `json:"avg_rounds"`
	PassRate       float64        `json:"pass_rate"`
	EventsByType   map[string]int `json:"events_by_type"`
	GateFailures   map[string]int `json:"gate_failures"`
	TopGateFailure string         `json:"top_gate_failure,omitempty"`
}

// Collect builds a summary from the repository.
func Collect(repo *db.Repository) (*Summary, error) {
	tasks, err := repo.ListTasks(0)
	if err != nil {
		return nil, fmt.Errorf("collect tasks: %w", err)
	}
	events, err := repo.CountEventsByType()
	if err != nil {
		return nil, fmt.Errorf("collect events: %w", err)
	}

	s := &Summary{
		TotalTasks:   len(tasks),
		ByStatus:     make(map[string]int),
		EventsByType: events,
		GateFailures: make(map[string]int),
	}

	final := 0
	passed := 0
	roundsSum := 0
	roundsCount := 0
	for i := range tasks {
		t := &tasks[i]
		s.ByStatus[string(t.Status)]++
		if t.Status == task.StatusRunning {
			s.Running++
		}
		if t.Status.IsFinal() {
			final++
			if t.Status == task.StatusPassed {
				passed++
			}
			if t.RoundsCompleted > 0 {
				roundsSum += t.RoundsCompleted
				roundsCount++
			}
			if t.Status == task.StatusFailedGate && t.LastGateReason != "" {
				s.GateFailures[t.LastGateReason]++
			}
		}
	}
	if final > 0 {
		s.PassRate = float64(passed) / float64(final)
	}
	if roundsCount > 0 {
		s.AvgRounds = float64(roundsSum) / float64(roundsCount)
	}
	s.TopGateFailure = topKey(s.GateFailures)
	return s, nil
}

func topKey(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best, bestN := "", 0
	for _, k := range keys {
		if m[k] > bestN {
			best, bestN = k, m[k]
		}
	}
	return best
}
