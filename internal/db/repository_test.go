package db

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/task"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	d, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return NewRepository(d, nil)
}

func newTestTask() *task.Task {
	return &task.Task{
		Title:                "fix parser",
		Description:          "handle empty input",
		AuthorParticipant:    "codex#author-A",
		ReviewerParticipants: []string{"claude#review-B"},
		ProjectPath:          "/tmp/project",
		WorkspacePath:        "/tmp/project",
		Language:             task.LanguageEnglish,
		RepairMode:           task.RepairBalanced,
		MemoryMode:           task.MemoryOff,
		MaxRounds:            3,
		TestCommand:          "pytest -q",
	}
}

func TestCreateAndGetTask(t *testing.T) {
	repo := newTestRepo(t)

	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))
	require.NotEmpty(t, tk.ID)
	assert.Equal(t, task.StatusQueued, tk.Status)

	got, err := repo.GetTask(tk.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tk.Title, got.Title)
	assert.Equal(t, []string{"claude#review-B"}, got.ReviewerParticipants)
	assert.Equal(t, 3, got.MaxRounds)
	assert.Equal(t, "pytest -q", got.TestCommand)
	assert.False(t, got.CancelRequested)

	missing, err := repo.GetTask("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestListTasksNewestFirst(t *testing.T) {
	repo := newTestRepo(t)

	var ids []string
	for i := 0; i < 3; i++ {
		tk := newTestTask()
		require.NoError(t, repo.CreateTask(tk))
		ids = append(ids, tk.ID)
	}

	tasks, err := repo.ListTasks(0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	tasks, err = repo.ListTasks(2)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
	_ = ids
}

func TestUpdateTaskStatusIfCAS(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))

	// Matching expectation applies.
	rounds := 2
	got, err := repo.UpdateTaskStatusIf(tk.ID, task.StatusQueued, task.StatusRunning, "", &rounds, nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusRunning, got.Status)
	assert.Equal(t, 2, got.RoundsCompleted)

	// Mismatched expectation returns nil without touching the row.
	got, err = repo.UpdateTaskStatusIf(tk.ID, task.StatusQueued, task.StatusCanceled, "canceled", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, got)

	current, err := repo.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusRunning, current.Status)

	// Cancel flag can be cleared as part of a terminal CAS.
	_, err = repo.SetCancelRequested(tk.ID, true)
	require.NoError(t, err)
	cleared := false
	got, err = repo.UpdateTaskStatusIf(tk.ID, task.StatusRunning, task.StatusPassed, "passed", nil, &cleared)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.StatusPassed, got.Status)
	assert.False(t, got.CancelRequested)
}

func TestCancelRequestedFlag(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))

	requested, err := repo.IsCancelRequested(tk.ID)
	require.NoError(t, err)
	assert.False(t, requested)

	_, err = repo.SetCancelRequested(tk.ID, true)
	require.NoError(t, err)

	requested, err = repo.IsCancelRequested(tk.ID)
	require.NoError(t, err)
	assert.True(t, requested)
}

func TestAppendEventSequence(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))

	round := 1
	for i := 1; i <= 5; i++ {
		ev, err := repo.AppendEvent(tk.ID, "round_started", map[string]any{"round": i}, &round)
		require.NoError(t, err)
		assert.Equal(t, int64(i), ev.Seq)
	}

	events, err := repo.ListEvents(tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq, "seq must be gap-free and 1-based")
		assert.Equal(t, "round_started", ev.Type)
		require.NotNil(t, ev.Round)
		assert.Equal(t, 1, *ev.Round)
	}
}

func TestAppendEventConcurrent(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.AppendEvent(tk.ID, "discussion", nil, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	events, err := repo.ListEvents(tk.ID)
	require.NoError(t, err)
	require.Len(t, events, n)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestEventPayloadASCIISafe(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))

	_, err := repo.AppendEvent(tk.ID, "discussion", map[string]string{"note": "日本語テキスト"}, nil)
	require.NoError(t, err)

	events, err := repo.ListEvents(tk.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)

	raw := string(events[0].Payload)
	for _, r := range raw {
		assert.Less(t, int(r), 128, "payload must be ASCII-safe")
	}

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(events[0].Payload, &decoded))
	assert.Equal(t, "日本語テキスト", decoded["note"])
}

func TestDeleteTasksPurgesEverything(t *testing.T) {
	repo := newTestRepo(t)
	tk := newTestTask()
	require.NoError(t, repo.CreateTask(tk))
	_, err := repo.AppendEvent(tk.ID, "task_started", nil, nil)
	require.NoError(t, err)

	n, err := repo.DeleteTasks([]string{tk.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.GetTask(tk.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	events, err := repo.ListEvents(tk.ID)
	require.NoError(t, err)
	assert.Empty(t, events)

	// A recreated task with the same id starts its sequence from 1 again.
	tk2 := newTestTask()
	tk2.ID = tk.ID
	require.NoError(t, repo.CreateTask(tk2))
	ev, err := repo.AppendEvent(tk.ID, "task_started", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), ev.Seq)
}

func TestCountRunning(t *testing.T) {
	repo := newTestRepo(t)

	a := newTestTask()
	b := newTestTask()
	require.NoError(t, repo.CreateTask(a))
	require.NoError(t, repo.CreateTask(b))

	_, err := repo.UpdateTaskStatus(a.ID, task.StatusRunning, "", nil)
	require.NoError(t, err)
	_, err = repo.UpdateTaskStatus(b.ID, task.StatusRunning, "", nil)
	require.NoError(t, err)

	n, err := repo.CountRunning("")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.CountRunning(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
