package memory

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/awe/internal/task"
)

func mkTask(id, title string) *task.Task {
	return &task.Task{ID: id, Title: title, Status: task.StatusPassed}
}

func TestPersistAndRecallBasic(t *testing.T) {
	s := NewStore(t.TempDir())

	first := mkTask("t-1", "Fix auth token refresh in login flow")
	first.LastGateReason = "author_approved"
	require.NoError(t, s.Persist(first, task.MemoryBasic, 2))

	got, err := s.Recall(mkTask("t-2", "auth token refresh bug"), task.MemoryBasic)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].TaskID)
	assert.Equal(t, "author_approved", got[0].GateReason)
	assert.Equal(t, 2, got[0].Rounds)
}

func TestRecallOffReturnsNothing(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Persist(mkTask("t-1", "same title"), task.MemoryBasic, 1))

	got, err := s.Recall(mkTask("t-2", "same title"), task.MemoryOff)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPersistOffIsNoop(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Persist(mkTask("t-1", "anything"), task.MemoryOff, 1))

	got, err := s.Recall(mkTask("t-2", "anything"), task.MemoryBasic)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStrictRequiresExactTitleMatch(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Persist(mkTask("t-1", "Refactor payment webhooks"), task.MemoryStrict, 1))

	got, err := s.Recall(mkTask("t-2", "refactor payment webhook handling"), task.MemoryStrict)
	require.NoError(t, err)
	assert.Empty(t, got, "partial overlap must not match in strict mode")

	got, err = s.Recall(mkTask("t-3", "refactor PAYMENT webhooks"), task.MemoryStrict)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t-1", got[0].TaskID)
}

func TestRecallSkipsOwnTask(t *testing.T) {
	s := NewStore(t.TempDir())
	self := mkTask("t-1", "dedupe start slot handling")
	require.NoError(t, s.Persist(self, task.MemoryBasic, 1))

	got, err := s.Recall(self, task.MemoryBasic)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecallCapsResults(t *testing.T) {
	s := NewStore(t.TempDir())
	for i := 0; i < 10; i++ {
		tk := mkTask("t-"+string(rune('a'+i)), "tune worker pool sizing")
		require.NoError(t, s.Persist(tk, task.MemoryBasic, 1))
	}
	got, err := s.Recall(mkTask("t-x", "tune worker pool sizing"), task.MemoryBasic)
	require.NoError(t, err)
	assert.Len(t, got, maxRecall)
}

func TestRecallSurvivesMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir)
	require.NoError(t, s.Persist(mkTask("t-1", "rotate session keys"), task.MemoryBasic, 1))

	f, err := os.OpenFile(s.path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json}\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := s.Recall(mkTask("t-2", "rotate session keys"), task.MemoryBasic)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
