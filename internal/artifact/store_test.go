package artifact

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureTaskLayout(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("abc123"))

	for _, sub := range []string{"", "discussion", "artifacts"} {
		info, err := os.Stat(filepath.Join(s.TaskDir("abc123"), sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	round := 2
	require.NoError(t, s.AppendEvent("t1", EventRecord{Seq: 1, Type: "task_started", CreatedAt: time.Now()}))
	require.NoError(t, s.AppendEvent("t1", EventRecord{Seq: 2, Type: "round_started", Round: &round, CreatedAt: time.Now()}))

	records, err := s.ReadEvents("t1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "task_started", records[0].Type)
	assert.Equal(t, int64(2), records[1].Seq)
	require.NotNil(t, records[1].Round)
	assert.Equal(t, 2, *records[1].Round)

	// Missing task yields no records, not an error.
	records, err = s.ReadEvents("unknown")
	require.NoError(t, err)
	assert.Nil(t, records)
}

func TestWriteAndReadArtifact(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	require.NoError(t, s.WriteArtifact("t1", "evidence_bundle", map[string]any{"passed": true}))

	var got map[string]any
	require.NoError(t, s.ReadArtifact("t1", "evidence_bundle", &got))
	assert.Equal(t, true, got["passed"])

	err := s.ReadArtifact("t1", "missing", &got)
	assert.True(t, os.IsNotExist(err))
}

func TestArtifactNameTraversalRejected(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	assert.Error(t, s.WriteArtifact("t1", "../escape", map[string]any{}))
	assert.Error(t, s.WriteArtifact("t1", "/abs/path", map[string]any{}))
}

func TestTaskIDSanitized(t *testing.T) {
	s := NewStore(t.TempDir())
	dir := s.TaskDir("../evil")
	assert.True(t, strings.HasPrefix(dir, filepath.Join(s.Root(), "threads")))
	assert.NotContains(t, dir, "..")
}

func TestWriteState(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	require.NoError(t, s.WriteState("t1", map[string]string{"status": "running"}))

	data, err := os.ReadFile(filepath.Join(s.TaskDir("t1"), "state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "running"`)
}

func TestWriteFinalReport(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	require.NoError(t, s.WriteFinalReport("t1", "failed_gate", "tests_failed"))

	data, err := os.ReadFile(filepath.Join(s.TaskDir("t1"), "final_report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "status=failed_gate\nreason=tests_failed\n", string(data))
}

func TestAppendDiscussionInvalidUTF8(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))

	require.NoError(t, s.AppendDiscussion("t1", "author", 1, "ok \xff\xfe bytes"))

	data, err := os.ReadFile(filepath.Join(s.TaskDir("t1"), "discussion", "author-round-001.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "ok �� bytes")
}

func TestRemoveTask(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.EnsureTask("t1"))
	require.NoError(t, s.RemoveTask("t1"))

	_, err := os.Stat(s.TaskDir("t1"))
	assert.True(t, os.IsNotExist(err))
}
