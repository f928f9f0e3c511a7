package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParticipant(t *testing.T) {
	p, err := ParseParticipant("codex#author-A")
	require.NoError(t, err)
	assert.Equal(t, "codex", p.Provider)
	assert.Equal(t, "author-A", p.Alias)
	assert.Equal(t, "codex#author-A", p.String())

	for _, bad := range []string{"", "codex", "#alias", "codex#", "a#b#c"} {
		_, err := ParseParticipant(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusPassed.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
	assert.True(t, StatusFailedSystem.IsTerminal())
	assert.False(t, StatusFailedGate.IsTerminal())
	assert.True(t, StatusFailedGate.IsFinal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusWaitingManual.IsFinal())
}

func TestNewID(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.Len(t, id, IDLength)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestPhaseTimeout(t *testing.T) {
	tk := &Task{PhaseTimeoutSeconds: map[Phase]float64{PhaseReview: 45}}
	assert.Equal(t, 45*time.Second, tk.PhaseTimeout(PhaseReview, time.Minute))
	assert.Equal(t, time.Minute, tk.PhaseTimeout(PhaseDiscussion, time.Minute))
}

func validInput() *Input {
	return &Input{
		Title:                "fix flaky parser",
		Description:          "see issue notes",
		AuthorParticipant:    "codex#author-A",
		ReviewerParticipants: []string{"claude#review-B"},
		ProjectPath:          "/tmp/project",
		MaxRounds:            1,
	}
}

func TestValidateInput(t *testing.T) {
	known := map[string]bool{"codex": true, "claude": true, "gemini": true}

	assert.Nil(t, ValidateInput(validInput(), known))

	t.Run("bad reviewer index", func(t *testing.T) {
		in := validInput()
		in.ReviewerParticipants = []string{"claude#review-B", "nope"}
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "reviewer_participants[1]", err.Field)
	})

	t.Run("unknown provider", func(t *testing.T) {
		in := validInput()
		in.AuthorParticipant = "mystery#a"
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "author_participant", err.Field)
	})

	t.Run("language", func(t *testing.T) {
		in := validInput()
		in.Language = "fr"
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "language", err.Field)
	})

	t.Run("phase timeouts", func(t *testing.T) {
		in := validInput()
		in.PhaseTimeoutSeconds = map[Phase]float64{PhaseReview: 5}
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "phase_timeout_seconds", err.Field)

		in.PhaseTimeoutSeconds = map[Phase]float64{"warmup": 60}
		err = ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "phase_timeout_seconds", err.Field)
	})

	t.Run("max rounds", func(t *testing.T) {
		in := validInput()
		in.MaxRounds = 0
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "max_rounds", err.Field)
	})

	t.Run("auto merge requires target", func(t *testing.T) {
		in := validInput()
		in.AutoMerge = true
		err := ValidateInput(in, known)
		require.NotNil(t, err)
		assert.Equal(t, "merge_target_path", err.Field)

		in.MergeTargetPath = t.TempDir()
		assert.Nil(t, ValidateInput(in, known))
	})
}
