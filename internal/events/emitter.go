package events

import (
	"encoding/json"
	"log/slog"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/db"
)

// Emitter appends an event to the repository and mirrors it to the artifact
// store. Mirror failures are logged and swallowed; the repository row is the
// one that matters.
type Emitter struct {
	repo   *db.Repository
	store  *artifact.Store
	logger *slog.Logger
}

func NewEmitter(repo *db.Repository, store *artifact.Store, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{repo: repo, store: store, logger: logger}
}

// Emit appends the event and returns the persisted row.
func (e *Emitter) Emit(taskID string, typ Type, payload any) (*db.Event, error) {
	return e.emit(taskID, typ, payload, nil)
}

// EmitRound appends an event tagged with a round number.
func (e *Emitter) EmitRound(taskID string, typ Type, round int, payload any) (*db.Event, error) {
	return e.emit(taskID, typ, payload, &round)
}

func (e *Emitter) emit(taskID string, typ Type, payload any, round *int) (*db.Event, error) {
	row, err := e.repo.AppendEvent(taskID, string(typ), payload, round)
	if err != nil {
		return nil, err
	}
	if e.store != nil {
		rec := artifact.EventRecord{
			Seq:       row.Seq,
			Type:      row.Type,
			Round:     row.Round,
			Payload:   rawPayload(row.Payload),
			CreatedAt: row.CreatedAt,
		}
		if mirrorErr := e.store.AppendEvent(taskID, rec); mirrorErr != nil {
			e.logger.Warn("event mirror write failed",
				"task_id", taskID, "type", typ, "error", mirrorErr)
		}
	}
	return row, nil
}

func rawPayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
