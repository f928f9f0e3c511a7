// Package orchestrator owns the task lifecycle: creation, start scheduling,
// concurrency gating, guard evaluation, workflow dispatch, and terminal
// bookkeeping. It is the only component that mutates the repository.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/command"
	"github.com/randalmurphal/awe/internal/config"
	"github.com/randalmurphal/awe/internal/db"
	"github.com/randalmurphal/awe/internal/errors"
	"github.com/randalmurphal/awe/internal/events"
	"github.com/randalmurphal/awe/internal/memory"
	"github.com/randalmurphal/awe/internal/merge"
	"github.com/randalmurphal/awe/internal/provider"
	"github.com/randalmurphal/awe/internal/runner"
	"github.com/randalmurphal/awe/internal/sandbox"
	"github.com/randalmurphal/awe/internal/task"
	"github.com/randalmurphal/awe/internal/workflow"
)

// Gate and lifecycle reasons written by the service.
const (
	ReasonAuthorApproved          = "author_approved"
	ReasonAuthorRejected          = "author_rejected"
	ReasonAuthorFeedbackRequested = "author_feedback_requested"
	ReasonConcurrencyLimit        = "concurrency_limit"
	ReasonResumeGuardMismatch     = "workspace_resume_guard_mismatch"
	ReasonPreflightRiskGateFailed = "preflight_risk_gate_failed"
	ReasonHeadSHAMissing          = "head_sha_missing"
	ReasonHeadSHAMismatch         = "head_sha_mismatch"
	ReasonPromotionGuardBlocked   = "promotion_guard_blocked"
	ReasonEvidenceManifestFailed  = "evidence_manifest_failed"
)

// Service coordinates tasks across the repository, the artifact mirror,
// agent providers, and the workflow engine.
type Service struct {
	repo     *db.Repository
	store    *artifact.Store
	registry *provider.Registry
	cfg      *config.Config
	emitter  *events.Emitter
	memory   *memory.Store
	merger   merge.Merger
	guard    merge.Guard
	agents   workflow.AgentRunner
	commands workflow.CommandRunner
	logger   *slog.Logger

	mu sync.Mutex
	// startSlots holds task ids with an in-flight start call.
	startSlots map[string]bool
	// runningSlots holds task ids that claimed running capacity.
	runningSlots map[string]bool
	// feedback holds the latest author revise note per task, consumed by
	// the next consensus attempt.
	feedback map[string]string
}

// NewService wires the default collaborators. cfg must be non-nil.
func NewService(repo *db.Repository, store *artifact.Store, registry *provider.Registry, cfg *config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		store:        store,
		registry:     registry,
		cfg:          cfg,
		emitter:      events.NewEmitter(repo, store, logger),
		memory:       memory.NewStore(store.Root()),
		merger:       merge.NewFileMerger(logger),
		guard:        merge.DefaultGuard(),
		agents:       runner.New(logger),
		commands:     command.NewExecutor(logger),
		logger:       logger,
		startSlots:   make(map[string]bool),
		runningSlots: make(map[string]bool),
		feedback:     make(map[string]string),
	}
}

// SetAgentRunner replaces the agent process runner, used by tests.
func (s *Service) SetAgentRunner(r workflow.AgentRunner) { s.agents = r }

// SetCommandRunner replaces the verification command executor, used by tests.
func (s *Service) SetCommandRunner(r workflow.CommandRunner) { s.commands = r }

// SetMerger replaces the auto-merge collaborator, used by tests.
func (s *Service) SetMerger(m merge.Merger) { s.merger = m }

// SetGuard replaces the promotion guard, used by tests.
func (s *Service) SetGuard(g merge.Guard) { s.guard = g }

// CreateTask validates input, provisions the workspace (sandboxed when
// requested or forced), fingerprints it, and persists the queued task.
func (s *Service) CreateTask(in *task.Input) (*task.Task, error) {
	if in.MaxRounds == 0 {
		in.MaxRounds = 1
	}
	// Multi-round work without auto-merge promotes from snapshots later,
	// so it must not mutate the project directory in place.
	if in.MaxRounds > 1 && !in.AutoMerge {
		in.SandboxMode = true
	}
	if verr := task.ValidateInput(in, s.registry.KnownSet()); verr != nil {
		return nil, verr
	}
	if info, err := os.Stat(in.ProjectPath); err != nil || !info.IsDir() {
		return nil, errors.Validation("project_path", "project directory does not exist")
	}

	t := buildTask(in)
	t.ID = task.NewID()

	generated := false
	if t.SandboxMode {
		if t.SandboxPath == "" {
			p, err := sandbox.ResolvePath(t.ID)
			if err != nil {
				return nil, fmt.Errorf("resolve sandbox path: %w", err)
			}
			t.SandboxPath = p
			t.SandboxGenerated = true
			generated = true
			if err := sandbox.Bootstrap(t.ProjectPath, t.SandboxPath); err != nil {
				_ = sandbox.Remove(t.SandboxPath)
				return nil, fmt.Errorf("bootstrap sandbox: %w", err)
			}
		}
		t.WorkspacePath = t.SandboxPath
	} else {
		t.WorkspacePath = t.ProjectPath
	}

	fail := func(err error) (*task.Task, error) {
		if generated {
			_ = sandbox.Remove(t.SandboxPath)
		}
		return nil, err
	}

	fp, err := sandbox.Fingerprint(sandbox.FingerprintInput{
		WorkspacePath: t.WorkspacePath,
		ProjectPath:   t.ProjectPath,
		SandboxMode:   t.SandboxMode,
		Generated:     t.SandboxGenerated,
	})
	if err != nil {
		return fail(fmt.Errorf("fingerprint workspace: %w", err))
	}
	t.WorkspaceFingerprint = fp

	if err := s.repo.CreateTask(t); err != nil {
		return fail(err)
	}
	if err := s.store.EnsureTask(t.ID); err != nil {
		s.logger.Warn("artifact dir create failed", "task_id", t.ID, "error", err)
	}
	s.mirrorState(t)
	s.logger.Info("task created", "task_id", t.ID, "title", t.Title, "sandbox", t.SandboxMode)
	return t, nil
}

// GetTask returns a task by id, (nil, nil) when absent.
func (s *Service) GetTask(id string) (*task.Task, error) {
	return s.repo.GetTask(id)
}

// ListTasks returns tasks newest first. limit <= 0 returns all.
func (s *Service) ListTasks(limit int) ([]task.Task, error) {
	return s.repo.ListTasks(limit)
}

// DeleteTasks removes tasks and their artifact directories.
func (s *Service) DeleteTasks(ids []string) (int, error) {
	n, err := s.repo.DeleteTasks(ids)
	if err != nil {
		return n, err
	}
	for _, id := range ids {
		if err := s.store.RemoveTask(id); err != nil {
			s.logger.Warn("artifact cleanup failed", "task_id", id, "error", err)
		}
	}
	return n, nil
}

// ListEvents returns the event log for a task. When the repository no
// longer has the task, the artifact mirror is consulted as a fallback.
func (s *Service) ListEvents(id string) ([]db.Event, error) {
	evts, err := s.repo.ListEvents(id)
	if err != nil {
		return nil, err
	}
	if len(evts) > 0 {
		return evts, nil
	}
	t, err := s.repo.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return evts, nil
	}
	mirrored, err := s.store.ReadEvents(id)
	if err != nil {
		return nil, err
	}
	out := make([]db.Event, 0, len(mirrored))
	for _, rec := range mirrored {
		out = append(out, db.Event{
			TaskID:    id,
			Seq:       rec.Seq,
			Type:      rec.Type,
			Round:     rec.Round,
			Payload:   marshalPayload(rec.Payload),
			CreatedAt: rec.CreatedAt,
		})
	}
	return out, nil
}

func (s *Service) emit(taskID string, typ events.Type, payload any) {
	if _, err := s.emitter.Emit(taskID, typ, payload); err != nil {
		s.logger.Warn("event emit failed", "task_id", taskID, "type", typ, "error", err)
	}
}

func (s *Service) emitRound(taskID string, typ events.Type, round int, payload any) {
	if _, err := s.emitter.EmitRound(taskID, typ, round, payload); err != nil {
		s.logger.Warn("event emit failed", "task_id", taskID, "type", typ, "error", err)
	}
}

// mirrorState writes the state.json mirror; the repository stays
// authoritative, so failures only log.
func (s *Service) mirrorState(t *task.Task) {
	if t == nil {
		return
	}
	if err := s.store.WriteState(t.ID, t); err != nil {
		s.logger.Warn("state mirror failed", "task_id", t.ID, "error", err)
	}
}

func (s *Service) claimStartSlot(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startSlots[id] {
		return false
	}
	s.startSlots[id] = true
	return true
}

func (s *Service) releaseStartSlot(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.startSlots, id)
}

// claimCapacity admits the task only when the union of repository-running
// tasks and in-memory claims stays under the configured bound.
func (s *Service) claimCapacity(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	running, err := s.repo.CountRunning(id)
	if err != nil {
		return false, err
	}
	union := running
	for other := range s.runningSlots {
		if other != id {
			union++
		}
	}
	if union >= s.cfg.MaxConcurrentRunningTasks {
		return false, nil
	}
	s.runningSlots[id] = true
	return true, nil
}

func (s *Service) releaseCapacity(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runningSlots, id)
}

func (s *Service) takeFeedback(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	note := s.feedback[id]
	delete(s.feedback, id)
	return note
}

func (s *Service) setFeedback(id, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[id] = note
}

// agentCaller binds the task's participants to the configured provider
// commands.
func (s *Service) agentCaller(t *task.Task) *workflow.AgentCaller {
	var onStream runner.StreamFunc
	if t.StreamMode {
		logger := s.logger
		onStream = func(stream, text string) {
			logger.Debug("agent stream", "task_id", t.ID, "stream", stream, "text", text)
		}
	}
	return &workflow.AgentCaller{
		Task:     t,
		Registry: s.registry,
		Runner:   s.agents,
		Commands: s.cfg.ProviderCommands,
		OnStream: onStream,
		DryRun:   s.cfg.DryRun,
	}
}

func buildTask(in *task.Input) *task.Task {
	return &task.Task{
		Title:                in.Title,
		Description:          in.Description,
		AuthorParticipant:    in.AuthorParticipant,
		ReviewerParticipants: in.ReviewerParticipants,
		ProjectPath:          in.ProjectPath,
		MergeTargetPath:      in.MergeTargetPath,
		SandboxMode:          in.SandboxMode,
		SandboxPath:          in.SandboxPath,
		SandboxCleanupOnPass: in.SandboxCleanupOnPass,
		EvolutionLevel:       in.EvolutionLevel,
		EvolveUntil:          in.EvolveUntil,
		Language:             defaultLanguage(in.Language),
		ModelOverrides:       in.ModelOverrides,
		ModelParamOverrides:  in.ModelParamOverrides,
		FeatureOverrides:     in.FeatureOverrides,
		RepairMode:           defaultRepairMode(in.RepairMode),
		MemoryMode:           defaultMemoryMode(in.MemoryMode),
		PhaseTimeoutSeconds:  in.PhaseTimeoutSeconds,
		PlainMode:            in.PlainMode,
		StreamMode:           in.StreamMode,
		DebateMode:           in.DebateMode,
		SelfLoopMode:         in.SelfLoopMode,
		AutoMerge:            in.AutoMerge,
		MaxRounds:            in.MaxRounds,
		TestCommand:          in.TestCommand,
		LintCommand:          in.LintCommand,
	}
}

func marshalPayload(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

func defaultLanguage(l task.Language) task.Language {
	if l == "" {
		return task.LanguageEnglish
	}
	return l
}

func defaultRepairMode(m task.RepairMode) task.RepairMode {
	if m == "" {
		return task.RepairBalanced
	}
	return m
}

func defaultMemoryMode(m task.MemoryMode) task.MemoryMode {
	if m == "" {
		return task.MemoryOff
	}
	return m
}
