// Package session implements the Session Manager: the job lifecycle
// state machine (running/paused/completed/failed/
// cancelled), cooperative pause/cancel signalling, and persisted
// transitions. The one-goroutine-per-job-tracked-by-a-WaitGroup shape is
// grounded on this codebase's async task tracking convention,
// generalized from a single background task to a resumable,
// checkpoint-backed analysis session.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketlens/engine/component"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/normalize"
	"github.com/marketlens/engine/storage"
	"github.com/marketlens/engine/telemetry"
)

// Status is one of the session lifecycle states.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is the read-only view returned by Get.
type Snapshot struct {
	SessionID      string
	Status         Status
	CreatedAt      time.Time
	StartedAt      time.Time
	PausedAt       time.Time
	ResumedAt      time.Time
	CompletedAt    time.Time
	ComponentCount int
	LastProgress   *component.ProgressEvent
	Error          string
}

type jobRequest struct {
	InputPayload map[string]interface{} `json:"input_payload"`
}

type runState struct {
	mu          sync.Mutex
	status      Status
	createdAt   time.Time
	startedAt   time.Time
	pausedAt    time.Time
	resumedAt   time.Time
	completedAt time.Time
	err         string
	results     map[string]normalize.ComponentResult
	lastEvent   *component.ProgressEvent

	pauseRequested  bool
	cancelRequested bool
}

// Manager owns every session's lifecycle state and coordinates the
// Scheduler to actually run components.
type Manager struct {
	checkpoint  *storage.CheckpointStore
	scheduler   *component.Scheduler
	broadcaster *component.Broadcaster

	mu       sync.Mutex
	sessions map[string]*runState
	wg       sync.WaitGroup

	now func() time.Time
}

// New constructs a Manager.
func New(checkpoint *storage.CheckpointStore, scheduler *component.Scheduler, broadcaster *component.Broadcaster) *Manager {
	return &Manager{
		checkpoint:  checkpoint,
		scheduler:   scheduler,
		broadcaster: broadcaster,
		sessions:    make(map[string]*runState),
		now:         time.Now,
	}
}

// Wait blocks until every in-flight session executor goroutine has
// returned, for graceful shutdown.
func (m *Manager) Wait() { m.wg.Wait() }

// Start allocates a new session ID, persists the initial job_request
// artifact, and kicks off an asynchronous executor goroutine. It
// returns immediately with the session ID.
func (m *Manager) Start(ctx context.Context, inputPayload map[string]interface{}) (string, error) {
	sessionID := uuid.NewString()
	now := m.now()

	rs := &runState{status: StatusRunning, createdAt: now, startedAt: now, results: make(map[string]normalize.ComponentResult)}
	m.mu.Lock()
	m.sessions[sessionID] = rs
	m.mu.Unlock()

	if _, err := m.checkpoint.Append(ctx, sessionID, "job_request", "logs", storage.StatusOK, jobRequest{InputPayload: inputPayload}); err != nil {
		return "", err
	}

	m.runAsync(sessionID, inputPayload, false)
	return sessionID, nil
}

// Pause transitions a running session to paused. The scheduler observes
// the flag only between components.
func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	rs, err := m.find(sessionID)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.status != StatusRunning {
		return errs.New("session.Pause", errs.KindValidationFailed, sessionID, errs.ErrInvalidTransition)
	}
	rs.pauseRequested = true
	return nil
}

// Resume re-enters the scheduler loop for a paused session at the next
// pending component.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	rs, err := m.find(sessionID)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	if rs.status != StatusPaused {
		rs.mu.Unlock()
		return errs.New("session.Resume", errs.KindValidationFailed, sessionID, errs.ErrInvalidTransition)
	}
	rs.pauseRequested = false
	rs.status = StatusRunning
	rs.resumedAt = m.now()
	rs.mu.Unlock()

	input, err := m.loadInput(ctx, sessionID)
	if err != nil {
		return err
	}
	m.runAsync(sessionID, input, true)
	return nil
}

// ContinueFromPersisted re-runs a previously completed-or-failed session,
// reloading its job_request and skipping components whose checkpoint
// artifacts already exist. Unlike Pause/Resume/Cancel, the session need
// not still be tracked in memory: a session whose process restarted
// after completing or failing is rehydrated from the checkpoint store
// on first reference, since resuming a crashed process is precisely
// what durable checkpointing exists for.
func (m *Manager) ContinueFromPersisted(ctx context.Context, sessionID string) error {
	rs, err := m.findOrRehydrate(ctx, sessionID)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	if !rs.status.terminal() || rs.status == StatusCancelled {
		rs.mu.Unlock()
		return errs.New("session.ContinueFromPersisted", errs.KindValidationFailed, sessionID, errs.ErrInvalidTransition)
	}
	rs.status = StatusRunning
	rs.resumedAt = m.now()
	rs.mu.Unlock()

	input, err := m.loadInput(ctx, sessionID)
	if err != nil {
		return err
	}
	m.runAsync(sessionID, input, true)
	return nil
}

// Cancel moves any non-terminal session to cancelled; the scheduler
// observes the flag between components and exits.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	rs, err := m.find(sessionID)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.status.terminal() {
		return errs.New("session.Cancel", errs.KindValidationFailed, sessionID, errs.ErrInvalidTransition)
	}
	rs.cancelRequested = true
	return nil
}

// Get returns a point-in-time snapshot of a session's lifecycle state.
// If the session isn't tracked in this process (e.g. after a restart)
// it is rehydrated from the checkpoint store.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Snapshot, error) {
	rs, err := m.findOrRehydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return &Snapshot{
		SessionID:      sessionID,
		Status:         rs.status,
		CreatedAt:      rs.createdAt,
		StartedAt:      rs.startedAt,
		PausedAt:       rs.pausedAt,
		ResumedAt:      rs.resumedAt,
		CompletedAt:    rs.completedAt,
		ComponentCount: len(rs.results),
		LastProgress:   rs.lastEvent,
		Error:          rs.err,
	}, nil
}

// Results returns the current component result map for a session
// (populated incrementally as the scheduler progresses).
func (m *Manager) Results(ctx context.Context, sessionID string) (map[string]normalize.ComponentResult, error) {
	rs, err := m.findOrRehydrate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make(map[string]normalize.ComponentResult, len(rs.results))
	for k, v := range rs.results {
		out[k] = v
	}
	return out, nil
}

func (m *Manager) find(sessionID string) (*runState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs, ok := m.sessions[sessionID]
	if !ok {
		return nil, errs.New("session.find", errs.KindValidationFailed, sessionID, errs.ErrSessionNotFound)
	}
	return rs, nil
}

// findOrRehydrate returns the in-memory runState for sessionID,
// reconstructing one from the checkpoint store's job_request artifact
// when the session isn't tracked by this process (e.g. after a
// restart). A rehydrated session is assumed terminal (failed) since
// only a session that stopped progressing persists without a live
// executor; ContinueFromPersisted's own transition check still governs
// whether that's a legal state to continue from.
func (m *Manager) findOrRehydrate(ctx context.Context, sessionID string) (*runState, error) {
	m.mu.Lock()
	if rs, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return rs, nil
	}
	m.mu.Unlock()

	art, err := m.checkpoint.LoadArtifact(ctx, sessionID, "job_request")
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, errs.New("session.findOrRehydrate", errs.KindValidationFailed, sessionID, errs.ErrSessionNotFound)
	}

	results, err := m.loadPersistedResults(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if rs, ok := m.sessions[sessionID]; ok {
		return rs, nil
	}
	rs := &runState{
		status:    StatusFailed,
		createdAt: art.Timestamp,
		results:   results,
	}
	m.sessions[sessionID] = rs
	return rs, nil
}

// loadPersistedResults reconstructs a session's component-result map
// from whatever "complete_analysis" artifacts the checkpoint store
// holds, for a session this process has no in-memory record of.
func (m *Manager) loadPersistedResults(ctx context.Context, sessionID string) (map[string]normalize.ComponentResult, error) {
	descs, err := m.checkpoint.ListArtifacts(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]normalize.ComponentResult)
	for _, d := range descs {
		if d.Category != "complete_analysis" {
			continue
		}
		art, err := m.checkpoint.LoadArtifact(ctx, sessionID, d.Stage)
		if err != nil || art == nil {
			continue
		}
		var res normalize.ComponentResult
		if err := json.Unmarshal(art.Payload, &res); err == nil {
			out[d.Stage] = res
		}
	}
	return out, nil
}

func (m *Manager) loadInput(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	art, err := m.checkpoint.LoadArtifact(ctx, sessionID, "job_request")
	if err != nil {
		return nil, err
	}
	if art == nil {
		return nil, errs.New("session.loadInput", errs.KindStorage, sessionID, errs.ErrSessionNotFound)
	}
	var req jobRequest
	if err := json.Unmarshal(art.Payload, &req); err != nil {
		return nil, errs.New("session.loadInput", errs.KindStorage, sessionID, err)
	}
	return req.InputPayload, nil
}

func (m *Manager) runAsync(sessionID string, input map[string]interface{}, resuming bool) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(sessionID, input, resuming)
	}()
}

func (m *Manager) run(sessionID string, input map[string]interface{}, resuming bool) {
	rs, err := m.find(sessionID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rs.mu.Lock()
				cancelled := rs.cancelRequested
				rs.mu.Unlock()
				if cancelled {
					cancel()
					return
				}
			}
		}
	}()

	pause := func() bool {
		rs.mu.Lock()
		defer rs.mu.Unlock()
		return rs.pauseRequested || rs.cancelRequested
	}

	result, runErr := m.scheduler.Run(ctx, sessionID, input, resuming, pause, func(ev component.ProgressEvent) {
		rs.mu.Lock()
		rs.lastEvent = &ev
		rs.mu.Unlock()
		if m.broadcaster != nil {
			m.broadcaster.Publish(ev)
		}
	})

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if result != nil {
		for k, v := range result.Results {
			rs.results[k] = v
		}
	}

	switch {
	case rs.cancelRequested:
		rs.status = StatusCancelled
		rs.completedAt = m.now()
	case rs.pauseRequested:
		rs.status = StatusPaused
		rs.pausedAt = m.now()
	case runErr != nil:
		rs.status = StatusFailed
		rs.err = runErr.Error()
		rs.completedAt = m.now()
	case result != nil && !result.AllRequiredOK:
		rs.status = StatusFailed
		rs.err = "one or more required components failed"
		rs.completedAt = m.now()
	default:
		rs.status = StatusCompleted
		rs.completedAt = m.now()
	}
	telemetry.Counter("scheduler.session.completed", "status", string(rs.status))
}
