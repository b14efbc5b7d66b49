package component

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/normalize"
	"github.com/marketlens/engine/storage"
	"github.com/marketlens/engine/telemetry"
)

// DefaultComponentDeadline is the maximum duration a single executor
// call is allowed to run before it is treated as a timeout failure.
const DefaultComponentDeadline = 10 * time.Minute

// ProgressEvent is published after every component finishes, successful
// or not, so the HTTP surface can poll session progress.
type ProgressEvent struct {
	SessionID string
	Step      int
	Total     int
	Component string
	Status    string // "ok", "error", "skipped_from_checkpoint"
	Timestamp time.Time
}

// PauseCheck is polled between components; when it returns true the
// scheduler stops and the caller (Session Manager) transitions the
// session to paused.
type PauseCheck func() bool

// Scheduler runs a Registry's components in topological order for one
// session at a time.
type Scheduler struct {
	registry   *Registry
	checkpoint *storage.CheckpointStore
	deadline   time.Duration
	now        func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDeadline overrides the default per-component deadline.
func WithDeadline(d time.Duration) Option { return func(s *Scheduler) { s.deadline = d } }

// NewScheduler constructs a Scheduler bound to a Registry and a
// Checkpoint Store.
func NewScheduler(registry *Registry, checkpoint *storage.CheckpointStore, opts ...Option) *Scheduler {
	s := &Scheduler{registry: registry, checkpoint: checkpoint, deadline: DefaultComponentDeadline, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunResult is returned by Run: the per-component normalized results,
// plus whether every required component succeeded.
type RunResult struct {
	Results  map[string]normalize.ComponentResult
	AllRequiredOK bool
}

// Run executes every registered component for one session in stable
// topological order. A component whose artifact already exists in the
// Checkpoint Store (because the session is being resumed) is loaded
// instead of re-executed. pause/cancel are checked only between
// components, never mid-component, per the engine's suspension model.
func (s *Scheduler) Run(ctx context.Context, sessionID string, baseContext map[string]interface{}, resuming bool, pause PauseCheck, onProgress func(ProgressEvent)) (*RunResult, error) {
	defs := s.registry.Definitions()
	order, err := topologicalOrder(toDefMap(defs))
	if err != nil {
		return nil, err
	}

	byName := toDefMap(defs)
	results := make(map[string]interface{})
	normalized := make(map[string]normalize.ComponentResult)
	allRequiredOK := true

	for i, name := range order {
		if pause != nil && pause() {
			return &RunResult{Results: normalized, AllRequiredOK: allRequiredOK}, errs.New("component.Run", errs.KindCancelled, sessionID, context.Canceled)
		}
		if err := ctx.Err(); err != nil {
			return &RunResult{Results: normalized, AllRequiredOK: allRequiredOK}, err
		}

		def := byName[name]

		if resuming {
			if art, err := s.checkpoint.LoadArtifact(ctx, sessionID, name); err == nil && art != nil {
				var loaded normalize.ComponentResult
				if decodeErr := decodeInto(art.Payload, &loaded); decodeErr == nil {
					skipped := normalize.Skipped(name, loaded)
					normalized[name] = skipped
					results[name] = skipped
					if def.Required && !skipped.Success {
						allRequiredOK = false
					}
					s.publish(onProgress, sessionID, i+1, len(order), name, "skipped_from_checkpoint")
					continue
				}
			}
		}

		predecessorOutputs := make(map[string]interface{}, len(def.Dependencies))
		for _, dep := range def.Dependencies {
			predecessorOutputs[dep] = results[dep]
		}

		compStart := s.now()
		compCtx, cancel := context.WithTimeout(ctx, s.deadline)
		raw, execErr := s.invokeExecutor(compCtx, def, Input{
			SessionID:       sessionID,
			BaseContext:     baseContext,
			PreviousResults: predecessorOutputs,
		})
		cancel()

		var normResult normalize.ComponentResult
		if execErr != nil {
			normResult = normalize.FromError(name, execErr)
		} else {
			normResult = normalize.FromExecutor(name, raw)
			if def.Validator != nil && !def.Validator(normResult) {
				normResult = normalize.FromError(name, fmt.Errorf("validation_failed: component %q", name))
			}
		}

		status := "ok"
		cpStatus := storage.StatusOK
		if !normResult.Success {
			status = "error"
			cpStatus = storage.StatusError
			if def.Required {
				allRequiredOK = false
			}
		}

		if _, err := s.checkpoint.Append(ctx, sessionID, name, "complete_analysis", cpStatus, normResult); err != nil {
			return &RunResult{Results: normalized, AllRequiredOK: allRequiredOK}, err
		}

		telemetry.Histogram("scheduler.component.duration_ms", float64(s.now().Sub(compStart).Milliseconds()), "component", name, "status", status)
		telemetry.Counter("scheduler.component.results", "component", name, "status", status)

		normalized[name] = normResult
		results[name] = normResult
		s.publish(onProgress, sessionID, i+1, len(order), name, status)
	}

	return &RunResult{Results: normalized, AllRequiredOK: allRequiredOK}, nil
}

// invokeExecutor runs one component's executor and is the only place in
// the engine that recovers from an executor panic, converting it into
// the same server_error result a returned error would have produced so
// one bad step never takes its session's goroutine (and, unrecovered,
// the whole process) down with it.
func (s *Scheduler) invokeExecutor(ctx context.Context, def Definition, in Input) (raw interface{}, execErr error) {
	defer func() {
		if r := recover(); r != nil {
			execErr = errs.New("component.invokeExecutor", errs.KindServerError, def.Name, fmt.Errorf("panic: %v", r))
		}
	}()
	return def.Executor(ctx, in)
}

func (s *Scheduler) publish(onProgress func(ProgressEvent), sessionID string, step, total int, name, status string) {
	if onProgress == nil {
		return
	}
	onProgress(ProgressEvent{
		SessionID: sessionID,
		Step:      step,
		Total:     total,
		Component: name,
		Status:    status,
		Timestamp: s.now(),
	})
}

func decodeInto(payload json.RawMessage, dst *normalize.ComponentResult) error {
	return json.Unmarshal(payload, dst)
}

func toDefMap(defs []Definition) map[string]Definition {
	m := make(map[string]Definition, len(defs))
	for _, d := range defs {
		m[d.Name] = d
	}
	return m
}

// Broadcaster fans a single session's progress events out to any number
// of subscribers (the HTTP surface's polling handler among them),
// mirroring this codebase's async-task progress-tracking pattern.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string][]chan ProgressEvent
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string][]chan ProgressEvent)}
}

// Subscribe returns a buffered channel that receives every future
// progress event for sessionID.
func (b *Broadcaster) Subscribe(sessionID string) <-chan ProgressEvent {
	ch := make(chan ProgressEvent, 32)
	b.mu.Lock()
	b.subs[sessionID] = append(b.subs[sessionID], ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers an event to every subscriber of its session,
// dropping it for any subscriber whose buffer is full rather than
// blocking the scheduler.
func (b *Broadcaster) Publish(ev ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}
