// Package engine implements the Orchestrator Facade: the single entry
// point request handlers use to submit jobs and
// fetch reports. Its only job beyond delegating to the Session Manager
// and Component Scheduler is assembling the final report, mirroring
// this codebase's facade-over-orchestrator pattern of keeping the
// externally visible surface thin while the real engineering lives one
// layer down.
package engine

import (
	"context"
	"time"

	"github.com/marketlens/engine/component"
	"github.com/marketlens/engine/errs"
	"github.com/marketlens/engine/normalize"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/session"
)

// ReportState tells the caller whether a report is ready, still being
// assembled, or the session never existed.
type ReportState string

const (
	ReportReady    ReportState = "ready"
	ReportPending  ReportState = "pending"
	ReportNotFound ReportState = "not_found"
)

// Report is the consolidated output of one analysis session.
type Report struct {
	SessionID             string                               `json:"session_id"`
	Success               bool                                 `json:"success"`
	ProcessingTime        time.Duration                        `json:"processing_time"`
	Components            map[string]normalize.ComponentResult `json:"components"`
	FailedRequired         []string                            `json:"failed_required,omitempty"`
	ProviderStatusSnapshot map[providerreg.Class][]providerreg.Snapshot `json:"provider_status_snapshot"`
	ComponentSuccessRate   float64                             `json:"component_success_rate"`
	SyncStatus             string                              `json:"sync_status"`
	Error                  string                               `json:"error,omitempty"`
}

// Facade is the engine's single entry point.
type Facade struct {
	sessions  *session.Manager
	providers *providerreg.Registry
	registry  *component.Registry
	classes   []providerreg.Class
}

// New constructs a Facade. classes lists every provider class whose
// snapshot should appear in assembled reports.
func New(sessions *session.Manager, providers *providerreg.Registry, registry *component.Registry, classes ...providerreg.Class) *Facade {
	return &Facade{sessions: sessions, providers: providers, registry: registry, classes: classes}
}

// Submit begins an analysis session asynchronously and returns its ID
// immediately.
func (f *Facade) Submit(ctx context.Context, input map[string]interface{}) (string, error) {
	return f.sessions.Start(ctx, input)
}

// RunSynchronously submits a job and blocks until it reaches a terminal
// state, returning the assembled report. Intended for tests and
// low-volume synchronous callers; production callers should prefer
// Submit + polling via GetReport.
func (f *Facade) RunSynchronously(ctx context.Context, input map[string]interface{}) (*Report, error) {
	sessionID, err := f.Submit(ctx, input)
	if err != nil {
		return nil, err
	}

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-poll.C:
			report, state, err := f.GetReport(ctx, sessionID)
			if err != nil {
				return nil, err
			}
			if state == ReportReady {
				return report, nil
			}
		}
	}
}

// GetReport assembles and returns the current report for a session.
// Pending sessions return a partial report (whatever components have
// completed so far) alongside ReportPending.
func (f *Facade) GetReport(ctx context.Context, sessionID string) (*Report, ReportState, error) {
	snap, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		if errs.KindOf(err) == errs.KindValidationFailed {
			return nil, ReportNotFound, nil
		}
		return nil, ReportNotFound, err
	}

	results, err := f.sessions.Results(ctx, sessionID)
	if err != nil {
		return nil, ReportNotFound, err
	}

	report := &Report{
		SessionID:              sessionID,
		Components:             results,
		FailedRequired:         f.failedRequired(results),
		ProviderStatusSnapshot: f.snapshotProviders(),
		SyncStatus:             string(snap.Status),
	}

	if !snap.CompletedAt.IsZero() {
		report.ProcessingTime = snap.CompletedAt.Sub(snap.StartedAt)
	} else {
		report.ProcessingTime = time.Since(snap.StartedAt)
	}

	total := len(results)
	successful := 0
	for _, r := range results {
		if r.Success {
			successful++
		}
	}
	if total > 0 {
		report.ComponentSuccessRate = float64(successful) / float64(total)
	}

	switch snap.Status {
	case session.StatusCompleted:
		report.Success = true
		return report, ReportReady, nil
	case session.StatusFailed:
		report.Success = false
		report.Error = snap.Error
		return report, ReportReady, nil
	case session.StatusCancelled:
		report.Success = false
		report.Error = "session cancelled"
		return report, ReportReady, nil
	default:
		return report, ReportPending, nil
	}
}

// failedRequired lists the name of every required component whose
// result has been recorded and did not succeed, in catalog order.
func (f *Facade) failedRequired(results map[string]normalize.ComponentResult) []string {
	if f.registry == nil {
		return nil
	}
	var out []string
	for _, def := range f.registry.Definitions() {
		if !def.Required {
			continue
		}
		if r, ok := results[def.Name]; ok && !r.Success {
			out = append(out, def.Name)
		}
	}
	return out
}

func (f *Facade) snapshotProviders() map[providerreg.Class][]providerreg.Snapshot {
	out := make(map[providerreg.Class][]providerreg.Snapshot, len(f.classes))
	for _, class := range f.classes {
		out[class] = f.providers.Snapshot(class)
	}
	return out
}
