package engine

import (
	"context"
	"testing"

	"github.com/marketlens/engine/component"
	"github.com/marketlens/engine/providerreg"
	"github.com/marketlens/engine/session"
	"github.com/marketlens/engine/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFacade(t *testing.T, reg *component.Registry) *Facade {
	t.Helper()
	p, err := storage.NewFilesystemProvider(t.TempDir())
	require.NoError(t, err)
	cp := storage.NewCheckpointStore(p)
	sched := component.NewScheduler(reg, cp)
	sessions := session.New(cp, sched, component.NewBroadcaster())

	providers := providerreg.NewRegistry(nil)
	providers.Register(providerreg.Entry{Name: "search.a", Class: providerreg.ClassSearch, Priority: 0})

	return New(sessions, providers, reg, providerreg.ClassSearch, providerreg.ClassLLM)
}

func TestFacade_RunSynchronously_Success(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(component.Definition{
		Name:     "web_search",
		Executor: func(ctx context.Context, in component.Input) (interface{}, error) { return []string{"a", "b"}, nil },
		Required: true,
	}))
	f := newTestFacade(t, reg)

	report, err := f.RunSynchronously(context.Background(), map[string]interface{}{"segment": "b2b"})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 1.0, report.ComponentSuccessRate)
	assert.Contains(t, report.ProviderStatusSnapshot, providerreg.ClassSearch)
	assert.Equal(t, "completed", report.SyncStatus)
}

func TestFacade_RunSynchronously_FailedRequiredListsFailingComponents(t *testing.T) {
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(component.Definition{
		Name:     "web_search",
		Executor: func(ctx context.Context, in component.Input) (interface{}, error) { return []string{"a"}, nil },
		Required: true,
	}))
	require.NoError(t, reg.Register(component.Definition{
		Name:         "drivers",
		Dependencies: []string{"web_search"},
		Executor:     func(ctx context.Context, in component.Input) (interface{}, error) { return nil, assertErr("provider unavailable") },
		Required:     true,
	}))
	require.NoError(t, reg.Register(component.Definition{
		Name:         "positioning",
		Dependencies: []string{"web_search"},
		Executor:     func(ctx context.Context, in component.Input) (interface{}, error) { return nil, assertErr("provider unavailable") },
		Required:     false,
	}))
	f := newTestFacade(t, reg)

	report, err := f.RunSynchronously(context.Background(), map[string]interface{}{"segment": "b2b"})
	require.NoError(t, err)
	assert.False(t, report.Success)
	assert.Equal(t, []string{"drivers"}, report.FailedRequired)
}

type assertErrType string

func (e assertErrType) Error() string { return string(e) }

func assertErr(msg string) error { return assertErrType(msg) }

func TestFacade_GetReport_NotFound(t *testing.T) {
	f := newTestFacade(t, component.NewRegistry())
	_, state, err := f.GetReport(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, ReportNotFound, state)
}
