package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/api"
)

type scriptedRunner struct {
	outputs []*RunOutput
	err     error
	calls   int
	last    RunRequest
}

func (r *scriptedRunner) Run(_ context.Context, req RunRequest) (*RunOutput, error) {
	r.calls++
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	idx := r.calls - 1
	if idx >= len(r.outputs) {
		idx = len(r.outputs) - 1
	}
	return r.outputs[idx], nil
}

type countingDisplay struct {
	starts, stops int
	err           error
}

func (d *countingDisplay) Start(context.Context) (string, error) {
	d.starts++
	return ":42", d.err
}

func (d *countingDisplay) Stop() error {
	d.stops++
	return nil
}

func lines(statuses ...api.LogStatus) []api.LogLine {
	out := make([]api.LogLine, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, api.LogLine{Status: s, Title: string(s)})
	}
	return out
}

var widget = api.Target{Name: "widget-x", RemoteURL: "https://git.example.com/widget-x.git", Branch: "main"}

func newAdapter(r Runner) *Adapter {
	a := NewAdapter(r, []string{"Chrome", "firefox", "chrome"}, zap.NewNop())
	a.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a
}

func TestExecuteAggregatesEngines(t *testing.T) {
	runner := &scriptedRunner{outputs: []*RunOutput{{
		Engines: []EngineOutput{
			{Engine: "chrome", Logs: lines(api.LogStatusPassed, api.LogStatusPassed, api.LogStatusInfo)},
			{Engine: "firefox", Logs: lines(api.LogStatusPassed, api.LogStatusFailed)},
		},
	}}}

	report, err := newAdapter(runner).Execute(context.Background(), nil, widget, "/work/widget-x")
	require.NoError(t, err)

	assert.Equal(t, 1, runner.calls)
	assert.Equal(t, 0, report.RetryCount)
	assert.False(t, report.Passing)
	assert.Equal(t, 3, report.PassedTotal)
	assert.Equal(t, 1, report.FailedTotal)
	require.Len(t, report.Engines, 2)
	assert.Equal(t, api.EngineStatusPassed, report.Engines[0].Status)
	assert.Equal(t, api.EngineStatusFailed, report.Engines[1].Status)
	assert.Equal(t, []string{"chrome", "firefox"}, runner.last.Engines)
	assert.Equal(t, "/work/widget-x", runner.last.Dir)
	assert.True(t, report.HasLogs())
}

func TestExecuteRetriesEmptyResultOnce(t *testing.T) {
	runner := &scriptedRunner{outputs: []*RunOutput{
		{},
		{Engines: []EngineOutput{{Engine: "chrome", Logs: lines(api.LogStatusPassed)}}},
	}}

	report, err := newAdapter(runner).Execute(context.Background(), nil, widget, "/work")
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 1, report.RetryCount)
	assert.True(t, report.Passing)
	assert.Equal(t, api.EngineStatusSkipped, report.Engines[1].Status)
}

func TestExecuteNeverRetriesTwice(t *testing.T) {
	runner := &scriptedRunner{outputs: []*RunOutput{{}, {}, {}, {}}}

	report, err := newAdapter(runner).Execute(context.Background(), nil, widget, "/work")
	require.NoError(t, err)
	assert.Equal(t, 2, runner.calls)
	assert.Equal(t, 1, report.RetryCount)
	assert.True(t, report.Passing)
	assert.False(t, report.HasLogs())
	for _, e := range report.Engines {
		assert.Equal(t, api.EngineStatusSkipped, e.Status)
	}
}

func TestExecuteDoesNotRetryErrors(t *testing.T) {
	runner := &scriptedRunner{err: errors.New("harness crashed")}

	_, err := newAdapter(runner).Execute(context.Background(), nil, widget, "/work")
	assert.Error(t, err)
	assert.Equal(t, 1, runner.calls)
}

func TestEngineErrorFailsEngine(t *testing.T) {
	runner := &scriptedRunner{outputs: []*RunOutput{{
		Engines: []EngineOutput{
			{Engine: "chrome", Logs: lines(api.LogStatusPassed)},
			{Engine: "firefox", Error: "browser failed to launch"},
		},
	}}}

	report, err := newAdapter(runner).Execute(context.Background(), nil, widget, "/work")
	require.NoError(t, err)
	assert.Equal(t, 1, runner.calls)
	assert.False(t, report.Passing)
	assert.Equal(t, "browser failed to launch", report.Engines[1].ErrorMessage)
}

func TestUntrackedEnginesFollowHarness(t *testing.T) {
	runner := &scriptedRunner{outputs: []*RunOutput{{
		Engines: []EngineOutput{{Engine: "WebKit", Logs: lines(api.LogStatusPassed)}},
	}}}
	a := NewAdapter(runner, nil, zap.NewNop())

	report, err := a.Execute(context.Background(), nil, widget, "/work")
	require.NoError(t, err)
	require.Len(t, report.Engines, 1)
	assert.Equal(t, "webkit", report.Engines[0].Engine)
}

func TestSessionStartsDisplayOnce(t *testing.T) {
	display := &countingDisplay{}
	session := NewSession(display)
	runner := &scriptedRunner{outputs: []*RunOutput{{
		Engines: []EngineOutput{{Engine: "chrome", Logs: lines(api.LogStatusPassed)}},
	}}}
	a := newAdapter(runner)

	for i := 0; i < 3; i++ {
		_, err := a.Execute(context.Background(), session, widget, "/work")
		require.NoError(t, err)
	}
	assert.Equal(t, ":42", runner.last.Display)
	assert.Equal(t, 1, display.starts)

	require.NoError(t, session.Release())
	require.NoError(t, session.Release())
	assert.Equal(t, 1, display.stops)

	_, err := session.Acquire(context.Background())
	assert.Error(t, err)
}

func TestSessionReleaseWithoutUse(t *testing.T) {
	display := &countingDisplay{}
	session := NewSession(display)
	require.NoError(t, session.Release())
	assert.Equal(t, 0, display.starts)
	assert.Equal(t, 0, display.stops)
}

func TestSessionDisplayFailure(t *testing.T) {
	display := &countingDisplay{err: errors.New("no X")}
	runner := &scriptedRunner{outputs: []*RunOutput{{}}}

	_, err := newAdapter(runner).Execute(context.Background(), NewSession(display), widget, "/work")
	assert.Error(t, err)
	assert.Equal(t, 0, runner.calls)
}
