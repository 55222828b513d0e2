package verifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
	"github.com/opengovern/componentci/pkg/verifier/dispatch"
)

type fakeRouter struct {
	runs    []string
	removes []string
	present map[string]bool
}

func (r *fakeRouter) RouteRun(id string) { r.runs = append(r.runs, id) }

func (r *fakeRouter) Remove(id string) bool {
	r.removes = append(r.removes, id)
	return r.present[id]
}

func TestHandleMessageRoutesActions(t *testing.T) {
	router := &fakeRouter{present: map[string]bool{"job-3": true}}
	logger := zap.NewNop()

	handleMessage(logger, router, []byte(`{"action":"runTest","id":"job-1"}`))
	handleMessage(logger, router, []byte(`{"action":"processBuild","id":"job-2"}`))
	handleMessage(logger, router, []byte(`{"action":"removeTest","id":"job-3"}`))
	handleMessage(logger, router, []byte(`{"action":"remove-build","id":"job-4"}`))

	assert.Equal(t, []string{"job-1", "job-2"}, router.runs)
	assert.Equal(t, []string{"job-3", "job-4"}, router.removes)
}

func TestHandleMessageDropsBadPayloads(t *testing.T) {
	router := &fakeRouter{}
	logger := zap.NewNop()

	for _, payload := range []string{
		`not json`,
		`{"action":"deploy","id":"job-1"}`,
		`{"action":"runTest"}`,
		`{}`,
	} {
		handleMessage(logger, router, []byte(payload))
	}

	assert.Empty(t, router.runs)
	assert.Empty(t, router.removes)
}

type fakeJobs struct {
	jobs    map[string]*model.JobRun
	results map[string][]model.TargetResult
	listErr error
	limits  []int
}

func (f *fakeJobs) GetJobRun(_ context.Context, jobID string) (*model.JobRun, error) {
	j, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", db.ErrJobNotFound, jobID)
	}
	return j, nil
}

func (f *fakeJobs) ListJobRuns(_ context.Context, limit int) ([]model.JobRun, error) {
	f.limits = append(f.limits, limit)
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []model.JobRun
	for _, j := range f.jobs {
		if len(res) == limit {
			break
		}
		res = append(res, *j)
	}
	return res, nil
}

func (f *fakeJobs) ListTargetResults(_ context.Context, jobID string) ([]model.TargetResult, error) {
	return f.results[jobID], nil
}

type fixedSnapshot dispatch.Snapshot

func (s fixedSnapshot) Snapshot() dispatch.Snapshot { return dispatch.Snapshot(s) }

func serve(t *testing.T, h *HttpHandler, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	h.Register(e)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetQueue(t *testing.T) {
	started := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	h := NewHttpHandler(&fakeJobs{}, fixedSnapshot{
		Running: &dispatch.RunningJob{JobID: "job-1", StartedAt: started},
		Queued:  []dispatch.QueuedJob{{JobID: "job-2"}},
	}, zap.NewNop())

	rec := serve(t, h, "/api/v1/queue")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap dispatch.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.NotNil(t, snap.Running)
	assert.Equal(t, "job-1", snap.Running.JobID)
	require.Len(t, snap.Queued, 1)
	assert.Equal(t, "job-2", snap.Queued[0].JobID)
}

func TestHealthz(t *testing.T) {
	h := NewHttpHandler(&fakeJobs{}, fixedSnapshot{}, zap.NewNop())
	assert.Equal(t, http.StatusOK, serve(t, h, "/healthz").Code)
}

func TestGetJob(t *testing.T) {
	log, err := model.NewBrowserLog(1, api.EngineResult{
		Engine: "chrome",
		Status: api.EngineStatusFailed,
		Failed: 1,
		Logs:   []api.LogLine{{Status: api.LogStatusFailed, Title: "click"}},
	})
	require.NoError(t, err)

	jobs := &fakeJobs{
		jobs: map[string]*model.JobRun{
			"job-1": {
				ID:          "job-1",
				Kind:        api.FullBuild.String(),
				Status:      api.JobRunStatusFinished,
				TargetCount: 1,
				Failed:      1,
				Targets:     datatypes.JSON(`["widget-a"]`),
			},
		},
		results: map[string][]model.TargetResult{
			"job-1": {{
				Target:      "widget-a",
				Status:      api.TargetResultStatusFailed,
				FailedCount: 1,
				HasLogs:     true,
				BrowserLogs: []model.BrowserLog{log},
			}},
		},
	}
	h := NewHttpHandler(jobs, fixedSnapshot{}, zap.NewNop())

	rec := serve(t, h, "/api/v1/jobs/job-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var details api.JobRunDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &details))
	assert.Equal(t, "job-1", details.ID)
	assert.Equal(t, api.JobRunStatusFinished, details.Status)
	assert.Equal(t, []string{"widget-a"}, details.Targets)
	require.Len(t, details.Results, 1)
	assert.Equal(t, api.TargetResultStatusFailed, details.Results[0].Status)
	require.Len(t, details.Results[0].Engines, 1)
	assert.Equal(t, "click", details.Results[0].Engines[0].Logs[0].Title)
}

func TestGetJobNotFound(t *testing.T) {
	h := NewHttpHandler(&fakeJobs{}, fixedSnapshot{}, zap.NewNop())
	assert.Equal(t, http.StatusNotFound, serve(t, h, "/api/v1/jobs/missing").Code)
}

func TestListJobsValidatesLimit(t *testing.T) {
	jobs := &fakeJobs{jobs: map[string]*model.JobRun{
		"job-1": {ID: "job-1", Kind: api.FullBuild.String(), Status: api.JobRunStatusQueued},
	}}
	h := NewHttpHandler(jobs, fixedSnapshot{}, zap.NewNop())

	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/jobs?limit=zero").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, h, "/api/v1/jobs?limit=-1").Code)

	rec := serve(t, h, "/api/v1/jobs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []api.JobRun
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].ID)
}

func TestListJobsClampsLimit(t *testing.T) {
	jobs := &fakeJobs{}
	h := NewHttpHandler(jobs, fixedSnapshot{}, zap.NewNop())

	require.Equal(t, http.StatusOK, serve(t, h, "/api/v1/jobs").Code)
	require.Equal(t, http.StatusOK, serve(t, h, "/api/v1/jobs?limit=100000000").Code)
	require.Equal(t, http.StatusOK, serve(t, h, "/api/v1/jobs?limit=7").Code)
	assert.Equal(t, []int{20, maxJobsLimit, 7}, jobs.limits)
}

func TestListJobsStoreFailure(t *testing.T) {
	h := NewHttpHandler(&fakeJobs{listErr: fmt.Errorf("down")}, fixedSnapshot{}, zap.NewNop())
	assert.Equal(t, http.StatusInternalServerError, serve(t, h, "/api/v1/jobs").Code)
}
