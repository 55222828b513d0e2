package verifier

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
	"github.com/opengovern/componentci/pkg/verifier/dispatch"
)

type jobReader interface {
	GetJobRun(ctx context.Context, jobID string) (*model.JobRun, error)
	ListJobRuns(ctx context.Context, limit int) ([]model.JobRun, error)
	ListTargetResults(ctx context.Context, jobID string) ([]model.TargetResult, error)
}

type queueSnapshotter interface {
	Snapshot() dispatch.Snapshot
}

type HttpHandler struct {
	jobs   jobReader
	queue  queueSnapshotter
	logger *zap.Logger
}

func NewHttpHandler(jobs jobReader, queue queueSnapshotter, logger *zap.Logger) *HttpHandler {
	return &HttpHandler{jobs: jobs, queue: queue, logger: logger.Named("http")}
}

func (h *HttpHandler) Register(e *echo.Echo) {
	e.GET("/healthz", h.Healthz)

	v1 := e.Group("/api/v1")
	v1.GET("/queue", h.GetQueue)
	v1.GET("/jobs", h.ListJobs)
	v1.GET("/jobs/:jobId", h.GetJob)
}

func (h *HttpHandler) Healthz(ctx echo.Context) error {
	return ctx.NoContent(http.StatusOK)
}

// GetQueue returns the running job and the queued ones in dispatch order.
func (h *HttpHandler) GetQueue(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, h.queue.Snapshot())
}

const maxJobsLimit = 200

func (h *HttpHandler) ListJobs(ctx echo.Context) error {
	limit := 20
	if s := ctx.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive number")
		}
		limit = min(n, maxJobsLimit)
	}

	jobs, err := h.jobs.ListJobRuns(ctx.Request().Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list jobs")
	}

	res := make([]api.JobRun, 0, len(jobs))
	for _, j := range jobs {
		view, err := j.ToApi()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		res = append(res, view)
	}
	return ctx.JSON(http.StatusOK, res)
}

func (h *HttpHandler) GetJob(ctx echo.Context) error {
	jobID := ctx.Param("jobId")

	job, err := h.jobs.GetJobRun(ctx.Request().Context(), jobID)
	if errors.Is(err, db.ErrJobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "job not found")
	}
	if err != nil {
		h.logger.Error("failed to get job", zap.String("jobID", jobID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get job")
	}
	view, err := job.ToApi()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	results, err := h.jobs.ListTargetResults(ctx.Request().Context(), jobID)
	if err != nil {
		h.logger.Error("failed to list target results", zap.String("jobID", jobID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list target results")
	}

	res := api.JobRunDetails{JobRun: view, Results: make([]api.TargetResult, 0, len(results))}
	for _, r := range results {
		rv, err := r.ToApi()
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		res.Results = append(res.Results, rv)
	}
	return ctx.JSON(http.StatusOK, res)
}
