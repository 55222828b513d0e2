// Package pipeline drives one job run through its shared setup and then
// through clone, install, build, test and report for every target in order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/catalog"
	"github.com/opengovern/componentci/pkg/verifier/config"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
	"github.com/opengovern/componentci/pkg/verifier/executor"
	"github.com/opengovern/componentci/pkg/verifier/gitops"
)

const EnvCoreDir = "VERIFIER_CORE_DIR"

type Event string

const (
	EventEnd   Event = "end"
	EventError Event = "error"
)

// Outcome is the single terminal signal of a pipeline. Job is the last known
// state of the job run and may be nil when it could not be loaded.
type Outcome struct {
	Event Event
	Job   *model.JobRun
	Err   error
}

var errJobTerminal = errors.New("job run is already terminal")

type Options struct {
	Store    Store
	Catalog  *catalog.Catalog
	FS       afero.Fs
	Repos    RepoFactory
	Commands Commands
	Executor Executor
	// Display is called once per job run; nil runs the harness without a display.
	Display  func() executor.Display
	Pipeline config.PipelineConfig
	Release  config.ReleaseConfig
	Logger   *zap.Logger
}

type Runner struct {
	opts      Options
	workspace *gitops.Workspace
	logger    *zap.Logger
	tracer    trace.Tracer
}

func NewRunner(opts Options) (*Runner, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case opts.Catalog == nil:
		return nil, errors.New("pipeline: catalog is required")
	case opts.Repos == nil:
		return nil, errors.New("pipeline: repo factory is required")
	case opts.Commands == nil:
		return nil, errors.New("pipeline: commands are required")
	case opts.Executor == nil:
		return nil, errors.New("pipeline: executor is required")
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Runner{
		opts:      opts,
		workspace: gitops.NewWorkspace(opts.FS, opts.Pipeline.WorkDirBase),
		logger:    opts.Logger.Named("pipeline"),
		tracer:    otel.GetTracerProvider().Tracer("verifier.pipeline"),
	}, nil
}

// Start runs the job asynchronously. The returned pipeline delivers exactly
// one Outcome on Done.
func (r *Runner) Start(ctx context.Context, jobID string) *Pipeline {
	var display executor.Display
	if r.opts.Display != nil {
		display = r.opts.Display()
	}

	p := &Pipeline{
		jobID:   jobID,
		runner:  r,
		logger:  r.logger.With(zap.String("jobID", jobID)),
		done:    make(chan Outcome, 1),
		session: executor.NewSession(display),
	}
	go p.run(ctx)
	return p
}

func (r *Runner) resolveTargets(job *model.JobRun) (api.JobKind, []api.Target, error) {
	kind, err := job.JobKind()
	if err != nil {
		return kind, nil, err
	}

	switch kind {
	case api.FullBuild:
		// full builds always test branch tips
		return kind, r.opts.Catalog.Targets(job.Branch, ""), nil
	case api.SingleComponent:
		if job.Component == "" {
			return kind, nil, fmt.Errorf("job %s has no component", job.ID)
		}
		comp, err := r.opts.Catalog.Get(job.Component)
		if err != nil {
			return kind, nil, err
		}
		return kind, []api.Target{comp.Target(job.Branch, job.Commit)}, nil
	default:
		return kind, nil, fmt.Errorf("unsupported job kind %s", kind)
	}
}

type Pipeline struct {
	jobID  string
	runner *Runner
	logger *zap.Logger

	aborted atomic.Bool
	done    chan Outcome

	kind    api.JobKind
	targets []api.Target
	coreDir string
	workdir *gitops.WorkingDirectory
	session *executor.Session

	cleanupOnce sync.Once
}

func (p *Pipeline) JobID() string {
	return p.jobID
}

func (p *Pipeline) Done() <-chan Outcome {
	return p.done
}

// Abort asks the pipeline to stop at the next stage boundary. Calls already
// in flight are not interrupted.
func (p *Pipeline) Abort() {
	if !p.aborted.Swap(true) {
		p.logger.Info("abort requested")
	}
}

func (p *Pipeline) Aborted() bool {
	return p.aborted.Load()
}

func (p *Pipeline) run(ctx context.Context) {
	start := time.Now()
	outcome := Outcome{Event: EventError}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline panicked: %v", r)
			p.logger.Error("pipeline panicked",
				zap.Any("panic", r),
				zap.String("stack", goerrors.Wrap(r, 2).ErrorStack()))
			p.failJob(ctx, err)
			outcome = Outcome{Event: EventError, Err: err}
		}

		p.cleanup()

		JobsCount.WithLabelValues(p.kind.String(), string(outcome.Event)).Inc()
		JobsDuration.WithLabelValues(p.kind.String(), string(outcome.Event)).Observe(time.Since(start).Seconds())

		p.done <- outcome
		close(p.done)
	}()

	outcome = p.execute(ctx)
}

func (p *Pipeline) execute(ctx context.Context) Outcome {
	ctx, span := p.runner.tracer.Start(ctx, "job", trace.WithAttributes(attribute.String("job.id", p.jobID)))
	defer span.End()

	job, err := p.prepare(ctx)
	switch {
	case errors.Is(err, errAborted):
		p.logger.Info("job aborted during setup")
		return Outcome{Event: EventEnd, Job: job}
	case errors.Is(err, errJobTerminal):
		return Outcome{Event: EventEnd, Job: job}
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("job setup failed", zap.Error(err))
		p.failJob(ctx, err)
		return Outcome{Event: EventError, Job: job, Err: err}
	}

	for p.advance(ctx) {
	}

	if p.Aborted() {
		p.logger.Info("job aborted", zap.Int("skippedTargets", len(p.targets)))
		return Outcome{Event: EventEnd, Job: job}
	}

	finished, err := p.runner.opts.Store.FinishJob(ctx, p.jobID)
	if err != nil {
		err = stageError(KindStoreWrite, "finish", "", err)
		p.logger.Error("failed to finish job", zap.Error(err))
		return Outcome{Event: EventEnd, Job: job, Err: err}
	}

	p.logger.Info("job finished",
		zap.Int("targets", finished.TargetCount),
		zap.Int("passed", finished.Passed),
		zap.Int("failed", finished.Failed))
	return Outcome{Event: EventEnd, Job: finished}
}

// prepare runs the shared stage. Any error it returns fails the whole job.
func (p *Pipeline) prepare(ctx context.Context) (*model.JobRun, error) {
	store := p.runner.opts.Store

	var job *model.JobRun
	err := p.stage(ctx, "load", func(ctx context.Context) error {
		var err error
		job, err = store.GetJobRun(ctx, p.jobID)
		return stageError(KindStoreRead, "load", "", err)
	})
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		p.logger.Warn("job already completed, skipping", zap.String("status", string(job.Status)))
		return job, errJobTerminal
	}

	err = p.stage(ctx, "resolve", func(ctx context.Context) error {
		kind, targets, err := p.runner.resolveTargets(job)
		p.kind = kind
		p.targets = targets
		return stageError(KindScope, "resolve", "", err)
	})
	if err != nil {
		return job, err
	}

	err = p.stage(ctx, "workdir", func(ctx context.Context) error {
		wd, err := p.runner.workspace.Create(p.jobID)
		p.workdir = wd
		return stageError(KindIO, "workdir", "", err)
	})
	if err != nil {
		return job, err
	}

	err = p.stage(ctx, "start", func(ctx context.Context) error {
		names := make([]string, 0, len(p.targets))
		for _, t := range p.targets {
			names = append(names, t.Name)
		}
		return stageError(KindStoreWrite, "start", "", store.SetJobRunning(ctx, p.jobID, names))
	})
	if err != nil {
		return job, err
	}

	p.logger.Info("job running", zap.String("kind", p.kind.String()), zap.Int("targets", len(p.targets)))

	core := p.runner.opts.Pipeline.Core
	if core.RemoteURL == "" {
		return job, nil
	}
	name := core.Name
	if name == "" {
		name = "core"
	}
	target := api.Target{Name: name, RemoteURL: core.RemoteURL, Branch: job.Branch}
	dir := p.workdir.TargetPath("_shared-" + name)
	if _, err := p.checkout(ctx, target, dir); err != nil {
		return job, err
	}
	p.coreDir = dir
	return job, nil
}

// advance processes the next target. It returns false once the list is
// exhausted or the pipeline was aborted.
func (p *Pipeline) advance(ctx context.Context) bool {
	if len(p.targets) == 0 || p.Aborted() {
		return false
	}
	target := p.targets[0]
	p.targets = p.targets[1:]
	p.processTarget(ctx, target)
	return true
}

func (p *Pipeline) processTarget(ctx context.Context, target api.Target) {
	ctx, span := p.runner.tracer.Start(ctx, "target", trace.WithAttributes(
		attribute.String("job.id", p.jobID),
		attribute.String("target", target.Name),
	))
	defer span.End()

	store := p.runner.opts.Store
	logger := p.logger.With(zap.String("target", target.Name))

	err := p.stage(ctx, "create-result", func(ctx context.Context) error {
		return stageError(KindStoreWrite, "create-result", target.Name, store.CreateTargetResult(ctx, p.jobID, target.Name))
	})
	if errors.Is(err, errAborted) {
		return
	}
	if err != nil {
		span.RecordError(err)
		p.recordFailure(ctx, logger, target, err)
		return
	}

	dir := p.workdir.TargetPath(target.Name)
	var report *api.Report
	repo, err := p.checkout(ctx, target, dir)
	if err == nil {
		err = p.stage(ctx, "test", func(ctx context.Context) error {
			var err error
			report, err = p.runner.opts.Executor.Execute(ctx, p.session, target, dir)
			return stageError(KindTestExecution, "test", target.Name, err)
		})
	}
	if err == nil {
		err = p.stage(ctx, "report", func(ctx context.Context) error {
			return stageError(KindStoreWrite, "report", target.Name, store.UpdateTargetResult(ctx, p.jobID, target.Name, report))
		})
	}
	if err == nil && report.Passing && p.shouldPublish() {
		err = p.stage(ctx, "publish", func(ctx context.Context) error {
			return p.publish(ctx, logger, repo, target, dir)
		})
	}

	if errors.Is(err, errAborted) {
		logger.Info("target abandoned after abort")
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.recordFailure(ctx, logger, target, err)
		return
	}
	if p.Aborted() {
		return
	}

	delta := api.CounterDelta{Passed: 1}
	status := api.TargetResultStatusPassed
	if !report.Passing {
		delta = api.CounterDelta{Failed: 1}
		status = api.TargetResultStatusFailed
	}
	if err := store.IncrementJobCounters(ctx, p.jobID, delta); err != nil {
		logger.Error("failed to increment job counters", zap.Error(err))
	}
	TargetsCount.WithLabelValues(string(status)).Inc()

	logger.Info("target done",
		zap.String("status", string(status)),
		zap.Int("passed", report.PassedTotal),
		zap.Int("failed", report.FailedTotal),
		zap.Int("retries", report.RetryCount))
}

// checkout clones target into dir, installs its dependencies and generates
// its artifacts.
func (p *Pipeline) checkout(ctx context.Context, target api.Target, dir string) (Repo, error) {
	cfg := p.runner.opts.Pipeline
	cmds := p.runner.opts.Commands
	repo := p.runner.opts.Repos(dir)

	err := p.stage(ctx, "clone", func(ctx context.Context) error {
		if err := repo.Clone(ctx, target.RemoteURL, target.Branch); err != nil {
			return stageError(KindGit, "clone", target.Name, err)
		}
		if target.Commit != "" {
			if _, err := repo.ResetTo(target.Commit); err != nil {
				return stageError(KindGit, "clone", target.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, "install", func(ctx context.Context) error {
		return stageError(KindDependencyInstall, "install", target.Name, cmds.Run(ctx, dir, cfg.InstallCommand, p.env()...))
	})
	if err != nil {
		return nil, err
	}

	err = p.stage(ctx, "generate", func(ctx context.Context) error {
		return stageError(KindArtifactGeneration, "generate", target.Name, cmds.Run(ctx, dir, cfg.BuildCommand, p.env()...))
	})
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func (p *Pipeline) env() []string {
	if p.coreDir == "" {
		return nil
	}
	return []string{EnvCoreDir + "=" + p.coreDir}
}

func (p *Pipeline) shouldPublish() bool {
	switch p.kind {
	case api.FullBuild:
		return p.runner.opts.Release.Enabled
	case api.SingleComponent:
		return false
	default:
		return false
	}
}

// stage runs fn as a traced, timed stage unless the pipeline was aborted.
func (p *Pipeline) stage(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if p.Aborted() {
		return errAborted
	}

	ctx, span := p.runner.tracer.Start(ctx, name)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	status := "success"
	if err != nil {
		status = "failure"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	StageDuration.WithLabelValues(name, status).Observe(time.Since(start).Seconds())
	return err
}

func (p *Pipeline) recordFailure(ctx context.Context, logger *zap.Logger, target api.Target, err error) {
	logger.Warn("target failed", zap.Error(err))
	TargetsCount.WithLabelValues(string(api.TargetResultStatusFailed)).Inc()
	if p.Aborted() {
		return
	}

	store := p.runner.opts.Store
	if uerr := store.UpdateTargetError(ctx, p.jobID, target.Name, err.Error()); uerr != nil {
		logger.Error("failed to record target error", zap.Error(uerr))
	}
	if uerr := store.IncrementJobCounters(ctx, p.jobID, api.CounterDelta{Failed: 1}); uerr != nil {
		logger.Error("failed to increment failed counter", zap.Error(uerr))
	}
}

func (p *Pipeline) failJob(ctx context.Context, err error) {
	if p.Aborted() {
		return
	}
	if serr := p.runner.opts.Store.SetJobError(ctx, p.jobID, err.Error()); serr != nil {
		p.logger.Error("failed to mark job errored", zap.Error(serr))
	}
}

// cleanup releases the display and removes the working directory, once.
func (p *Pipeline) cleanup() {
	p.cleanupOnce.Do(func() {
		if err := p.session.Release(); err != nil {
			p.logger.Warn("failed to release display", zap.Error(err))
		}
		if p.workdir == nil {
			return
		}
		if err := p.workdir.Cleanup(); err != nil {
			p.logger.Warn("failed to remove working directory", zap.String("path", p.workdir.Path()), zap.Error(err))
		}
	})
}
