// Package dispatch runs queued jobs one at a time, in arrival order.
package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/pipeline"
)

// Handle is a started job.
type Handle interface {
	Done() <-chan pipeline.Outcome
	Abort()
}

type Starter interface {
	Start(ctx context.Context, jobID string) Handle
}

// StarterFunc adapts a function to Starter.
type StarterFunc func(ctx context.Context, jobID string) Handle

func (f StarterFunc) Start(ctx context.Context, jobID string) Handle {
	return f(ctx, jobID)
}

// PipelineStarter starts jobs on a pipeline runner.
func PipelineStarter(r *pipeline.Runner) Starter {
	return StarterFunc(func(ctx context.Context, jobID string) Handle {
		return r.Start(ctx, jobID)
	})
}

type entry struct {
	jobID      string
	enqueuedAt time.Time
	startedAt  time.Time
	handle     Handle
	abort      bool
}

type Queue struct {
	ctx     context.Context
	cancel  context.CancelFunc
	starter Starter
	logger  *zap.Logger
	// onTerminal is called after a job left the queue.
	onTerminal func(jobID string, outcome pipeline.Outcome)

	// killGrace bounds the wait for a job after its context was cancelled
	// on shutdown.
	killGrace time.Duration

	mu        sync.Mutex
	entries   []*entry
	isRunning bool
	closed    bool
	idle      chan struct{}
	idleOnce  sync.Once
}

// New returns a queue whose jobs run under ctx. Jobs are only cancelled
// through Shutdown, so callers usually pass a context that outlives the
// process signal context.
func New(ctx context.Context, starter Starter, logger *zap.Logger) *Queue {
	ctx, cancel := context.WithCancel(ctx)
	return &Queue{
		ctx:       ctx,
		cancel:    cancel,
		starter:   starter,
		logger:    logger.Named("dispatch"),
		killGrace: 10 * time.Second,
		idle:      make(chan struct{}),
	}
}

// OnTerminal registers fn to run after every job terminal signal.
func (q *Queue) OnTerminal(fn func(jobID string, outcome pipeline.Outcome)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onTerminal = fn
}

// Enqueue appends a job and starts it when the queue is idle.
func (q *Queue) Enqueue(jobID string) {
	q.push(jobID)
	q.run()
}

// RouteRun appends requestID in arrival order and starts the head in the
// background, so the caller never waits on Start.
func (q *Queue) RouteRun(requestID string) {
	q.push(requestID)
	go q.run()
}

func (q *Queue) push(jobID string) {
	q.mu.Lock()
	q.entries = append(q.entries, &entry{jobID: jobID, enqueuedAt: time.Now()})
	depth := len(q.entries)
	q.mu.Unlock()

	q.logger.Info("job enqueued", zap.String("jobID", jobID), zap.Int("depth", depth))
}

func (q *Queue) run() {
	q.mu.Lock()
	if q.closed || q.isRunning || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	q.isRunning = true
	head := q.entries[0]
	head.startedAt = time.Now()
	q.mu.Unlock()

	q.logger.Info("starting job", zap.String("jobID", head.jobID))
	handle := q.starter.Start(q.ctx, head.jobID)

	q.mu.Lock()
	head.handle = handle
	abort := head.abort
	q.mu.Unlock()

	if abort {
		handle.Abort()
	}
	go q.watch(head, handle)
}

func (q *Queue) watch(e *entry, handle Handle) {
	outcome, ok := <-handle.Done()
	if !ok {
		outcome = pipeline.Outcome{Event: pipeline.EventEnd}
	}
	q.finish(e, outcome)
}

func (q *Queue) finish(e *entry, outcome pipeline.Outcome) {
	q.mu.Lock()
	removed := false
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			removed = true
			break
		}
	}
	q.isRunning = false
	hook := q.onTerminal
	if q.closed {
		q.idleOnce.Do(func() { close(q.idle) })
	}
	q.mu.Unlock()

	fields := []zap.Field{
		zap.String("jobID", e.jobID),
		zap.String("event", string(outcome.Event)),
		zap.Duration("took", time.Since(e.startedAt)),
	}
	if !removed {
		q.logger.Warn("finished job was not in the queue", fields...)
	}
	if outcome.Err != nil {
		fields = append(fields, zap.Error(outcome.Err))
	}
	if outcome.Event == pipeline.EventError {
		q.logger.Error("job errored", fields...)
	} else {
		q.logger.Info("job ended", fields...)
	}

	if hook != nil {
		hook(e.jobID, outcome)
	}
	q.run()
}

// Remove drops every queued, not yet started entry of jobID and aborts it
// when it is the running job. It reports whether anything was affected.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	var running Handle
	affected := false
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		switch {
		case e.jobID != jobID:
			kept = append(kept, e)
		case !e.startedAt.IsZero():
			kept = append(kept, e)
			// A handle is attached once Start returns.
			e.abort = true
			running = e.handle
			affected = true
		default:
			dropped++
		}
	}
	q.entries = kept
	q.mu.Unlock()

	if dropped > 0 {
		q.logger.Info("removed queued job", zap.String("jobID", jobID), zap.Int("entries", dropped))
	}
	if affected {
		q.logger.Info("aborting running job", zap.String("jobID", jobID))
	}
	if running != nil {
		running.Abort()
	}
	return dropped > 0 || affected
}

// Shutdown stops starting jobs, aborts the running one and waits for its
// terminal signal so the job can release its display and working directory.
// When ctx expires first the job context is cancelled and Shutdown waits up
// to killGrace more before returning ctx.Err().
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	var running *entry
	var handle Handle
	for _, e := range q.entries {
		if !e.startedAt.IsZero() {
			running = e
			e.abort = true
			handle = e.handle
			break
		}
	}
	if running == nil {
		q.idleOnce.Do(func() { close(q.idle) })
	}
	q.mu.Unlock()

	defer q.cancel()
	if running == nil {
		return nil
	}

	q.logger.Info("waiting for the running job", zap.String("jobID", running.jobID))
	if handle != nil {
		handle.Abort()
	}
	select {
	case <-q.idle:
		return nil
	case <-ctx.Done():
	}

	q.logger.Warn("running job did not stop in time, cancelling it", zap.String("jobID", running.jobID))
	q.cancel()
	select {
	case <-q.idle:
	case <-time.After(q.killGrace):
		q.logger.Error("running job ignored cancellation", zap.String("jobID", running.jobID))
	}
	return ctx.Err()
}

type QueuedJob struct {
	JobID      string    `json:"jobId"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

type RunningJob struct {
	JobID     string    `json:"jobId"`
	StartedAt time.Time `json:"startedAt"`
}

type Snapshot struct {
	Running *RunningJob `json:"running,omitempty"`
	Queued  []QueuedJob `json:"queued"`
}

func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Snapshot{Queued: []QueuedJob{}}
	for _, e := range q.entries {
		if !e.startedAt.IsZero() {
			s.Running = &RunningJob{JobID: e.jobID, StartedAt: e.startedAt}
			continue
		}
		s.Queued = append(s.Queued, QueuedJob{JobID: e.jobID, EnqueuedAt: e.enqueuedAt})
	}
	return s
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
