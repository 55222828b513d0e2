package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/afero"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
	"github.com/opengovern/componentci/pkg/verifier/executor"
)

type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.JobRun
	results map[string]*model.TargetResult
	created []string

	failCreate map[string]bool
}

func newFakeStore(jobs ...*model.JobRun) *fakeStore {
	s := &fakeStore{
		jobs:       map[string]*model.JobRun{},
		results:    map[string]*model.TargetResult{},
		failCreate: map[string]bool{},
	}
	for _, j := range jobs {
		if j.Status == "" {
			j.Status = api.JobRunStatusQueued
		}
		s.jobs[j.ID] = j
	}
	return s
}

func (s *fakeStore) job(id string) model.JobRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *fakeStore) result(target string) (model.TargetResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[target]
	if !ok {
		return model.TargetResult{}, false
	}
	return *r, true
}

func (s *fakeStore) createdTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.created...)
}

func (s *fakeStore) GetJobRun(_ context.Context, jobID string) (*model.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	c := *j
	return &c, nil
}

func (s *fakeStore) transition(jobID string, next api.JobRunStatus) (*model.JobRun, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s not found", jobID)
	}
	if !j.Status.CanTransitionTo(next) && !(j.Status == next && next == api.JobRunStatusRunning) {
		return nil, fmt.Errorf("job %s: %s -> %s", jobID, j.Status, next)
	}
	j.Status = next
	return j, nil
}

func (s *fakeStore) SetJobRunning(_ context.Context, jobID string, targets []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(jobID, api.JobRunStatusRunning)
	if err != nil {
		return err
	}
	j.TargetCount = len(targets)
	return nil
}

func (s *fakeStore) CreateTargetResult(_ context.Context, jobID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreate[target] {
		return errors.New("insert failed")
	}
	s.created = append(s.created, target)
	s.results[target] = &model.TargetResult{JobRunID: jobID, Target: target, Status: api.TargetResultStatusRunning}
	return nil
}

func (s *fakeStore) UpdateTargetResult(_ context.Context, _ string, target string, report *api.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[target]
	if !ok {
		return errors.New("no such result")
	}
	r.Status = api.TargetResultStatusPassed
	if !report.Passing {
		r.Status = api.TargetResultStatusFailed
	}
	r.RetryCount = report.RetryCount
	r.HasLogs = report.HasLogs()
	return nil
}

func (s *fakeStore) UpdateTargetError(_ context.Context, _ string, target, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[target]
	if !ok {
		return errors.New("no such result")
	}
	r.Status = api.TargetResultStatusFailed
	r.ErrorMessage = message
	return nil
}

func (s *fakeStore) IncrementJobCounters(_ context.Context, jobID string, delta api.CounterDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if delta.Passed < 0 || delta.Failed < 0 {
		return errors.New("negative delta")
	}
	j := s.jobs[jobID]
	j.Passed += delta.Passed
	j.Failed += delta.Failed
	return nil
}

func (s *fakeStore) FinishJob(_ context.Context, jobID string) (*model.JobRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(jobID, api.JobRunStatusFinished)
	if err != nil {
		return nil, err
	}
	c := *j
	return &c, nil
}

func (s *fakeStore) SetJobError(_ context.Context, jobID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, err := s.transition(jobID, api.JobRunStatusErrored)
	if err != nil {
		return err
	}
	j.ErrorMessage = message
	return nil
}

// fakeGit records git calls for every repository the pipeline opens.
type fakeGit struct {
	mu sync.Mutex
	fs afero.Fs

	failClone map[string]error
	tagErr    error
	manifest  string

	resets []string
	tags   []string
	pushes [][]config.RefSpec
}

func (g *fakeGit) factory(dir string) Repo {
	return &fakeRepo{git: g, dir: dir, name: filepath.Base(dir)}
}

type fakeRepo struct {
	git  *fakeGit
	dir  string
	name string
}

func (r *fakeRepo) Clone(_ context.Context, _, _ string) error {
	if err := r.git.failClone[r.name]; err != nil {
		return err
	}
	if err := r.git.fs.MkdirAll(r.dir, 0o755); err != nil {
		return err
	}
	if r.git.manifest != "" {
		return afero.WriteFile(r.git.fs, filepath.Join(r.dir, "package.json"), []byte(r.git.manifest), 0o644)
	}
	return nil
}

func (r *fakeRepo) ResetTo(revision string) (plumbing.Hash, error) {
	r.git.mu.Lock()
	defer r.git.mu.Unlock()
	r.git.resets = append(r.git.resets, r.name+"@"+revision)
	return plumbing.ZeroHash, nil
}

func (r *fakeRepo) CommitWorktree(string) (plumbing.Hash, error) {
	return plumbing.NewHash("1111111111111111111111111111111111111111"), nil
}

func (r *fakeRepo) TreeOf(plumbing.Hash) (plumbing.Hash, error) {
	return plumbing.NewHash("2222222222222222222222222222222222222222"), nil
}

func (r *fakeRepo) RemoteBranch(string) (plumbing.Hash, bool, error) {
	return plumbing.ZeroHash, false, nil
}

func (r *fakeRepo) Commit(string, string, plumbing.Hash, []plumbing.Hash) (plumbing.Hash, error) {
	return plumbing.NewHash("3333333333333333333333333333333333333333"), nil
}

func (r *fakeRepo) Tag(version string, _ plumbing.Hash, _ string) error {
	r.git.mu.Lock()
	defer r.git.mu.Unlock()
	if r.git.tagErr != nil {
		return r.git.tagErr
	}
	r.git.tags = append(r.git.tags, version)
	return nil
}

func (r *fakeRepo) Push(_ context.Context, refspecs ...config.RefSpec) error {
	r.git.mu.Lock()
	defer r.git.mu.Unlock()
	r.git.pushes = append(r.git.pushes, refspecs)
	return nil
}

type fakeCommands struct {
	mu   sync.Mutex
	fail map[string]error
	runs []string
	envs map[string][]string
}

func (c *fakeCommands) Run(_ context.Context, dir, command string, env ...string) error {
	key := filepath.Base(dir) + " " + command
	c.mu.Lock()
	c.runs = append(c.runs, key)
	if c.envs == nil {
		c.envs = map[string][]string{}
	}
	c.envs[key] = env
	c.mu.Unlock()
	return c.fail[key]
}

type fakeExecutor struct {
	mu      sync.Mutex
	calls   []string
	failing map[string]bool
	hook    func(target api.Target)
}

func (e *fakeExecutor) Execute(ctx context.Context, session *executor.Session, target api.Target, _ string) (*api.Report, error) {
	if _, err := session.Acquire(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.calls = append(e.calls, target.Name)
	e.mu.Unlock()
	if e.hook != nil {
		e.hook(target)
	}

	passing := !e.failing[target.Name]
	status := api.LogStatusPassed
	if !passing {
		status = api.LogStatusFailed
	}
	return &api.Report{
		Passing: passing,
		Engines: []api.EngineResult{{
			Engine: "chrome",
			Logs:   []api.LogLine{{Status: status, Title: target.Name}},
		}},
	}, nil
}

type countingDisplay struct {
	starts, stops atomic.Int32
}

func (d *countingDisplay) Start(context.Context) (string, error) {
	d.starts.Add(1)
	return ":99", nil
}

func (d *countingDisplay) Stop() error {
	d.stops.Add(1)
	return nil
}

type countingFs struct {
	afero.Fs
	removeAll atomic.Int32
}

func (c *countingFs) RemoveAll(path string) error {
	c.removeAll.Add(1)
	return c.Fs.RemoveAll(path)
}
