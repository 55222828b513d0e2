package pipeline

import (
	"context"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
	"github.com/opengovern/componentci/pkg/verifier/executor"
	"github.com/opengovern/componentci/pkg/verifier/gitops"
)

// Store is the result store the pipeline writes to.
type Store interface {
	GetJobRun(ctx context.Context, jobID string) (*model.JobRun, error)
	SetJobRunning(ctx context.Context, jobID string, targets []string) error
	CreateTargetResult(ctx context.Context, jobID, target string) error
	UpdateTargetResult(ctx context.Context, jobID, target string, report *api.Report) error
	UpdateTargetError(ctx context.Context, jobID, target, message string) error
	IncrementJobCounters(ctx context.Context, jobID string, delta api.CounterDelta) error
	FinishJob(ctx context.Context, jobID string) (*model.JobRun, error)
	SetJobError(ctx context.Context, jobID, message string) error
}

// Repo is the subset of gitops.Repository the pipeline drives.
type Repo interface {
	Clone(ctx context.Context, remoteURL, branch string) error
	ResetTo(revision string) (plumbing.Hash, error)
	CommitWorktree(message string) (plumbing.Hash, error)
	TreeOf(commitID plumbing.Hash) (plumbing.Hash, error)
	RemoteBranch(name string) (plumbing.Hash, bool, error)
	Commit(branch, message string, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error)
	Tag(version string, commitID plumbing.Hash, message string) error
	Push(ctx context.Context, refspecs ...config.RefSpec) error
}

type RepoFactory func(dir string) Repo

// GitRepos opens gitops repositories with shared options.
func GitRepos(opts gitops.Options) RepoFactory {
	return func(dir string) Repo {
		return gitops.NewRepository(dir, opts)
	}
}

type Commands interface {
	Run(ctx context.Context, dir, command string, env ...string) error
}

type Executor interface {
	Execute(ctx context.Context, session *executor.Session, target api.Target, dir string) (*api.Report, error)
}
