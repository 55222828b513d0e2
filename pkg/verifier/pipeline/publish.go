package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/gitops"
)

type packageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// packageVersion reads the version field of dir/package.json. A missing file
// or field yields an empty version.
func (r *Runner) packageVersion(dir string) (string, error) {
	data, err := afero.ReadFile(r.opts.FS, filepath.Join(dir, "package.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var m packageManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return "", fmt.Errorf("parse package.json: %w", err)
	}
	return strings.TrimSpace(m.Version), nil
}

// publish puts the built tree of target on the release branch, tags it
// v<version> and pushes both. An existing tag stops the release before push.
func (p *Pipeline) publish(ctx context.Context, logger *zap.Logger, repo Repo, target api.Target, dir string) error {
	version, err := p.runner.packageVersion(dir)
	if err != nil {
		return stageError(KindIO, "publish", target.Name, err)
	}
	if version == "" {
		logger.Info("no package version, skipping release")
		return nil
	}

	fail := func(err error) error {
		return stageError(KindGit, "publish", target.Name, err)
	}
	branch := p.runner.opts.Release.Branch
	tag := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(tag) || semver.Build(tag) != "" {
		return stageError(KindArtifactGeneration, "publish", target.Name, fmt.Errorf("package version %q is not a release version", version))
	}

	built, err := repo.CommitWorktree(fmt.Sprintf("Build %s %s", target.Name, version))
	if err != nil {
		return fail(err)
	}
	tree, err := repo.TreeOf(built)
	if err != nil {
		return fail(err)
	}

	var parents []plumbing.Hash
	tip, ok, err := repo.RemoteBranch(branch)
	if err != nil {
		return fail(err)
	}
	if ok {
		parents = append(parents, tip)
	}

	commit, err := repo.Commit(branch, "Release "+tag, tree, parents)
	if err != nil {
		return fail(err)
	}
	if err := repo.Tag(tag, commit, "Release "+tag); err != nil {
		return fail(err)
	}
	if err := repo.Push(ctx, gitops.BranchRefSpec(branch), gitops.TagRefSpec(tag)); err != nil {
		return fail(err)
	}

	logger.Info("released",
		zap.String("tag", tag),
		zap.String("branch", branch),
		zap.String("commit", commit.String()))
	return nil
}
