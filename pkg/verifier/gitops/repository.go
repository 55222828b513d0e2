// Package gitops wraps the git operations the pipeline needs: clone, branch
// switching, low-level commits, tags and pushes against a single remote.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"go.uber.org/zap"
)

// BranchTransition records what CheckoutOrCreateBranch did.
type BranchTransition string

const (
	TransitionNone     BranchTransition = "none"
	TransitionCheckout BranchTransition = "checkout"
	TransitionTrack    BranchTransition = "track"
	TransitionCreate   BranchTransition = "create"
)

type Identity struct {
	Name  string
	Email string
}

type Options struct {
	RemoteName string
	Auth       transport.AuthMethod
	Identity   Identity
	// Signer is optional; commits and tags are unsigned without it.
	Signer   Signer
	Progress io.Writer
	Logger   *zap.Logger
	Now      func() time.Time
}

// BasicAuth returns token credentials for HTTP remotes, or nil when no token is set.
func BasicAuth(username, token string) transport.AuthMethod {
	if token == "" {
		return nil
	}
	if username == "" {
		username = "x-access-token"
	}
	return &githttp.BasicAuth{Username: username, Password: token}
}

type Repository struct {
	dir    string
	opts   Options
	logger *zap.Logger
	repo   *git.Repository
}

func NewRepository(dir string, opts Options) *Repository {
	if opts.RemoteName == "" {
		opts.RemoteName = git.DefaultRemoteName
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{dir: dir, opts: opts, logger: logger.Named("git")}
}

// Open binds the Repository to an existing clone in dir.
func Open(dir string, opts Options) (*Repository, error) {
	r := NewRepository(dir, opts)
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, wrap("open", err)
	}
	r.repo = repo
	return r, nil
}

func (r *Repository) Dir() string {
	return r.dir
}

// Clone clones remoteURL into the repository directory and leaves branch
// checked out at the remote tip.
func (r *Repository) Clone(ctx context.Context, remoteURL, branch string) error {
	repo, err := git.PlainCloneContext(ctx, r.dir, false, &git.CloneOptions{
		URL:        remoteURL,
		Auth:       r.opts.Auth,
		RemoteName: r.opts.RemoteName,
		Progress:   r.opts.Progress,
		Tags:       git.AllTags,
	})
	if err != nil {
		return wrap("clone", err)
	}
	r.repo = repo

	if branch == "" {
		return nil
	}

	current, err := r.CurrentBranch()
	if err == nil && current == branch {
		return nil
	}

	if _, ok, err := r.RemoteBranch(branch); err != nil {
		return err
	} else if !ok {
		return &GitError{
			Kind: KindMissingRef,
			Op:   "clone",
			Err:  fmt.Errorf("branch %s not found on %s", branch, remoteURL),
		}
	}

	transition, err := r.CheckoutOrCreateBranch(branch)
	if err != nil {
		return err
	}
	r.logger.Debug("switched branch after clone",
		zap.String("dir", r.dir),
		zap.String("branch", branch),
		zap.String("transition", string(transition)))
	return nil
}

// CurrentBranch returns the short name of the checked out branch.
func (r *Repository) CurrentBranch() (string, error) {
	if err := r.ensureOpen(); err != nil {
		return "", err
	}
	head, err := r.repo.Head()
	if err != nil {
		return "", wrap("head", err)
	}
	if !head.Name().IsBranch() {
		return "", &GitError{Kind: KindMissingRef, Op: "head", Err: fmt.Errorf("HEAD is detached at %s", head.Hash())}
	}
	return head.Name().Short(), nil
}

// Head returns the commit HEAD points at.
func (r *Repository) Head() (plumbing.Hash, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, err
	}
	head, err := r.repo.Head()
	if err != nil {
		return plumbing.ZeroHash, wrap("head", err)
	}
	return head.Hash(), nil
}

// RemoteBranch looks up refs/remotes/<remote>/<name>.
func (r *Repository) RemoteBranch(name string) (plumbing.Hash, bool, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, false, err
	}
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(r.opts.RemoteName, name), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return plumbing.ZeroHash, false, nil
	}
	if err != nil {
		return plumbing.ZeroHash, false, wrap("lookup remote branch", err)
	}
	return ref.Hash(), true, nil
}

func (r *Repository) CheckoutOrCreateBranch(name string) (BranchTransition, error) {
	if err := r.ensureOpen(); err != nil {
		return TransitionNone, err
	}

	if current, err := r.CurrentBranch(); err == nil && current == name {
		return TransitionNone, nil
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return TransitionNone, wrap("worktree", err)
	}

	local := plumbing.NewBranchReferenceName(name)
	if _, err := r.repo.Reference(local, true); err == nil {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local}); err != nil {
			return TransitionNone, wrap("checkout", err)
		}
		return TransitionCheckout, nil
	}

	remoteHash, onRemote, err := r.RemoteBranch(name)
	if err != nil {
		return TransitionNone, err
	}
	if onRemote {
		if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Hash: remoteHash, Create: true}); err != nil {
			return TransitionNone, wrap("checkout", err)
		}
		err := r.repo.CreateBranch(&config.Branch{
			Name:   name,
			Remote: r.opts.RemoteName,
			Merge:  local,
		})
		if err != nil && !errors.Is(err, git.ErrBranchExists) {
			return TransitionNone, wrap("track branch", err)
		}
		if err := wt.Reset(&git.ResetOptions{Commit: remoteHash, Mode: git.HardReset}); err != nil {
			return TransitionNone, wrap("reset", err)
		}
		return TransitionTrack, nil
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: local, Create: true}); err != nil {
		return TransitionNone, wrap("checkout", err)
	}
	return TransitionCreate, nil
}

// ResetTo hard-resets the worktree to a revision (full or abbreviated sha).
func (r *Repository) ResetTo(revision string) (plumbing.Hash, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, err
	}
	hash, err := r.repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return plumbing.ZeroHash, &GitError{Kind: KindMissingRef, Op: "resolve", Err: fmt.Errorf("%s: %w", revision, err)}
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, wrap("worktree", err)
	}
	if err := wt.Reset(&git.ResetOptions{Commit: *hash, Mode: git.HardReset}); err != nil {
		return plumbing.ZeroHash, wrap("reset", err)
	}
	return *hash, nil
}

func (r *Repository) signature() object.Signature {
	return object.Signature{
		Name:  r.opts.Identity.Name,
		Email: r.opts.Identity.Email,
		When:  r.opts.Now(),
	}
}

// Commit writes a commit object for tree on top of parents and moves
// refs/heads/<branch> to it. The worktree is not touched.
func (r *Repository) Commit(branch, message string, tree plumbing.Hash, parents []plumbing.Hash) (plumbing.Hash, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := r.repo.TreeObject(tree); err != nil {
		return plumbing.ZeroHash, &GitError{Kind: KindMissingRef, Op: "commit", Err: fmt.Errorf("tree %s: %w", tree, err)}
	}
	for _, p := range parents {
		if _, err := r.repo.CommitObject(p); err != nil {
			return plumbing.ZeroHash, &GitError{Kind: KindMissingRef, Op: "commit", Err: fmt.Errorf("parent %s: %w", p, err)}
		}
	}

	sig := r.signature()
	commit := &object.Commit{
		Author:       sig,
		Committer:    sig,
		Message:      message,
		TreeHash:     tree,
		ParentHashes: parents,
	}
	if r.opts.Signer != nil {
		signature, err := r.sign(commit)
		if err != nil {
			return plumbing.ZeroHash, &GitError{Kind: KindOther, Op: "sign commit", Err: err}
		}
		commit.PGPSignature = signature
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := commit.Encode(obj); err != nil {
		return plumbing.ZeroHash, wrap("encode commit", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return plumbing.ZeroHash, wrap("store commit", err)
	}

	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(branch), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return plumbing.ZeroHash, wrap("update branch", err)
	}
	return hash, nil
}

// CommitWorktree stages everything and commits it on the current branch.
// A clean worktree returns HEAD unchanged.
func (r *Repository) CommitWorktree(message string) (plumbing.Hash, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, wrap("worktree", err)
	}
	status, err := wt.Status()
	if err != nil {
		return plumbing.ZeroHash, wrap("status", err)
	}
	if status.IsClean() {
		return r.Head()
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return plumbing.ZeroHash, wrap("add", err)
	}
	sig := r.signature()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		return plumbing.ZeroHash, wrap("commit", err)
	}
	return hash, nil
}

// TreeOf returns the tree hash of a commit.
func (r *Repository) TreeOf(commitID plumbing.Hash) (plumbing.Hash, error) {
	if err := r.ensureOpen(); err != nil {
		return plumbing.ZeroHash, err
	}
	c, err := r.repo.CommitObject(commitID)
	if err != nil {
		return plumbing.ZeroHash, wrap("lookup commit", err)
	}
	return c.TreeHash, nil
}

// Tag creates an annotated tag named version on commitID. Existing tags are
// reported as KindDuplicateTag; the check and the write are not atomic.
func (r *Repository) Tag(version string, commitID plumbing.Hash, message string) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if _, err := r.repo.Tag(version); err == nil {
		return &GitError{Kind: KindDuplicateTag, Op: "tag", Err: fmt.Errorf("%w: %s", ErrDuplicateTag, version)}
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return wrap("tag", err)
	}
	if _, err := r.repo.CommitObject(commitID); err != nil {
		return &GitError{Kind: KindMissingRef, Op: "tag", Err: fmt.Errorf("commit %s: %w", commitID, err)}
	}

	tag := &object.Tag{
		Name:       version,
		Tagger:     r.signature(),
		Message:    message,
		TargetType: plumbing.CommitObject,
		Target:     commitID,
	}
	if r.opts.Signer != nil {
		signature, err := r.sign(tag)
		if err != nil {
			return &GitError{Kind: KindOther, Op: "sign tag", Err: err}
		}
		tag.PGPSignature = signature
	}

	obj := r.repo.Storer.NewEncodedObject()
	if err := tag.Encode(obj); err != nil {
		return wrap("encode tag", err)
	}
	hash, err := r.repo.Storer.SetEncodedObject(obj)
	if err != nil {
		return wrap("store tag", err)
	}
	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(version), hash)
	if err := r.repo.Storer.SetReference(ref); err != nil {
		return wrap("tag", err)
	}
	return nil
}

type encodable interface {
	EncodeWithoutSignature(o plumbing.EncodedObject) error
}

func (r *Repository) sign(o encodable) (string, error) {
	encoded := &plumbing.MemoryObject{}
	if err := o.EncodeWithoutSignature(encoded); err != nil {
		return "", err
	}
	reader, err := encoded.Reader()
	if err != nil {
		return "", err
	}
	defer reader.Close()
	return r.opts.Signer.Sign(reader)
}

func BranchRefSpec(name string) config.RefSpec {
	ref := plumbing.NewBranchReferenceName(name)
	return config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
}

func TagRefSpec(name string) config.RefSpec {
	ref := plumbing.NewTagReferenceName(name)
	return config.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
}

// Push sends refspecs to the configured remote. Already up to date is success.
func (r *Repository) Push(ctx context.Context, refspecs ...config.RefSpec) error {
	if err := r.ensureOpen(); err != nil {
		return err
	}
	if len(refspecs) == 0 {
		return &GitError{Kind: KindOther, Op: "push", Err: fmt.Errorf("no refspecs given")}
	}
	for _, spec := range refspecs {
		if err := spec.Validate(); err != nil {
			return &GitError{Kind: KindOther, Op: "push", Err: err}
		}
	}

	err := r.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: r.opts.RemoteName,
		RefSpecs:   refspecs,
		Auth:       r.opts.Auth,
		Progress:   r.opts.Progress,
	})
	if errors.Is(err, git.NoErrAlreadyUpToDate) {
		return nil
	}
	return wrap("push", err)
}

func (r *Repository) ensureOpen() error {
	if r.repo != nil {
		return nil
	}
	repo, err := git.PlainOpen(r.dir)
	if err != nil {
		return wrap("open", err)
	}
	r.repo = repo
	return nil
}
