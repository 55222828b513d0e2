package gitops

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

type ErrorKind string

const (
	KindAuth         ErrorKind = "auth"
	KindMissingRef   ErrorKind = "missing-ref"
	KindDuplicateTag ErrorKind = "duplicate-tag"
	KindPushRejected ErrorKind = "push-rejected"
	KindNetwork      ErrorKind = "network"
	KindOther        ErrorKind = "other"
)

var ErrDuplicateTag = errors.New("tag already exists")

// GitError is returned by every Repository operation that talks to git.
type GitError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err carries a GitError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return gitErr.Kind == kind
	}
	return false
}

// IOError marks a local filesystem failure around the working directory.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return err
	}
	return &GitError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) ErrorKind {
	var noRefSpec git.NoMatchingRefSpecError
	var netErr net.Error

	switch {
	case errors.Is(err, transport.ErrAuthenticationRequired),
		errors.Is(err, transport.ErrAuthorizationFailed),
		errors.Is(err, transport.ErrInvalidAuthMethod):
		return KindAuth
	case errors.Is(err, plumbing.ErrReferenceNotFound),
		errors.Is(err, plumbing.ErrObjectNotFound),
		errors.Is(err, transport.ErrRepositoryNotFound),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.As(err, &noRefSpec):
		return KindMissingRef
	case errors.Is(err, git.ErrTagExists), errors.Is(err, ErrDuplicateTag):
		return KindDuplicateTag
	case errors.Is(err, git.ErrNonFastForwardUpdate):
		return KindPushRejected
	case errors.As(err, &netErr):
		return KindNetwork
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "non-fast-forward"), strings.Contains(msg, "rejected"):
		return KindPushRejected
	case strings.Contains(msg, "couldn't find remote ref"), strings.Contains(msg, "reference not found"):
		return KindMissingRef
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"), strings.Contains(msg, "i/o timeout"):
		return KindNetwork
	}
	return KindOther
}
