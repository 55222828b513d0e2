package pipeline

import (
	"errors"
	"fmt"
)

type StageErrorKind string

const (
	KindGit                StageErrorKind = "GitError"
	KindIO                 StageErrorKind = "IOError"
	KindDependencyInstall  StageErrorKind = "DependencyInstallError"
	KindArtifactGeneration StageErrorKind = "ArtifactGenerationError"
	KindTestExecution      StageErrorKind = "TestExecutionError"
	KindStoreWrite         StageErrorKind = "StoreWriteError"
	KindStoreRead          StageErrorKind = "StoreReadError"
	KindScope              StageErrorKind = "ScopeResolutionError"
)

// errAborted unwinds a pipeline once its abort flag is observed.
var errAborted = errors.New("pipeline aborted")

// StageError is a failure of one pipeline stage. Target is empty for the
// shared stage.
type StageError struct {
	Kind   StageErrorKind
	Stage  string
	Target string
	Err    error
}

func (e *StageError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Target, e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageError(kind StageErrorKind, stage, target string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errAborted) {
		return err
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Kind: kind, Stage: stage, Target: target, Err: err}
}
