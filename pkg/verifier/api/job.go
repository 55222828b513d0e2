package api

import (
	"fmt"
	"strings"
)

type JobKind int

const (
	JobKindUnknown JobKind = iota
	FullBuild
	SingleComponent
)

func (k JobKind) String() string {
	switch k {
	case FullBuild:
		return "full-build"
	case SingleComponent:
		return "single-component"
	default:
		return "unknown"
	}
}

func ParseJobKind(str string) (JobKind, error) {
	switch strings.ToLower(strings.TrimSpace(str)) {
	case "full-build":
		return FullBuild, nil
	case "single-component":
		return SingleComponent, nil
	default:
		return JobKindUnknown, fmt.Errorf("invalid job kind: %q", str)
	}
}

type JobRunStatus string

const (
	JobRunStatusQueued   JobRunStatus = "queued"
	JobRunStatusRunning  JobRunStatus = "running"
	JobRunStatusFinished JobRunStatus = "finished"
	JobRunStatusErrored  JobRunStatus = "errored"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s JobRunStatus) IsTerminal() bool {
	return s == JobRunStatusFinished || s == JobRunStatusErrored
}

// CanTransitionTo enforces queued -> running -> {finished|errored}. A queued job
// may also error directly when the shared stage fails before it starts running.
func (s JobRunStatus) CanTransitionTo(next JobRunStatus) bool {
	switch s {
	case JobRunStatusQueued:
		return next == JobRunStatusRunning || next == JobRunStatusErrored
	case JobRunStatusRunning:
		return next == JobRunStatusFinished || next == JobRunStatusErrored
	default:
		return false
	}
}

type TargetResultStatus string

const (
	TargetResultStatusRunning TargetResultStatus = "running"
	TargetResultStatusPassed  TargetResultStatus = "passed"
	TargetResultStatusFailed  TargetResultStatus = "failed"
)

// Target is one component under test within a job.
type Target struct {
	Name      string `json:"name" yaml:"name"`
	RemoteURL string `json:"remoteUrl" yaml:"remoteUrl"`
	Branch    string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Commit    string `json:"commit,omitempty" yaml:"commit,omitempty"`
}

// CounterDelta is applied to a job's pass/fail target counters. Both fields
// must be non-negative.
type CounterDelta struct {
	Passed int
	Failed int
}
