package api

import "time"

type JobRun struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	Branch       string       `json:"branch,omitempty"`
	Commit       string       `json:"commit,omitempty"`
	Component    string       `json:"component,omitempty"`
	Status       JobRunStatus `json:"status"`
	TargetCount  int          `json:"targetCount"`
	Passed       int          `json:"passed"`
	Failed       int          `json:"failed"`
	Targets      []string     `json:"targets"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
}

type TargetResult struct {
	Target       string             `json:"target"`
	Status       TargetResultStatus `json:"status"`
	RetryCount   int                `json:"retryCount"`
	Passed       int                `json:"passed"`
	Failed       int                `json:"failed"`
	HasLogs      bool               `json:"hasLogs"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	StartedAt    time.Time          `json:"startedAt"`
	FinishedAt   *time.Time         `json:"finishedAt,omitempty"`
	Engines      []EngineResult     `json:"engines"`
}

type JobRunDetails struct {
	JobRun
	Results []TargetResult `json:"results"`
}
