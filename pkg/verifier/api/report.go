package api

import "time"

type LogStatus string

const (
	LogStatusPassed LogStatus = "passed"
	LogStatusFailed LogStatus = "failed"
	LogStatusInfo   LogStatus = "info"
)

// LogLine is one structured entry emitted by the browser harness.
type LogLine struct {
	Status  LogStatus `json:"status"`
	Title   string    `json:"title,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

type EngineStatus string

const (
	EngineStatusPassed  EngineStatus = "passed"
	EngineStatusFailed  EngineStatus = "failed"
	EngineStatusSkipped EngineStatus = "skipped"
)

// EngineResult is the per-browser-engine part of a Report and the payload of a BrowserLog.
type EngineResult struct {
	Engine       string       `json:"engine"`
	Status       EngineStatus `json:"status"`
	Passed       int          `json:"passed"`
	Failed       int          `json:"failed"`
	Logs         []LogLine    `json:"logs"`
	StartedAt    time.Time    `json:"startedAt"`
	FinishedAt   time.Time    `json:"finishedAt"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
}

type Report struct {
	Passing     bool           `json:"passing"`
	RetryCount  int            `json:"retryCount"`
	Engines     []EngineResult `json:"engines"`
	PassedTotal int            `json:"passedTotal"`
	FailedTotal int            `json:"failedTotal"`
	EndTime     time.Time      `json:"endTime"`
}

// HasLogs reports whether any engine recorded at least one log line.
func (r Report) HasLogs() bool {
	for _, e := range r.Engines {
		if len(e.Logs) > 0 {
			return true
		}
	}
	return false
}
