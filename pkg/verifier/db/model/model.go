package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"gorm.io/datatypes"

	"github.com/opengovern/componentci/pkg/verifier/api"
)

type JobRun struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Kind      string `gorm:"type:varchar(32);not null"`
	Branch    string
	Commit    string
	Component string

	Status      api.JobRunStatus `gorm:"type:varchar(16);index;not null"`
	TargetCount int
	Passed      int
	Failed      int
	// Targets is the JSON list of target names resolved when the job started.
	Targets      datatypes.JSON
	ErrorMessage string

	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (j JobRun) JobKind() (api.JobKind, error) {
	return api.ParseJobKind(j.Kind)
}

func (j JobRun) TargetNames() ([]string, error) {
	if len(j.Targets) == 0 {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(j.Targets, &names); err != nil {
		return nil, fmt.Errorf("decode targets of job %s: %w", j.ID, err)
	}
	return names, nil
}

type TargetResult struct {
	ID           uint                   `gorm:"primaryKey"`
	JobRunID     string                 `gorm:"type:varchar(64);uniqueIndex:idx_target_results_job_target;not null"`
	Target       string                 `gorm:"uniqueIndex:idx_target_results_job_target;not null"`
	Status       api.TargetResultStatus `gorm:"type:varchar(16);not null"`
	RetryCount   int
	PassedCount  int
	FailedCount  int
	HasLogs      bool
	ErrorMessage string

	StartedAt  time.Time
	FinishedAt *time.Time

	BrowserLogs []BrowserLog `gorm:"foreignKey:TargetResultID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

type BrowserLog struct {
	ID             uint   `gorm:"primaryKey"`
	TargetResultID uint   `gorm:"index;not null"`
	Engine         string `gorm:"not null"`
	Status         api.EngineStatus
	Passed         int
	Failed         int
	Lines          pgtype.JSONB `gorm:"type:jsonb"`
	ErrorMessage   string

	StartedAt  time.Time
	FinishedAt time.Time
	CreatedAt  time.Time
}

func NewBrowserLog(targetResultID uint, engine api.EngineResult) (BrowserLog, error) {
	var lines pgtype.JSONB
	logs := engine.Logs
	if logs == nil {
		logs = []api.LogLine{}
	}
	if err := lines.Set(logs); err != nil {
		return BrowserLog{}, fmt.Errorf("encode %s log lines: %w", engine.Engine, err)
	}
	return BrowserLog{
		TargetResultID: targetResultID,
		Engine:         engine.Engine,
		Status:         engine.Status,
		Passed:         engine.Passed,
		Failed:         engine.Failed,
		Lines:          lines,
		ErrorMessage:   engine.ErrorMessage,
		StartedAt:      engine.StartedAt,
		FinishedAt:     engine.FinishedAt,
	}, nil
}

func (l BrowserLog) LogLines() ([]api.LogLine, error) {
	var lines []api.LogLine
	if l.Lines.Status != pgtype.Present {
		return lines, nil
	}
	if err := l.Lines.AssignTo(&lines); err != nil {
		return nil, err
	}
	return lines, nil
}

func (j JobRun) ToApi() (api.JobRun, error) {
	targets, err := j.TargetNames()
	if err != nil {
		return api.JobRun{}, err
	}
	if targets == nil {
		targets = []string{}
	}
	return api.JobRun{
		ID:           j.ID,
		Kind:         j.Kind,
		Branch:       j.Branch,
		Commit:       j.Commit,
		Component:    j.Component,
		Status:       j.Status,
		TargetCount:  j.TargetCount,
		Passed:       j.Passed,
		Failed:       j.Failed,
		Targets:      targets,
		ErrorMessage: j.ErrorMessage,
		StartedAt:    j.StartedAt,
		FinishedAt:   j.FinishedAt,
		CreatedAt:    j.CreatedAt,
	}, nil
}

func (r TargetResult) ToApi() (api.TargetResult, error) {
	engines := make([]api.EngineResult, 0, len(r.BrowserLogs))
	for _, l := range r.BrowserLogs {
		lines, err := l.LogLines()
		if err != nil {
			return api.TargetResult{}, fmt.Errorf("decode %s logs of %s: %w", l.Engine, r.Target, err)
		}
		engines = append(engines, api.EngineResult{
			Engine:       l.Engine,
			Status:       l.Status,
			Passed:       l.Passed,
			Failed:       l.Failed,
			Logs:         lines,
			StartedAt:    l.StartedAt,
			FinishedAt:   l.FinishedAt,
			ErrorMessage: l.ErrorMessage,
		})
	}
	return api.TargetResult{
		Target:       r.Target,
		Status:       r.Status,
		RetryCount:   r.RetryCount,
		Passed:       r.PassedCount,
		Failed:       r.FailedCount,
		HasLogs:      r.HasLogs,
		ErrorMessage: r.ErrorMessage,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
		Engines:      engines,
	}, nil
}
