// Package db is the postgres result store for job runs, target results and
// browser logs.
package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
)

var (
	ErrJobNotFound          = errors.New("job run not found")
	ErrJobExists            = errors.New("job run already exists")
	ErrTargetResultNotFound = errors.New("target result not found")
	ErrInvalidTransition    = errors.New("invalid job status transition")
	ErrNegativeDelta        = errors.New("counter delta must not be negative")
)

type Database struct {
	Orm *gorm.DB
	now func() time.Time
}

func New(orm *gorm.DB) Database {
	return Database{Orm: orm, now: time.Now}
}

func (db Database) Initialize() error {
	return db.Orm.AutoMigrate(
		&model.JobRun{},
		&model.TargetResult{},
		&model.BrowserLog{},
	)
}

func (db Database) timeNow() time.Time {
	if db.now == nil {
		return time.Now()
	}
	return db.now()
}

func (db Database) CreateJobRun(ctx context.Context, job *model.JobRun) error {
	if job.Status == "" {
		job.Status = api.JobRunStatusQueued
	}
	if job.Status != api.JobRunStatusQueued {
		return fmt.Errorf("%w: new job %s must be queued, got %s", ErrInvalidTransition, job.ID, job.Status)
	}
	err := db.Orm.WithContext(ctx).Create(job).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return err
}

func (db Database) GetJobRun(ctx context.Context, jobID string) (*model.JobRun, error) {
	var job model.JobRun
	err := db.Orm.WithContext(ctx).Where("id = ?", jobID).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (db Database) ListJobRuns(ctx context.Context, limit int) ([]model.JobRun, error) {
	var jobs []model.JobRun
	tx := db.Orm.WithContext(ctx).Order("created_at desc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// transition moves a job into next when its current status allows it.
func (db Database) transition(ctx context.Context, jobID string, next api.JobRunStatus, values map[string]any) error {
	var from []api.JobRunStatus
	for _, s := range []api.JobRunStatus{api.JobRunStatusQueued, api.JobRunStatusRunning} {
		if s.CanTransitionTo(next) {
			from = append(from, s)
		}
	}
	if next == api.JobRunStatusRunning {
		// a redelivered job that was running when the worker died may start again
		from = append(from, api.JobRunStatusRunning)
	}

	values["status"] = next
	res := db.Orm.WithContext(ctx).Model(&model.JobRun{}).
		Where("id = ? AND status IN ?", jobID, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := db.GetJobRun(ctx, jobID); err != nil {
			return err
		}
		return fmt.Errorf("%w: job %s to %s", ErrInvalidTransition, jobID, next)
	}
	return nil
}

func (db Database) SetJobRunning(ctx context.Context, jobID string, targets []string) error {
	if targets == nil {
		targets = []string{}
	}
	names, err := json.Marshal(targets)
	if err != nil {
		return err
	}
	return db.transition(ctx, jobID, api.JobRunStatusRunning, map[string]any{
		"target_count": len(targets),
		"targets":      datatypes.JSON(names),
		"started_at":   db.timeNow(),
	})
}

func (db Database) FinishJob(ctx context.Context, jobID string) (*model.JobRun, error) {
	err := db.transition(ctx, jobID, api.JobRunStatusFinished, map[string]any{
		"finished_at": db.timeNow(),
	})
	if err != nil {
		return nil, err
	}
	return db.GetJobRun(ctx, jobID)
}

func (db Database) SetJobError(ctx context.Context, jobID, message string) error {
	return db.transition(ctx, jobID, api.JobRunStatusErrored, map[string]any{
		"error_message": message,
		"finished_at":   db.timeNow(),
	})
}

// IncrementJobCounters adds delta to the job's pass/fail counters in place.
func (db Database) IncrementJobCounters(ctx context.Context, jobID string, delta api.CounterDelta) error {
	if delta.Passed < 0 || delta.Failed < 0 {
		return ErrNegativeDelta
	}
	if delta.Passed == 0 && delta.Failed == 0 {
		return nil
	}
	res := db.Orm.WithContext(ctx).Model(&model.JobRun{}).
		Where("id = ?", jobID).
		Updates(map[string]any{
			"passed": gorm.Expr("passed + ?", delta.Passed),
			"failed": gorm.Expr("failed + ?", delta.Failed),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return nil
}

// CreateTargetResult replaces any previous result of the target in this job
// with a fresh running one.
func (db Database) CreateTargetResult(ctx context.Context, jobID, target string) error {
	return db.Orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous := tx.Model(&model.TargetResult{}).
			Select("id").
			Where("job_run_id = ? AND target = ?", jobID, target)
		if err := tx.Where("target_result_id IN (?)", previous).Delete(&model.BrowserLog{}).Error; err != nil {
			return err
		}
		if err := tx.Where("job_run_id = ? AND target = ?", jobID, target).Delete(&model.TargetResult{}).Error; err != nil {
			return err
		}
		return tx.Create(&model.TargetResult{
			JobRunID:  jobID,
			Target:    target,
			Status:    api.TargetResultStatusRunning,
			StartedAt: db.timeNow(),
		}).Error
	})
}

func (db Database) UpdateTargetResult(ctx context.Context, jobID, target string, report *api.Report) error {
	if report == nil {
		return errors.New("nil report")
	}
	status := api.TargetResultStatusPassed
	if !report.Passing {
		status = api.TargetResultStatusFailed
	}
	finishedAt := report.EndTime
	if finishedAt.IsZero() {
		finishedAt = db.timeNow()
	}

	return db.Orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var result model.TargetResult
		err := tx.Where("job_run_id = ? AND target = ?", jobID, target).First(&result).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s/%s", ErrTargetResultNotFound, jobID, target)
		}
		if err != nil {
			return err
		}

		err = tx.Model(&result).Updates(map[string]any{
			"status":       status,
			"retry_count":  report.RetryCount,
			"passed_count": report.PassedTotal,
			"failed_count": report.FailedTotal,
			"has_logs":     report.HasLogs(),
			"finished_at":  finishedAt,
		}).Error
		if err != nil {
			return err
		}

		if err := tx.Where("target_result_id = ?", result.ID).Delete(&model.BrowserLog{}).Error; err != nil {
			return err
		}
		if len(report.Engines) == 0 {
			return nil
		}
		logs := make([]model.BrowserLog, 0, len(report.Engines))
		for _, engine := range report.Engines {
			l, err := model.NewBrowserLog(result.ID, engine)
			if err != nil {
				return err
			}
			logs = append(logs, l)
		}
		return tx.Create(&logs).Error
	})
}

func (db Database) UpdateTargetError(ctx context.Context, jobID, target, message string) error {
	res := db.Orm.WithContext(ctx).Model(&model.TargetResult{}).
		Where("job_run_id = ? AND target = ?", jobID, target).
		Updates(map[string]any{
			"status":        api.TargetResultStatusFailed,
			"error_message": message,
			"finished_at":   db.timeNow(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrTargetResultNotFound, jobID, target)
	}
	return nil
}

func (db Database) ListTargetResults(ctx context.Context, jobID string) ([]model.TargetResult, error) {
	var results []model.TargetResult
	err := db.Orm.WithContext(ctx).
		Preload("BrowserLogs", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("id")
		}).
		Where("job_run_id = ?", jobID).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
