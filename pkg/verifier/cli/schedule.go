package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/postgres"
	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/db"
	"github.com/opengovern/componentci/pkg/verifier/db/model"
)

type jobCreator interface {
	CreateJobRun(ctx context.Context, job *model.JobRun) error
}

type scheduleRequest struct {
	Kind      string
	Branch    string
	Commit    string
	Component string
}

func (r scheduleRequest) jobRun() (*model.JobRun, api.Action, error) {
	kind, err := api.ParseJobKind(r.Kind)
	if err != nil {
		return nil, "", err
	}
	branch := strings.TrimSpace(r.Branch)
	if branch == "" {
		return nil, "", errors.New("branch is required")
	}

	job := &model.JobRun{
		ID:     uuid.NewString(),
		Kind:   kind.String(),
		Branch: branch,
		Status: api.JobRunStatusQueued,
	}

	var action api.Action
	switch kind {
	case api.FullBuild:
		if r.Component != "" {
			return nil, "", errors.New("component is only valid for single-component jobs")
		}
		if strings.TrimSpace(r.Commit) != "" {
			return nil, "", errors.New("commit is only valid for single-component jobs, full builds test branch tips")
		}
		action = api.ActionProcessBuild
	case api.SingleComponent:
		if r.Component == "" {
			return nil, "", errors.New("component is required for single-component jobs")
		}
		job.Component = r.Component
		job.Commit = strings.TrimSpace(r.Commit)
		action = api.ActionRunTest
	default:
		return nil, "", fmt.Errorf("unsupported job kind %s", kind)
	}
	return job, action, nil
}

// schedule stores the job as queued before announcing it, so the worker
// always finds the record it is told to run.
func schedule(ctx context.Context, store jobCreator, p publisher, req scheduleRequest) (*model.JobRun, error) {
	job, action, err := req.jobRun()
	if err != nil {
		return nil, err
	}
	if err := store.CreateJobRun(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if _, err := publishMessage(ctx, p, api.Message{Action: action, ID: job.ID}); err != nil {
		return job, err
	}
	return job, nil
}

func scheduleCmd() *cobra.Command {
	var req scheduleRequest
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create a job run and queue it for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			cnf := loadConfig()
			orm, err := postgres.NewClient(postgres.FromKoanf(cnf.Postgres), logger)
			if err != nil {
				return fmt.Errorf("new postgres client: %w", err)
			}
			store := db.New(orm)
			if err := store.Initialize(); err != nil {
				return err
			}

			q, err := connect(cmd.Context(), cnf, logger)
			if err != nil {
				return err
			}
			defer q.Close()

			job, err := schedule(cmd.Context(), store, q, req)
			if err != nil {
				return err
			}
			logger.Info("job scheduled", zap.String("jobID", job.ID), zap.String("kind", job.Kind))
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Kind, "kind", api.FullBuild.String(), "job kind [full-build, single-component]")
	cmd.Flags().StringVar(&req.Branch, "branch", "master", "branch to verify")
	cmd.Flags().StringVar(&req.Commit, "commit", "", "commit to pin a single-component job to")
	cmd.Flags().StringVar(&req.Component, "component", "", "component name for single-component jobs")
	return cmd
}
