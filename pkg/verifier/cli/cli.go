// Package cli holds the operator commands that schedule and inspect verifier jobs.
package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/jq"
	"github.com/opengovern/componentci/pkg/koanf"
	"github.com/opengovern/componentci/pkg/verifier"
	"github.com/opengovern/componentci/pkg/verifier/api"
)

type publisher interface {
	Produce(ctx context.Context, topic string, data []byte, msgID string) (uint64, error)
}

var (
	natsURL   string
	workerURL string
)

func Command() *cobra.Command {
	root := &cobra.Command{
		Use:          "verifier-cli",
		Short:        "Schedule and inspect component verification jobs",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&natsURL, "nats-url", "", "NATS server url, overrides the configured one")
	root.PersistentFlags().StringVar(&workerURL, "worker-url", "", "worker status url, overrides the configured one")

	root.AddCommand(scheduleCmd(), removeCmd(), publishCmd(), queueCmd(), jobCmd())
	return root
}

func loadConfig() Config {
	cnf := koanf.Provide("verifier-cli", DefaultConfig())
	if natsURL != "" {
		cnf.NATS.URL = natsURL
	}
	if workerURL != "" {
		cnf.WorkerURL = workerURL
	}
	return cnf
}

func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// connect opens the job queue and makes sure the jobs stream exists.
func connect(ctx context.Context, cnf Config, logger *zap.Logger) (*jq.JobQueue, error) {
	q, err := jq.New(cnf.NATS.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	if err := q.Stream(ctx, verifier.StreamName, "verifier job queue", []string{verifier.JobsQueueName}, 1000); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func publishMessage(ctx context.Context, p publisher, msg api.Message) (uint64, error) {
	if err := msg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid message: %w", err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, err
	}
	msgID := fmt.Sprintf("%s-%s-%s", msg.Action, msg.ID, uuid.NewString())
	seq, err := p.Produce(ctx, verifier.JobsQueueName, data, msgID)
	if err != nil {
		return 0, fmt.Errorf("publish %s %s: %w", msg.Action, msg.ID, err)
	}
	return seq, nil
}

func send(cmd *cobra.Command, msg api.Message) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	q, err := connect(cmd.Context(), loadConfig(), logger)
	if err != nil {
		return err
	}
	defer q.Close()

	seq, err := publishMessage(cmd.Context(), q, msg)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s published (seq %d)\n", msg.Action, msg.ID, seq)
	return nil
}

func removeCmd() *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Drop a queued job or abort the running one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := api.ActionRemoveTest
			if build {
				action = api.ActionRemoveBuild
			}
			return send(cmd, api.Message{Action: action, ID: args[0]})
		},
	}
	cmd.Flags().BoolVar(&build, "build", false, "send remove-build instead of removeTest")
	return cmd
}

func publishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <action> <job-id>",
		Short: "Publish a raw queue message for an existing job",
		Long:  "Publish a raw queue message. Action is one of runTest, removeTest, processBuild, remove-build.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send(cmd, api.Message{Action: api.Action(args[0]), ID: args[1]})
		},
	}
}
