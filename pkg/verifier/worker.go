package verifier

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opengovern/componentci/pkg/httpserver"
	"github.com/opengovern/componentci/pkg/jq"
	"github.com/opengovern/componentci/pkg/postgres"
	"github.com/opengovern/componentci/pkg/utils"
	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/catalog"
	"github.com/opengovern/componentci/pkg/verifier/config"
	"github.com/opengovern/componentci/pkg/verifier/db"
	"github.com/opengovern/componentci/pkg/verifier/dispatch"
	"github.com/opengovern/componentci/pkg/verifier/executor"
	"github.com/opengovern/componentci/pkg/verifier/gitops"
	"github.com/opengovern/componentci/pkg/verifier/pipeline"
)

const (
	StreamName    = "verifier"
	JobsQueueName = "verifier-jobs-queue"
	ConsumerName  = "verifier-worker"

	// shutdownTimeout bounds the wait for the running job on shutdown.
	shutdownTimeout = 2 * time.Minute
)

type jobRouter interface {
	RouteRun(requestID string)
	Remove(jobID string) bool
}

type Worker struct {
	config config.WorkerConfig
	logger *zap.Logger
	jq     *jq.JobQueue
	db     db.Database
	queue  *dispatch.Queue
	pusher *push.Pusher
}

func NewWorker(ctx context.Context, cfg config.WorkerConfig, logger *zap.Logger) (w *Worker, err error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("'id' must be set to a non empty string")
	}

	w = &Worker{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			w.Stop()
		}
	}()

	orm, err := postgres.NewClient(postgres.FromKoanf(cfg.Postgres), logger)
	if err != nil {
		return nil, fmt.Errorf("new postgres client: %w", err)
	}
	w.db = db.New(orm)
	if err := w.db.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	logger.Info("connected to the postgres database", zap.String("database", cfg.Postgres.DB))

	components, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded component catalog", zap.Int("components", len(components.Components)))

	gitOpts := gitops.Options{
		RemoteName: cfg.Git.RemoteName,
		Auth:       gitops.BasicAuth(cfg.Git.Username, cfg.Git.Token),
		Identity:   gitops.Identity{Name: cfg.Git.BotName, Email: cfg.Git.BotEmail},
		Logger:     logger,
	}
	if cfg.Git.SignKeyPath != "" {
		signer, err := gitops.LoadArmoredKeySigner(cfg.Git.SignKeyPath, cfg.Git.SignKeyPass)
		if err != nil {
			return nil, err
		}
		gitOpts.Signer = signer
	}

	shell := executor.NewShell(cfg.Pipeline.StageTimeout, logger)
	adapter := executor.NewAdapter(
		executor.NewCommandRunner(shell, cfg.Pipeline.TestCommand, logger),
		cfg.Pipeline.Engines,
		logger,
	)

	var display func() executor.Display
	if cfg.Display.Enabled {
		display = func() executor.Display {
			return executor.NewXvfb(cfg.Display, logger)
		}
	}

	runner, err := pipeline.NewRunner(pipeline.Options{
		Store:    w.db,
		Catalog:  components,
		FS:       afero.NewOsFs(),
		Repos:    pipeline.GitRepos(gitOpts),
		Commands: shell,
		Executor: adapter,
		Display:  display,
		Pipeline: cfg.Pipeline,
		Release:  cfg.Release,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	// Jobs outlive the signal context; Run stops them through Shutdown.
	w.queue = dispatch.New(context.WithoutCancel(ctx), dispatch.PipelineStarter(runner), logger)
	w.queue.OnTerminal(w.onTerminal)

	if cfg.Prometheus.PushAddress != "" {
		w.pusher = push.New(cfg.Prometheus.PushAddress, cfg.ID)
		w.pusher.Collector(pipeline.JobsCount).
			Collector(pipeline.JobsDuration).
			Collector(pipeline.TargetsCount).
			Collector(pipeline.StageDuration).
			Collector(MessagesCount).
			Collector(QueueDepth)
	}

	w.jq, err = jq.New(cfg.NATS.URL, logger)
	if err != nil {
		return nil, err
	}
	if err := w.jq.Stream(ctx, StreamName, "verifier job queue", []string{JobsQueueName}, 1000); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consumeCtx, err := w.jq.Consume(ctx, ConsumerName, StreamName, []string{JobsQueueName}, ConsumerName,
			func(msg jetstream.Msg) {
				// Jobs may run for hours, longer than any ack wait.
				if err := msg.Ack(); err != nil {
					w.logger.Error("failed to ack the message", zap.Error(err))
				}
				handleMessage(w.logger, w.queue, msg.Data())
			})
		if err != nil {
			return err
		}

		w.logger.Info("waiting for messages", zap.String("subject", JobsQueueName))
		<-ctx.Done()
		consumeCtx.Drain()
		consumeCtx.Stop()
		return nil
	})

	g.Go(func() error {
		return httpserver.RegisterAndStart(ctx, w.logger, w.config.Http.Address, httpserver.TracingConfig{
			AgentHost:   w.config.Jaeger.AgentHost,
			ServiceName: w.config.Jaeger.ServiceName,
		}, NewHttpHandler(w.db, w.queue, w.logger))
	})

	utils.EnsureRunGoroutine(w.logger, func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			QueueDepth.Set(float64(w.queue.Len()))
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})

	err := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := w.queue.Shutdown(shutdownCtx); serr != nil {
		w.logger.Error("running job did not stop cleanly", zap.Error(serr))
	}
	return err
}

// handleMessage routes one inbound payload. Bad payloads are dropped.
func handleMessage(logger *zap.Logger, router jobRouter, data []byte) {
	msg, err := api.ParseMessage(data)
	if err != nil {
		MessagesCount.WithLabelValues(string(msg.Action), "invalid").Inc()
		logger.Error("dropping message", zap.ByteString("data", data), zap.Error(err))
		return
	}

	logger.Info("received message", zap.String("action", string(msg.Action)), zap.String("id", msg.ID))
	if msg.Action.IsRun() {
		router.RouteRun(msg.ID)
		MessagesCount.WithLabelValues(string(msg.Action), "routed").Inc()
		return
	}
	if !router.Remove(msg.ID) {
		logger.Info("nothing to remove", zap.String("id", msg.ID))
		MessagesCount.WithLabelValues(string(msg.Action), "ignored").Inc()
		return
	}
	MessagesCount.WithLabelValues(string(msg.Action), "removed").Inc()
}

func (w *Worker) onTerminal(jobID string, outcome pipeline.Outcome) {
	QueueDepth.Set(float64(w.queue.Len()))
	if w.pusher == nil {
		return
	}
	if err := w.pusher.Push(); err != nil {
		w.logger.Error("failed to push metrics", zap.String("jobID", jobID), zap.Error(err))
	}
}

func (w *Worker) Stop() {
	if w.pusher != nil {
		if err := w.pusher.Push(); err != nil {
			w.logger.Error("failed to push metrics", zap.Error(err))
		}
	}
	if w.jq != nil {
		if err := w.jq.Close(); err != nil {
			w.logger.Error("failed to close job queue", zap.Error(err))
		}
	}
}
