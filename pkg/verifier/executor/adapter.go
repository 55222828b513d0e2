// Package executor runs the browser test harness against one target and turns
// its per-engine output into a report.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/utils"
	"github.com/opengovern/componentci/pkg/verifier/api"
)

type Adapter struct {
	runner  Runner
	engines []string
	logger  *zap.Logger
	now     func() time.Time
}

// NewAdapter tracks the given engines. With no engines configured, every
// engine the harness reports on is tracked.
func NewAdapter(runner Runner, engines []string, logger *zap.Logger) *Adapter {
	return &Adapter{
		runner:  runner,
		engines: utils.Dedup(utils.ToLowerStringSlice(engines)),
		logger:  logger.Named("executor"),
		now:     time.Now,
	}
}

// Execute runs the harness for target in dir. A run that records no log line
// for any engine is retried once; a second empty run is accepted as final.
func (a *Adapter) Execute(ctx context.Context, session *Session, target api.Target, dir string) (*api.Report, error) {
	display, err := session.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire display: %w", err)
	}

	req := RunRequest{
		Target:  target.Name,
		Dir:     dir,
		Display: display,
		Engines: a.engines,
	}

	var out *RunOutput
	alreadyRetried := false
	for {
		out, err = a.runner.Run(ctx, req)
		if err != nil {
			return nil, err
		}
		if !out.empty() || alreadyRetried {
			break
		}
		alreadyRetried = true
		a.logger.Warn("harness recorded no results, retrying once",
			zap.String("target", target.Name),
			zap.Int("exitCode", out.ExitCode))
	}

	report := a.aggregate(out)
	if alreadyRetried {
		report.RetryCount = 1
	}
	return report, nil
}

func (a *Adapter) aggregate(out *RunOutput) *api.Report {
	byEngine := make(map[string]EngineOutput, len(out.Engines))
	var reported []string
	for _, eo := range out.Engines {
		name := strings.ToLower(eo.Engine)
		byEngine[name] = eo
		reported = append(reported, name)
	}

	tracked := a.engines
	if len(tracked) == 0 {
		tracked = utils.Dedup(reported)
	}

	report := &api.Report{Passing: true, EndTime: a.now()}
	for _, name := range tracked {
		res := api.EngineResult{Engine: name, Status: api.EngineStatusSkipped}
		if eo, ok := byEngine[name]; ok {
			res.Logs = eo.Logs
			res.StartedAt = eo.StartedAt
			res.FinishedAt = eo.FinishedAt
			res.ErrorMessage = eo.Error
			for _, line := range eo.Logs {
				switch line.Status {
				case api.LogStatusPassed:
					res.Passed++
				case api.LogStatusFailed:
					res.Failed++
				}
			}
			switch {
			case res.Failed > 0 || res.ErrorMessage != "":
				res.Status = api.EngineStatusFailed
			case len(res.Logs) > 0:
				res.Status = api.EngineStatusPassed
			}
		}

		if res.Status == api.EngineStatusFailed {
			report.Passing = false
		}
		report.PassedTotal += res.Passed
		report.FailedTotal += res.Failed
		report.Engines = append(report.Engines, res)
	}
	return report
}
