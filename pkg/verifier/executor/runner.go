package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/api"
)

const (
	EnvDisplay   = "DISPLAY"
	EnvReportDir = "VERIFIER_REPORT_DIR"
	EnvEngines   = "VERIFIER_ENGINES"
	EnvTarget    = "VERIFIER_TARGET"
)

type RunRequest struct {
	Target  string
	Dir     string
	Display string
	Engines []string
}

// EngineOutput is the report file the harness writes for one engine.
type EngineOutput struct {
	Engine     string        `json:"engine"`
	StartedAt  time.Time     `json:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt"`
	Error      string        `json:"error,omitempty"`
	Logs       []api.LogLine `json:"logs"`
}

type RunOutput struct {
	ExitCode int
	Engines  []EngineOutput
	Output   string
}

func (o *RunOutput) empty() bool {
	if o == nil {
		return true
	}
	for _, e := range o.Engines {
		if len(e.Logs) > 0 {
			return false
		}
	}
	return true
}

// Runner is the browser test harness.
type Runner interface {
	Run(ctx context.Context, req RunRequest) (*RunOutput, error)
}

// CommandRunner runs the harness as a shell command and collects one JSON
// report per engine from a scratch directory.
type CommandRunner struct {
	shell   *Shell
	command string
	logger  *zap.Logger
}

func NewCommandRunner(shell *Shell, command string, logger *zap.Logger) *CommandRunner {
	return &CommandRunner{shell: shell, command: command, logger: logger.Named("harness")}
}

func (r *CommandRunner) Run(ctx context.Context, req RunRequest) (*RunOutput, error) {
	reportDir, err := os.MkdirTemp("", "verifier-report-")
	if err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(reportDir); err != nil {
			r.logger.Warn("failed to remove report dir", zap.String("dir", reportDir), zap.Error(err))
		}
	}()

	env := []string{
		EnvReportDir + "=" + reportDir,
		EnvEngines + "=" + strings.Join(req.Engines, ","),
		EnvTarget + "=" + req.Target,
	}
	if req.Display != "" {
		env = append(env, EnvDisplay+"="+req.Display)
	}

	res, err := r.shell.Exec(ctx, req.Dir, r.command, env)
	if err != nil {
		return nil, err
	}

	engines, err := readReports(reportDir)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		r.logger.Info("harness exited non-zero",
			zap.String("target", req.Target),
			zap.Int("exitCode", res.ExitCode),
			zap.Int("reports", len(engines)))
	}

	return &RunOutput{ExitCode: res.ExitCode, Engines: engines, Output: tail(res.Output)}, nil
}

func readReports(dir string) ([]EngineOutput, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read report dir: %w", err)
	}

	var engines []EngineOutput
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read report %s: %w", entry.Name(), err)
		}
		var eo EngineOutput
		if err := json.Unmarshal(data, &eo); err != nil {
			return nil, fmt.Errorf("parse report %s: %w", entry.Name(), err)
		}
		if eo.Engine == "" {
			eo.Engine = strings.TrimSuffix(entry.Name(), ".json")
		}
		engines = append(engines, eo)
	}

	sort.Slice(engines, func(i, j int) bool {
		return engines[i].Engine < engines[j].Engine
	})
	return engines, nil
}
