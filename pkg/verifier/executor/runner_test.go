package executor

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/api"
	"github.com/opengovern/componentci/pkg/verifier/config"
)

func TestShellRun(t *testing.T) {
	shell := NewShell(time.Minute, zap.NewNop())
	dir := t.TempDir()

	require.NoError(t, shell.Run(context.Background(), dir, "echo built > out.txt"))
	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))

	err = shell.Run(context.Background(), dir, "echo boom >&2; exit 3")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "boom", cmdErr.Output)

	assert.NoError(t, shell.Run(context.Background(), dir, ""))
}

func TestShellTimeout(t *testing.T) {
	shell := NewShell(50*time.Millisecond, zap.NewNop())

	_, err := shell.Exec(context.Background(), t.TempDir(), "sleep 5", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCommandRunnerReadsReports(t *testing.T) {
	script := strings.Join([]string{
		`printf '%s' '{"engine":"chrome","logs":[{"status":"passed","title":"renders"},{"status":"failed","title":"clicks"}]}' > "$VERIFIER_REPORT_DIR/chrome.json"`,
		`printf '%s' '{"logs":[]}' > "$VERIFIER_REPORT_DIR/firefox.json"`,
		`echo "$DISPLAY $VERIFIER_TARGET $VERIFIER_ENGINES" > env.txt`,
		`exit 1`,
	}, "\n")
	dir := t.TempDir()
	runner := NewCommandRunner(NewShell(time.Minute, zap.NewNop()), script, zap.NewNop())

	out, err := runner.Run(context.Background(), RunRequest{
		Target:  "widget-x",
		Dir:     dir,
		Display: ":99",
		Engines: []string{"chrome", "firefox"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, out.ExitCode)
	require.Len(t, out.Engines, 2)
	assert.Equal(t, "chrome", out.Engines[0].Engine)
	assert.Equal(t, api.LogStatusFailed, out.Engines[0].Logs[1].Status)
	assert.Equal(t, "firefox", out.Engines[1].Engine)

	env, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	require.NoError(t, err)
	assert.Equal(t, ":99 widget-x chrome,firefox\n", string(env))
}

func TestCommandRunnerRejectsBadReport(t *testing.T) {
	runner := NewCommandRunner(NewShell(time.Minute, zap.NewNop()),
		`echo 'not json' > "$VERIFIER_REPORT_DIR/chrome.json"`, zap.NewNop())

	_, err := runner.Run(context.Background(), RunRequest{Target: "widget-x", Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestXvfbMissingBinary(t *testing.T) {
	x := NewXvfb(config.DisplayConfig{Binary: "definitely-not-an-x-server", Number: 97, Resolution: "800x600x24"}, zap.NewNop())

	_, err := x.Start(context.Background())
	assert.Error(t, err)
	assert.NoError(t, x.Stop())
}

func TestTailKeepsValidUTF8(t *testing.T) {
	// 'é' is two bytes, so the cut lands inside a rune.
	out := []byte(strings.Repeat("é", outputTail) + "x")

	got := tail(out)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), outputTail)
	assert.True(t, strings.HasSuffix(got, "ééx"))
	assert.Equal(t, outputTail-1, len(got))

	assert.Equal(t, "ok", tail([]byte("  ok\n")))
}
