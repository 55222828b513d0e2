package executor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/config"
)

func newTestXvfb(t *testing.T, binary string) *Xvfb {
	t.Helper()
	x := NewXvfb(config.DisplayConfig{Binary: binary, Number: 42, Resolution: "640x480x24"}, zap.NewNop())
	x.tmpDir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Dir(x.socketPath()), 0o755))
	return x
}

func deadPid(t *testing.T) int {
	t.Helper()
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true is not installed")
	}
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())
	return cmd.Process.Pid
}

func TestStaleSocketIsNotReady(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false is not installed")
	}
	x := newTestXvfb(t, "false")
	require.NoError(t, os.WriteFile(x.lockPath(), []byte(strconv.Itoa(deadPid(t))), 0o644))
	require.NoError(t, os.WriteFile(x.socketPath(), nil, 0o644))

	_, err := x.Start(context.Background())
	assert.ErrorContains(t, err, "exited during startup")
	assert.NoFileExists(t, x.lockPath())
}

func TestClearStaleRemovesDeadServerFiles(t *testing.T) {
	x := newTestXvfb(t, "Xvfb")
	require.NoError(t, os.WriteFile(x.lockPath(), []byte("      "+strconv.Itoa(deadPid(t))+"\n"), 0o644))
	require.NoError(t, os.WriteFile(x.socketPath(), nil, 0o644))

	require.NoError(t, x.clearStale())
	assert.NoFileExists(t, x.lockPath())
	assert.NoFileExists(t, x.socketPath())

	require.NoError(t, x.clearStale(), "nothing to remove is fine")
}

func TestClearStaleKeepsLiveServer(t *testing.T) {
	x := newTestXvfb(t, "Xvfb")
	require.NoError(t, os.WriteFile(x.lockPath(), []byte(strconv.Itoa(os.Getpid())), 0o644))

	err := x.clearStale()
	assert.ErrorContains(t, err, "is held by pid")
	assert.FileExists(t, x.lockPath())
}
