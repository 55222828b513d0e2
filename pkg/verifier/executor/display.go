package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/opengovern/componentci/pkg/verifier/config"
)

// Display is a virtual display server the browser harness renders into.
type Display interface {
	Start(ctx context.Context) (string, error)
	Stop() error
}

type Xvfb struct {
	binary     string
	number     int
	resolution string
	// tmpDir holds the X server lock file and the .X11-unix socket dir.
	tmpDir string
	logger *zap.Logger

	cmd    *exec.Cmd
	exited chan error
}

func NewXvfb(cfg config.DisplayConfig, logger *zap.Logger) *Xvfb {
	return &Xvfb{
		binary:     cfg.Binary,
		number:     cfg.Number,
		resolution: cfg.Resolution,
		tmpDir:     "/tmp",
		logger:     logger.Named("xvfb"),
	}
}

func (x *Xvfb) name() string {
	return fmt.Sprintf(":%d", x.number)
}

func (x *Xvfb) Start(ctx context.Context) (string, error) {
	if x.cmd != nil {
		return x.name(), nil
	}

	if err := x.clearStale(); err != nil {
		return "", err
	}

	cmd := exec.Command(x.binary, x.name(), "-screen", "0", x.resolution, "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start %s: %w", x.binary, err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	socket := x.socketPath()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case err := <-exited:
			return "", fmt.Errorf("%s exited during startup: %v", x.binary, err)
		default:
		}
		if _, err := os.Stat(socket); err == nil {
			break
		}
		select {
		case err := <-exited:
			return "", fmt.Errorf("%s exited during startup: %v", x.binary, err)
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			return "", ctx.Err()
		case <-deadline:
			_ = cmd.Process.Kill()
			return "", fmt.Errorf("%s did not create %s in time", x.binary, socket)
		case <-ticker.C:
		}
	}

	x.cmd = cmd
	x.exited = exited
	x.logger.Info("display started", zap.String("display", x.name()), zap.Int("pid", cmd.Process.Pid))
	return x.name(), nil
}

func (x *Xvfb) socketPath() string {
	return filepath.Join(x.tmpDir, ".X11-unix", fmt.Sprintf("X%d", x.number))
}

func (x *Xvfb) lockPath() string {
	return filepath.Join(x.tmpDir, fmt.Sprintf(".X%d-lock", x.number))
}

// clearStale removes the lock file and socket left by a dead server on the
// same display number. A live owner is an error.
func (x *Xvfb) clearStale() error {
	data, err := os.ReadFile(x.lockPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read display lock: %w", err)
	}
	if err == nil {
		if pid, perr := strconv.Atoi(strings.TrimSpace(string(data))); perr == nil && processAlive(pid) {
			return fmt.Errorf("display %s is held by pid %d", x.name(), pid)
		}
	}

	for _, path := range []string{x.lockPath(), x.socketPath()} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale %s: %w", path, err)
		}
		if err == nil {
			x.logger.Warn("removed stale display file", zap.String("path", path))
		}
	}
	return nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func (x *Xvfb) Stop() error {
	if x.cmd == nil {
		return nil
	}
	defer func() { x.cmd = nil }()

	if err := x.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stop %s: %w", x.binary, err)
	}
	select {
	case <-x.exited:
	case <-time.After(5 * time.Second):
		_ = x.cmd.Process.Kill()
		<-x.exited
	}
	x.logger.Info("display stopped", zap.String("display", x.name()))
	return nil
}

// Session owns one display for the lifetime of one job run. The display is
// started on first use and stopped once by Release.
type Session struct {
	display Display

	mu       sync.Mutex
	name     string
	started  bool
	released bool
}

// NewSession wraps display. A nil display gives a session without a DISPLAY.
func NewSession(display Display) *Session {
	return &Session{display: display}
}

func (s *Session) Acquire(ctx context.Context) (string, error) {
	if s == nil || s.display == nil {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return "", errors.New("display session already released")
	}
	if s.started {
		return s.name, nil
	}
	name, err := s.display.Start(ctx)
	if err != nil {
		return "", err
	}
	s.name = name
	s.started = true
	return name, nil
}

func (s *Session) Release() error {
	if s == nil || s.display == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	if !s.started {
		return nil
	}
	return s.display.Stop()
}
