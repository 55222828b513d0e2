package gitops

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// Workspace allocates per-job working directories under a base path.
type Workspace struct {
	fs   afero.Fs
	base string
}

func NewWorkspace(fs afero.Fs, base string) *Workspace {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if base == "" {
		base = os.TempDir()
	}
	return &Workspace{fs: fs, base: base}
}

// Create allocates <base>/job-<jobID>-<random>.
func (w *Workspace) Create(jobID string) (*WorkingDirectory, error) {
	if err := w.fs.MkdirAll(w.base, 0o755); err != nil {
		return nil, &IOError{Op: "create workspace base", Path: w.base, Err: err}
	}

	prefix := "job-" + sanitize(jobID) + "-"
	path, err := afero.TempDir(w.fs, w.base, prefix)
	if err != nil {
		return nil, &IOError{Op: "create working directory", Path: w.base, Err: err}
	}

	if _, ok := w.fs.(*afero.OsFs); ok {
		if resolved, err := filepath.EvalSymlinks(path); err == nil {
			path = resolved
		}
	}

	return &WorkingDirectory{fs: w.fs, path: path}, nil
}

// WorkingDirectory is the ephemeral directory owned by exactly one job run.
type WorkingDirectory struct {
	fs   afero.Fs
	path string

	mu      sync.Mutex
	removed bool
}

func (d *WorkingDirectory) Path() string {
	return d.path
}

// TargetPath is the clone location of one target.
func (d *WorkingDirectory) TargetPath(name string) string {
	return filepath.Join(d.path, sanitize(name))
}

// Cleanup removes the directory recursively. Removing it twice is not an error.
func (d *WorkingDirectory) Cleanup() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.removed {
		return nil
	}
	exists, err := afero.DirExists(d.fs, d.path)
	if err != nil {
		return &IOError{Op: "stat working directory", Path: d.path, Err: err}
	}
	if exists {
		if err := d.fs.RemoveAll(d.path); err != nil {
			return &IOError{Op: "remove working directory", Path: d.path, Err: err}
		}
	}
	d.removed = true
	return nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}
