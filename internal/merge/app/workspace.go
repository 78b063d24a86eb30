package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	errprocess "video_merge_service/pkg/err"
	"video_merge_service/pkg/logger"
	"video_merge_service/pkg/metrics"

	"go.uber.org/zap"
)

const workspacePrefix = "job_"

// 讓 workspace test 可替換檔案系統操作
var (
	makeDir = func(path string) error {
		return os.Mkdir(path, 0o755)
	}

	removePath = func(path string) error {
		return os.Remove(path)
	}

	removeTree = func(path string) error {
		return os.RemoveAll(path)
	}
)

// WorkspaceManager hands out one isolated scratch directory per job under root.
type WorkspaceManager struct {
	root string
}

// NewWorkspaceManager create a manager rooted at root
func NewWorkspaceManager(root string) *WorkspaceManager {
	return &WorkspaceManager{root: root}
}

// Open creates the job's workspace. The directory name derives from the job
// id only, and creation fails instead of reusing an existing directory.
func (m *WorkspaceManager) Open(jobID string) (*Workspace, error) {
	if jobID == "" || strings.ContainsAny(jobID, `/\`) || jobID == "." || jobID == ".." {
		return nil, errprocess.Resource("failed to create workspace", fmt.Errorf("invalid job id %q", jobID))
	}

	root, err := filepath.Abs(m.root)
	if err != nil {
		return nil, errprocess.Resource("failed to create workspace", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errprocess.Resource("failed to create workspace", err)
	}

	dir := filepath.Join(root, workspacePrefix+jobID)
	if err := makeDir(dir); err != nil {
		return nil, errprocess.Resource("failed to create workspace", err)
	}

	return &Workspace{
		jobID: jobID,
		dir:   dir,
		log:   logger.Log.ForJob(jobID),
	}, nil
}

// CleanStale removes workspaces older than maxAge, left behind by a process
// that died mid job. It returns how many were removed.
func (m *WorkspaceManager) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read workspace root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), workspacePrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, e.Name())
		if err := removeTree(path); err != nil {
			logger.Log.Warn("stale workspace not removed", zap.String("path", path), zap.Error(err))
			metrics.CleanupFailuresTotal.Inc()
			continue
		}
		removed++
	}
	return removed, nil
}

// Workspace owns every path created for one job. Close removes them all,
// exactly once, and never fails the caller.
type Workspace struct {
	jobID string
	dir   string
	log   *logger.LogInfo

	mu     sync.Mutex
	paths  []string
	closed bool
	once   sync.Once
}

// Dir absolute workspace directory
func (w *Workspace) Dir() string {
	return w.dir
}

// Register records path for removal on Close. Only paths inside the
// workspace are accepted.
func (w *Workspace) Register(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errprocess.Resource("failed to register workspace file", err)
	}
	rel, err := filepath.Rel(w.dir, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errprocess.Resource("failed to register workspace file", fmt.Errorf("%s is outside workspace %s", path, w.dir))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errprocess.Resource("failed to register workspace file", fmt.Errorf("workspace %s already closed", w.dir))
	}
	w.paths = append(w.paths, abs)
	return nil
}

// File returns a registered path for name inside the workspace
func (w *Workspace) File(name string) (string, error) {
	path := filepath.Join(w.dir, name)
	if err := w.Register(path); err != nil {
		return "", err
	}
	return path, nil
}

// Close removes registered paths newest first, then the directory itself.
// Failures are logged as cleanup warnings.
func (w *Workspace) Close() {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		paths := w.paths
		w.paths = nil
		w.mu.Unlock()

		for i := len(paths) - 1; i >= 0; i-- {
			if err := removePath(paths[i]); err != nil && !errors.Is(err, os.ErrNotExist) {
				w.warn(paths[i], err)
			}
		}
		if err := removeTree(w.dir); err != nil {
			w.warn(w.dir, err)
		}
	})
}

func (w *Workspace) warn(path string, err error) {
	metrics.CleanupFailuresTotal.Inc()
	w.log.Warn("workspace cleanup failed",
		zap.String("kind", string(errprocess.KindCleanup)),
		zap.String("path", path),
		zap.Error(errprocess.Cleanup(path, err)),
	)
}
