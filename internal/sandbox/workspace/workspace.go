// Package workspace owns the per-request scratch directories and their
// guaranteed removal.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	dirPrefix  = "ws-"
	rootfsDir  = "rootfs"
	sandboxDir = "sandbox"
)

// Workspace is one request's private directory tree.
type Workspace struct {
	ID             string
	OwnerRequestID string
	Root           string
	CreatedAt      time.Time
}

// RootFS is the directory the child is chrooted into.
func (w *Workspace) RootFS() string { return filepath.Join(w.Root, rootfsDir) }

// CodeDir holds the snippet and its launch artifacts.
func (w *Workspace) CodeDir() string { return filepath.Join(w.Root, rootfsDir, sandboxDir) }

// Config controls where workspaces are created.
type Config struct {
	Root string
}

// Manager creates and removes workspaces and tracks the live set so the
// reaper never touches an in-use directory.
type Manager struct {
	root   string
	mu     sync.Mutex
	active map[string]*Workspace
}

// NewManager prepares the workspace root.
func NewManager(cfg Config) (*Manager, error) {
	root := cfg.Root
	if root == "" {
		root = filepath.Join(os.TempDir(), "coderunner")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs, active: make(map[string]*Workspace)}, nil
}

// Root returns the absolute workspace root.
func (m *Manager) Root() string { return m.root }

// Acquire creates a fresh, exclusively owned workspace.
func (m *Manager) Acquire(ctx context.Context, requestID string) (*Workspace, error) {
	if err := ctx.Err(); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxResourceExhausted, "workspace acquire canceled")
	}
	id := dirPrefix + uuid.NewString()
	ws := &Workspace{
		ID:             id,
		OwnerRequestID: requestID,
		Root:           filepath.Join(m.root, id),
		CreatedAt:      time.Now(),
	}
	// Registered before the directory exists so a concurrent sweep never
	// sees it untracked.
	m.mu.Lock()
	m.active[id] = ws
	m.mu.Unlock()

	// Mkdir fails if the name exists, so two requests can never share a tree.
	if err := os.Mkdir(ws.Root, 0o700); err != nil {
		m.forget(id)
		return nil, appErr.Wrapf(err, appErr.SandboxResourceExhausted, "create workspace")
	}
	if err := os.MkdirAll(ws.CodeDir(), 0o755); err != nil {
		_ = os.RemoveAll(ws.Root)
		m.forget(id)
		return nil, appErr.Wrapf(err, appErr.SandboxResourceExhausted, "create workspace layout")
	}

	logger.Debug(ctx, "workspace acquired", zap.String("workspace", id))
	return ws, nil
}

// Release removes the workspace. It is safe to call more than once. A
// failure leaves the directory for the reaper and is returned for logging.
func (m *Manager) Release(ctx context.Context, ws *Workspace) error {
	if ws == nil {
		return nil
	}
	m.forget(ws.ID)

	if err := removeTree(ws.Root); err != nil {
		logger.Warn(ctx, "workspace removal failed, deferring to reaper",
			zap.String("workspace", ws.ID), zap.Error(err))
		return appErr.Wrapf(err, appErr.SandboxSystemError, "remove workspace %s", ws.ID)
	}
	logger.Debug(ctx, "workspace released", zap.String("workspace", ws.ID))
	return nil
}

// With acquires a workspace, runs fn and releases on every exit path.
// A panic in fn is re-raised after the release.
func (m *Manager) With(ctx context.Context, requestID string, fn func(*Workspace) error) error {
	ws, err := m.Acquire(ctx, requestID)
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Release(context.WithoutCancel(ctx), ws)
	}()
	return fn(ws)
}

// Active returns the number of live workspaces.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Ready verifies the root is still a writable directory.
func (m *Manager) Ready() error {
	marker, err := os.CreateTemp(m.root, ".writable-")
	if err != nil {
		return fmt.Errorf("workspace root not writable: %w", err)
	}
	name := marker.Name()
	_ = marker.Close()
	return os.Remove(name)
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}

func (m *Manager) isActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}

// removeTree deletes path, restoring owner permissions on directories the
// child may have locked down before retrying once.
func removeTree(path string) error {
	err := os.RemoveAll(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrPermission) {
		if _, statErr := os.Lstat(path); errors.Is(statErr, fs.ErrNotExist) {
			return nil
		}
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if d != nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(path)
}

func isWorkspaceName(name string) bool {
	if !strings.HasPrefix(name, dirPrefix) {
		return false
	}
	_, err := uuid.Parse(strings.TrimPrefix(name, dirPrefix))
	return err == nil
}
