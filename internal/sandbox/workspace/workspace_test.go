package workspace

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	appErr "coderunner/pkg/errors"

	"github.com/google/uuid"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{Root: t.TempDir()})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestAcquireRelease(t *testing.T) {
	cases := []struct {
		name   string
		run    func(t *testing.T, m *Manager, ws *Workspace)
		verify func(t *testing.T, m *Manager, ws *Workspace)
	}{
		{
			name: "empty workspace",
			run:  func(t *testing.T, m *Manager, ws *Workspace) {},
		},
		{
			name: "workspace with files",
			run: func(t *testing.T, m *Manager, ws *Workspace) {
				if err := os.WriteFile(filepath.Join(ws.CodeDir(), "main.py"), []byte("print(1)"), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
			},
		},
		{
			name: "locked directory",
			run: func(t *testing.T, m *Manager, ws *Workspace) {
				dir := filepath.Join(ws.CodeDir(), "locked")
				if err := os.MkdirAll(filepath.Join(dir, "inner"), 0o755); err != nil {
					t.Fatalf("mkdir: %v", err)
				}
				if err := os.WriteFile(filepath.Join(dir, "inner", "f"), []byte("x"), 0o644); err != nil {
					t.Fatalf("write: %v", err)
				}
				if err := os.Chmod(dir, 0o500); err != nil {
					t.Fatalf("chmod: %v", err)
				}
			},
		},
		{
			name: "double release",
			run:  func(t *testing.T, m *Manager, ws *Workspace) {},
			verify: func(t *testing.T, m *Manager, ws *Workspace) {
				if err := m.Release(context.Background(), ws); err != nil {
					t.Fatalf("second release: %v", err)
				}
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestManager(t)
			ws, err := m.Acquire(context.Background(), "req-1")
			if err != nil {
				t.Fatalf("acquire: %v", err)
			}
			if info, err := os.Stat(ws.Root); err != nil || info.Mode().Perm() != 0o700 {
				t.Fatalf("workspace root missing or wrong mode: %v %v", info, err)
			}
			if m.Active() != 1 {
				t.Fatalf("active = %d", m.Active())
			}
			tc.run(t, m, ws)
			if err := m.Release(context.Background(), ws); err != nil {
				t.Fatalf("release: %v", err)
			}
			if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
				t.Fatalf("workspace still exists: %v", err)
			}
			if m.Active() != 0 {
				t.Fatalf("active = %d after release", m.Active())
			}
			if tc.verify != nil {
				tc.verify(t, m, ws)
			}
		})
	}
}

func TestAcquireCanceledContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := m.Acquire(ctx, "req"); !appErr.Is(err, appErr.SandboxResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
}

func TestAcquireRootGone(t *testing.T) {
	m := newTestManager(t)
	if err := os.RemoveAll(m.Root()); err != nil {
		t.Fatalf("remove root: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "req"); !appErr.Is(err, appErr.SandboxResourceExhausted) {
		t.Fatalf("expected resource exhausted, got %v", err)
	}
	if err := m.Ready(); err == nil {
		t.Fatalf("expected Ready to fail")
	}
}

func TestConcurrentWorkspacesAreDisjoint(t *testing.T) {
	m := newTestManager(t)
	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		roots = make(map[string]struct{})
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.With(context.Background(), "req", func(ws *Workspace) error {
				mu.Lock()
				roots[ws.Root] = struct{}{}
				mu.Unlock()
				return os.WriteFile(filepath.Join(ws.CodeDir(), "main.py"), []byte(ws.ID), 0o644)
			})
			if err != nil {
				t.Errorf("with: %v", err)
			}
		}()
	}
	wg.Wait()
	if len(roots) != n {
		t.Fatalf("expected %d distinct workspaces, got %d", n, len(roots))
	}
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root, found %d entries", len(entries))
	}
}

func TestWithReleasesOnPanic(t *testing.T) {
	m := newTestManager(t)
	var root string
	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate")
			}
		}()
		_ = m.With(context.Background(), "req", func(ws *Workspace) error {
			root = ws.Root
			panic("boom")
		})
	}()
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("workspace survived panic: %v", err)
	}
}

func TestReaperSweep(t *testing.T) {
	m := newTestManager(t)
	cgroupRoot := t.TempDir()
	r := NewReaper(m, ReaperConfig{MaxAge: time.Minute, CgroupRoot: cgroupRoot})

	live, err := m.Acquire(context.Background(), "live")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	stale := filepath.Join(m.Root(), dirPrefix+uuid.NewString())
	fresh := filepath.Join(m.Root(), dirPrefix+uuid.NewString())
	foreign := filepath.Join(m.Root(), "keep-me")
	staleCgroup := filepath.Join(cgroupRoot, dirPrefix+uuid.NewString())
	for _, dir := range []string{stale, fresh, foreign, staleCgroup} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
	}
	old := time.Now().Add(-time.Hour)
	_ = os.Chtimes(stale, old, old)
	_ = os.Chtimes(staleCgroup, old, old)

	stats := r.Sweep(context.Background(), false)
	if stats.Workspaces != 1 || stats.Cgroups != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	for _, gone := range []string{stale, staleCgroup} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed", gone)
		}
	}
	for _, kept := range []string{fresh, foreign, live.Root} {
		if _, err := os.Stat(kept); err != nil {
			t.Fatalf("%s should be kept: %v", kept, err)
		}
	}

	stats = r.Sweep(context.Background(), true)
	if stats.Workspaces != 1 {
		t.Fatalf("startup sweep should remove the fresh leftover, got %+v", stats)
	}
	if _, err := os.Stat(live.Root); err != nil {
		t.Fatalf("startup sweep removed a live workspace")
	}
	_ = m.Release(context.Background(), live)
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	m := newTestManager(t)
	r := NewReaper(m, ReaperConfig{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop")
	}
}

func TestStartupSweepSparesConcurrentAcquire(t *testing.T) {
	m := newTestManager(t)
	r := NewReaper(m, ReaperConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			r.Sweep(ctx, true)
		}
	}()

	for i := 0; i < 500; i++ {
		ws, err := m.Acquire(context.Background(), "req")
		if err != nil {
			cancel()
			wg.Wait()
			t.Fatalf("acquire: %v", err)
		}
		if _, err := os.Stat(ws.CodeDir()); err != nil {
			cancel()
			wg.Wait()
			t.Fatalf("owned workspace removed by sweep on iteration %d: %v", i, err)
		}
		_ = m.Release(context.Background(), ws)
	}
	cancel()
	wg.Wait()
	if m.Active() != 0 {
		t.Fatalf("active = %d", m.Active())
	}
}
