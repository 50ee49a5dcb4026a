package workspace

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// ReaperConfig controls the crash backstop sweep.
type ReaperConfig struct {
	Interval time.Duration
	// MaxAge is how old an untracked workspace must be before it is removed.
	MaxAge time.Duration
	// CgroupRoot, when set, is swept for per-run cgroups left behind.
	CgroupRoot string
}

// Reaper removes workspaces and cgroups that no live request owns.
type Reaper struct {
	manager *Manager
	cfg     ReaperConfig
	now     func() time.Time
}

// NewReaper builds a reaper bound to manager's active set.
func NewReaper(manager *Manager, cfg ReaperConfig) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Minute
	}
	return &Reaper{manager: manager, cfg: cfg, now: time.Now}
}

// SweepStats reports what one sweep removed.
type SweepStats struct {
	Workspaces int
	Cgroups    int
	Failures   int
}

// Sweep removes stale entries. With startup set every untracked entry is
// stale, since nothing from a previous process can still be in use.
func (r *Reaper) Sweep(ctx context.Context, startup bool) SweepStats {
	var stats SweepStats
	cutoff := r.now().Add(-r.cfg.MaxAge)

	entries, err := os.ReadDir(r.manager.Root())
	if err != nil {
		logger.Warn(ctx, "reaper cannot list workspace root", zap.Error(err))
		stats.Failures++
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !isWorkspaceName(name) || r.manager.isActive(name) {
			continue
		}
		if !startup && !olderThan(entry, cutoff) {
			continue
		}
		if err := removeTree(filepath.Join(r.manager.Root(), name)); err != nil {
			logger.Warn(ctx, "reaper failed to remove workspace", zap.String("workspace", name), zap.Error(err))
			stats.Failures++
			continue
		}
		stats.Workspaces++
	}

	if r.cfg.CgroupRoot != "" {
		r.sweepCgroups(ctx, startup, cutoff, &stats)
	}
	if stats.Workspaces > 0 || stats.Cgroups > 0 || stats.Failures > 0 {
		logger.Info(ctx, "reaper sweep finished",
			zap.Bool("startup", startup),
			zap.Int("workspaces", stats.Workspaces),
			zap.Int("cgroups", stats.Cgroups),
			zap.Int("failures", stats.Failures),
		)
	}
	return stats
}

func (r *Reaper) sweepCgroups(ctx context.Context, startup bool, cutoff time.Time, stats *SweepStats) {
	entries, err := os.ReadDir(r.cfg.CgroupRoot)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn(ctx, "reaper cannot list cgroup root", zap.Error(err))
			stats.Failures++
		}
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() || !isWorkspaceName(name) || r.manager.isActive(name) {
			continue
		}
		if !startup && !olderThan(entry, cutoff) {
			continue
		}
		path := filepath.Join(r.cfg.CgroupRoot, name)
		killPath := filepath.Join(path, "cgroup.kill")
		if _, err := os.Stat(killPath); err == nil {
			_ = os.WriteFile(killPath, []byte("1"), 0o600)
		}
		if err := os.Remove(path); err != nil {
			logger.Warn(ctx, "reaper failed to remove cgroup", zap.String("cgroup", path), zap.Error(err))
			stats.Failures++
			continue
		}
		stats.Cgroups++
	}
}

// Run sweeps on every tick until ctx ends. The startup sweep is the
// caller's job and must finish before requests are admitted.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx, false)
		}
	}
}

func olderThan(entry os.DirEntry, cutoff time.Time) bool {
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return info.ModTime().Before(cutoff)
}
