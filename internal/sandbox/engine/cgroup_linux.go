//go:build linux

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

// runCgroup is the per-run cgroup v2 directory.
type runCgroup struct {
	path string
	dir  *os.File
}

func createRunCgroup(root, name string) (*runCgroup, error) {
	if root == "" {
		return nil, appErr.New(appErr.SandboxSystemError).WithMessage("cgroup root is required")
	}
	path := filepath.Join(root, name)
	if err := os.Mkdir(path, 0o750); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSystemError, "create cgroup %s", path)
	}
	return &runCgroup{path: path}, nil
}

func (c *runCgroup) applyLimits(limits spec.ResourceLimit) error {
	pids := "max"
	if limits.Processes > 0 {
		pids = strconv.FormatInt(limits.Processes, 10)
	}
	if err := c.write("pids.max", pids); err != nil {
		return err
	}
	if limits.MemoryBytes > 0 {
		if err := c.write("memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return err
		}
		// Absent without swap accounting.
		_ = c.write("memory.swap.max", "0")
	}
	return c.write("cpu.max", "100000 100000")
}

// openDir returns the directory fd used to clone straight into the cgroup.
func (c *runCgroup) openDir() (int, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return -1, appErr.Wrapf(err, appErr.SandboxSystemError, "open cgroup %s", c.path)
	}
	c.dir = f
	return int(f.Fd()), nil
}

func (c *runCgroup) closeDir() {
	if c != nil && c.dir != nil {
		_ = c.dir.Close()
		c.dir = nil
	}
}

func (c *runCgroup) kill() error {
	if c == nil {
		return nil
	}
	killPath := filepath.Join(c.path, "cgroup.kill")
	if _, err := os.Stat(killPath); err != nil {
		return err
	}
	return os.WriteFile(killPath, []byte("1"), 0o600)
}

func (c *runCgroup) oomKilled() bool {
	if c == nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == "oom_kill" {
			val, _ := strconv.ParseInt(fields[1], 10, 64)
			return val > 0
		}
	}
	return false
}

// remove kills anything left and deletes the directory. A cgroup that
// still has members after the retries is left for the reaper.
func (c *runCgroup) remove() error {
	if c == nil {
		return nil
	}
	c.closeDir()
	_ = c.kill()
	var err error
	for i := 0; i < cgroupRemoveRetries; i++ {
		if err = os.Remove(c.path); err == nil || os.IsNotExist(err) {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("remove cgroup %s: %w", c.path, err)
}

func (c *runCgroup) write(name, value string) error {
	if err := os.WriteFile(filepath.Join(c.path, name), []byte(value), 0o640); err != nil {
		return appErr.Wrapf(err, appErr.SandboxSystemError, "write %s", name)
	}
	return nil
}

// enableControllers delegates the controllers a run cgroup needs.
func enableControllers(root string) error {
	return os.WriteFile(filepath.Join(root, "cgroup.subtree_control"), []byte("+memory +pids +cpu"), 0o640)
}
