//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"coderunner/internal/sandbox/result"
	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	killNone int32 = iota
	killTimeout
	killCanceled
	killOutput
)

type linuxEngine struct {
	cfg Config
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	cfg.HelperPath = resolveHelper(cfg.HelperPath)
	if cfg.EnableCgroup {
		if cfg.CgroupRoot == "" {
			return nil, appErr.ValidationError("sandbox.cgroupRoot", "required when cgroups are enabled")
		}
		if err := os.MkdirAll(cfg.CgroupRoot, 0o750); err != nil {
			return nil, appErr.Wrapf(err, appErr.SandboxSystemError, "create cgroup root")
		}
		if err := enableControllers(cfg.CgroupRoot); err != nil {
			logger.Warn(context.Background(), "enable cgroup controllers failed",
				zap.String("cgroup_root", cfg.CgroupRoot), zap.Error(err))
		}
	}
	return &linuxEngine{cfg: cfg}, nil
}

// resolveHelper prefers a helper installed next to the running binary.
func resolveHelper(path string) string {
	if path == "" {
		path = defaultHelperName
	}
	if strings.ContainsRune(path, filepath.Separator) {
		return path
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), path)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if found, err := exec.LookPath(path); err == nil {
		return found
	}
	return path
}

func (e *linuxEngine) Ready() error {
	info, err := os.Stat(e.cfg.HelperPath)
	if err != nil {
		return fmt.Errorf("sandbox helper unavailable: %w", err)
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("sandbox helper %s is not executable", e.cfg.HelperPath)
	}
	if e.cfg.EnableCgroup {
		if _, err := os.Stat(e.cfg.CgroupRoot); err != nil {
			return fmt.Errorf("cgroup root unavailable: %w", err)
		}
	}
	return nil
}

func (e *linuxEngine) Run(ctx context.Context, execSpec spec.ExecutionSpec) (result.ExecutionOutcome, error) {
	if err := validateSpec(execSpec); err != nil {
		return result.ExecutionOutcome{}, err
	}
	outcome := result.ExecutionOutcome{Isolation: string(execSpec.Isolation.Level)}
	fail := func(format string, args ...interface{}) (result.ExecutionOutcome, error) {
		outcome.Status = result.SupervisorError(fmt.Sprintf(format, args...))
		logger.Error(ctx, "sandbox launch failed",
			zap.String("workspace", execSpec.WorkspaceID),
			zap.String("reason", outcome.Status.Reason))
		return outcome, nil
	}

	payload, err := json.Marshal(spec.NewLaunchRequest(execSpec, e.cfg.EnableSeccomp))
	if err != nil {
		return fail("encode launch request: %v", err)
	}

	// Pdeathsig fires when the thread that started the child exits, so the
	// starting goroutine stays on one thread until the child is reaped.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		cg, err = createRunCgroup(e.cfg.CgroupRoot, execSpec.WorkspaceID)
		if err != nil {
			return fail("%v", err)
		}
		defer func() {
			if err := cg.remove(); err != nil {
				logger.Warn(ctx, "cgroup cleanup deferred to reaper", zap.Error(err))
			}
		}()
		if err := cg.applyLimits(execSpec.Limits); err != nil {
			return fail("apply cgroup limits: %v", err)
		}
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return fail("create status pipe: %v", err)
	}

	limitHit := make(chan struct{})
	var limitOnce sync.Once
	var onLimit func()
	if e.cfg.KillOnOutputLimit {
		onLimit = func() { limitOnce.Do(func() { close(limitHit) }) }
	}
	stdout := newBoundedBuffer(execSpec.Limits.OutputBytes, onLimit)
	stderr := newBoundedBuffer(execSpec.Limits.OutputBytes, onLimit)

	cmd := exec.Command(e.cfg.HelperPath)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = []string{}
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.WaitDelay = e.cfg.WaitDelay
	cmd.SysProcAttr = buildSysProcAttr(execSpec)
	if cg != nil {
		fd, err := cg.openDir()
		if err != nil {
			_ = statusR.Close()
			_ = statusW.Close()
			return fail("%v", err)
		}
		cmd.SysProcAttr.UseCgroupFD = true
		cmd.SysProcAttr.CgroupFD = fd
	}

	start := time.Now()
	err = cmd.Start()
	_ = statusW.Close()
	cg.closeDir()
	if err != nil {
		_ = statusR.Close()
		outcome.WallClock = time.Since(start)
		return fail("start helper: %v", err)
	}
	pid := cmd.Process.Pid

	statusCh := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(io.LimitReader(statusR, statusMessageLimit))
		_ = statusR.Close()
		statusCh <- strings.TrimSpace(string(data))
	}()

	var killReason atomic.Int32
	kill := func(reason int32) {
		killReason.CompareAndSwap(killNone, reason)
		killProcessGroup(pid)
		if cg != nil {
			_ = cg.kill()
		}
	}

	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wall := durationFromMs(execSpec.Limits.WallTimeMs); wall > 0 {
			timer := time.NewTimer(wall)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-done:
		case <-wallTimer:
			kill(killTimeout)
		case <-ctx.Done():
			kill(killCanceled)
		case <-limitHit:
			kill(killOutput)
		}
	}()

	waitErr := cmd.Wait()
	outcome.WallClock = time.Since(start)
	close(done)
	setupErr := <-statusCh

	outcome.Stdout = stdout.Bytes()
	outcome.Stderr = stderr.Bytes()
	outcome.StdoutTruncated = stdout.Truncated()
	outcome.StderrTruncated = stderr.Truncated()
	outcome.MemoryLimitExceeded = cg.oomKilled()

	switch reason := killReason.Load(); {
	case setupErr != "":
		outcome.Stdout, outcome.Stderr = nil, nil
		logger.Warn(ctx, "sandbox helper setup failed",
			zap.String("workspace", execSpec.WorkspaceID), zap.String("reason", setupErr))
		outcome.Status = result.SupervisorError(setupErr)
	case reason == killTimeout:
		outcome.Status = result.TimedOut()
	case reason == killCanceled:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			outcome.Status = result.TimedOut()
		} else {
			outcome.Status = result.Canceled()
		}
	default:
		outcome.OutputLimitExceeded = reason == killOutput
		outcome.Status = statusFromState(cmd.ProcessState, waitErr)
	}

	if waitErr != nil && errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn(ctx, "sandbox output pipes held open after exit", zap.String("workspace", execSpec.WorkspaceID))
	}
	return outcome, nil
}

func statusFromState(state *os.ProcessState, waitErr error) result.ExitStatus {
	if state == nil {
		return result.SupervisorError(fmt.Sprintf("wait: %v", waitErr))
	}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return result.Exited(state.ExitCode())
	}
	switch {
	case ws.Signaled():
		// RLIMIT_CPU is set above the wall limit; hitting it is a timeout.
		if ws.Signal() == syscall.SIGXCPU {
			return result.TimedOut()
		}
		return result.Killed(int(ws.Signal()))
	case ws.Exited():
		return result.Exited(ws.ExitStatus())
	default:
		return result.SupervisorError(fmt.Sprintf("unexpected wait status %v", ws))
	}
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, syscall.SIGKILL)
}

func buildSysProcAttr(execSpec spec.ExecutionSpec) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !execSpec.Isolation.Namespaced() {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
		syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if execSpec.Isolation.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}

func durationFromMs(ms int64) time.Duration {
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}
