//go:build linux

// Command sandbox-init narrows its own privileges according to a launch
// request read from stdin and then execs the requested program. Setup
// failures are written to fd 3 and end with exit status 125.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"coderunner/internal/sandbox/spec"

	"golang.org/x/sys/unix"
)

const (
	statusFD        = 3
	exitSetupFailed = 125
)

func init() {
	// Namespace, rlimit and no_new_privs changes must all land on the thread
	// that calls execve.
	runtime.LockOSThread()
}

func main() {
	status := openStatus()
	if err := run(os.Stdin); err != nil {
		reportFailure(status, err)
		os.Exit(exitSetupFailed)
	}
}

func openStatus() io.Writer {
	if _, err := unix.FcntlInt(statusFD, unix.F_GETFD, 0); err != nil {
		return os.Stderr
	}
	unix.CloseOnExec(statusFD)
	return os.NewFile(statusFD, "status")
}

func reportFailure(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "sandbox-init: %v\n", err)
}

func run(stdin io.Reader) error {
	req, err := decodeRequest(stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	devNull, err := os.Open("/dev/null")
	if err != nil {
		return fmt.Errorf("open /dev/null: %w", err)
	}

	if req.Namespaced {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mounts private: %w", err)
		}
		if err := applyBindMounts(req.RootFS, req.BindMounts); err != nil {
			return err
		}
		if err := unix.Chroot(req.RootFS); err != nil {
			return fmt.Errorf("chroot: %w", err)
		}
		if err := os.Chdir("/"); err != nil {
			return fmt.Errorf("chdir root: %w", err)
		}
		_ = unix.Sethostname([]byte("sandbox"))
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := unix.Dup2(int(devNull.Fd()), 0); err != nil {
		return fmt.Errorf("redirect stdin: %w", err)
	}
	_ = devNull.Close()

	cmdPath, err := lookPath(req.Cmd[0], req.Env)
	if err != nil {
		return err
	}
	// The filter is built through cgo, which needs headroom that RLIMIT_AS
	// would take away, so it goes in before the rlimits.
	if req.Seccomp != nil {
		if err := applySeccomp(req.Seccomp); err != nil {
			return err
		}
	}
	if err := applyRlimits(req.Limits); err != nil {
		return err
	}
	return unix.Exec(cmdPath, req.Cmd, req.Env)
}

func decodeRequest(r io.Reader) (spec.LaunchRequest, error) {
	var req spec.LaunchRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return spec.LaunchRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req spec.LaunchRequest) error {
	if len(req.Cmd) == 0 || req.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" || !strings.HasPrefix(req.WorkDir, "/") {
		return fmt.Errorf("absolute work dir is required")
	}
	if req.Namespaced && req.RootFS == "" {
		return fmt.Errorf("namespaced run without root filesystem")
	}
	if !req.Namespaced && (req.RootFS != "" || len(req.BindMounts) > 0) {
		return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
	}
	return nil
}

// lookPath resolves name against the PATH of the child environment, not
// the helper's own.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		if err := checkExecutable(name); err != nil {
			return "", fmt.Errorf("resolve command: %w", err)
		}
		return name, nil
	}
	path := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	for _, dir := range strings.Split(path, ":") {
		if dir == "" {
			continue
		}
		candidate := dir + "/" + name
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("resolve command: %q not found in PATH", name)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
