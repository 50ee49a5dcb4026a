// Package sandboxtest builds a minimal sandbox helper for tests that need
// to drive the engine without namespaces or seccomp.
package sandboxtest

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
)

// helperSource speaks the sandbox-init protocol: a JSON launch request on
// stdin, setup failures on fd 3 with exit status 125, then execve.
const helperSource = `package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

type launchRequest struct {
	WorkDir string
	Cmd     []string
	Env     []string
}

func fail(format string, args ...interface{}) {
	status := os.NewFile(3, "status")
	fmt.Fprintf(status, "sandbox-init: "+format+"\n", args...)
	os.Exit(125)
}

func main() {
	syscall.CloseOnExec(3)
	var req launchRequest
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fail("decode launch request: %v", err)
	}
	if len(req.Cmd) == 0 {
		fail("command is required")
	}
	if err := os.Chdir(req.WorkDir); err != nil {
		fail("chdir %s: %v", req.WorkDir, err)
	}
	path := req.Cmd[0]
	if !strings.Contains(path, "/") {
		for _, kv := range req.Env {
			if !strings.HasPrefix(kv, "PATH=") {
				continue
			}
			for _, dir := range filepath.SplitList(strings.TrimPrefix(kv, "PATH=")) {
				candidate := filepath.Join(dir, path)
				if info, err := os.Stat(candidate); err == nil && info.Mode()&0o111 != 0 {
					path = candidate
					break
				}
			}
		}
	}
	if err := syscall.Exec(path, req.Cmd, req.Env); err != nil {
		fail("exec %s: %v", req.Cmd[0], err)
	}
}
`

var (
	buildOnce sync.Once
	buildDir  string
	buildErr  error
	buildOut  []byte
)

// BuildHelper compiles the helper once per test binary and returns its path.
// The test is skipped when no Go toolchain is on PATH.
func BuildHelper(t testing.TB) string {
	t.Helper()
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available to build the sandbox helper")
	}
	buildOnce.Do(func() {
		buildDir, buildErr = os.MkdirTemp("", "sandbox-helper-")
		if buildErr != nil {
			return
		}
		src := filepath.Join(buildDir, "main.go")
		if buildErr = os.WriteFile(src, []byte(helperSource), 0o644); buildErr != nil {
			return
		}
		cmd := exec.Command(goBin, "build", "-o", filepath.Join(buildDir, "sandbox-init"), src)
		cmd.Dir = buildDir
		cmd.Env = append(os.Environ(), "CGO_ENABLED=0", "GO111MODULE=off", "GOFLAGS=")
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("build sandbox helper: %v\n%s", buildErr, buildOut)
	}
	return filepath.Join(buildDir, "sandbox-init")
}

var (
	initOnce sync.Once
	initDir  string
	initErr  error
	initOut  []byte
)

// BuildInit compiles the real sandbox-init from this module. It needs cgo
// and the libseccomp headers; the test is skipped when either is missing.
func BuildInit(t testing.TB) string {
	t.Helper()
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available to build sandbox-init")
	}
	initOnce.Do(func() {
		_, file, _, ok := runtime.Caller(0)
		if !ok {
			initErr = os.ErrNotExist
			return
		}
		moduleRoot := filepath.Join(filepath.Dir(file), "..", "..", "..")
		initDir, initErr = os.MkdirTemp("", "sandbox-init-")
		if initErr != nil {
			return
		}
		cmd := exec.Command(goBin, "build", "-o", filepath.Join(initDir, "sandbox-init"), "./cmd/sandbox-init")
		cmd.Dir = moduleRoot
		cmd.Env = append(os.Environ(), "CGO_ENABLED=1")
		initOut, initErr = cmd.CombinedOutput()
	})
	if initErr != nil {
		t.Skipf("cannot build sandbox-init (cgo or libseccomp missing?): %v\n%s", initErr, initOut)
	}
	return filepath.Join(initDir, "sandbox-init")
}
