package engine

import (
	"path/filepath"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

func validateSpec(s spec.ExecutionSpec) error {
	invalid := func(msg string) error {
		return appErr.New(appErr.SandboxSystemError).WithMessage("invalid execution spec: " + msg)
	}
	switch {
	case s.WorkspaceID == "":
		return invalid("workspace id is required")
	case s.WorkDir == "":
		return invalid("work dir is required")
	case !filepath.IsAbs(s.WorkDir):
		return invalid("work dir must be absolute")
	case len(s.Cmd) == 0 || s.Cmd[0] == "":
		return invalid("command is required")
	case s.Limits.WallTimeMs <= 0:
		return invalid("wall clock limit is required")
	case s.Isolation.Namespaced() && s.Isolation.RootFS == "":
		return invalid("namespaced runs need a root filesystem")
	case !s.Isolation.Namespaced() && (s.Isolation.RootFS != "" || len(s.BindMounts) > 0):
		return invalid("process-level runs cannot chroot or mount")
	}
	return nil
}
