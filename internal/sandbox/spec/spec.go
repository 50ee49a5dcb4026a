// Package spec defines the execution specification and resource limits.
package spec

import "coderunner/internal/sandbox/security"

// ResourceLimit describes hard limits enforced by the sandbox.
type ResourceLimit struct {
	CPUTimeMs     int64
	WallTimeMs    int64
	MemoryBytes   int64
	OutputBytes   int64
	FileSizeBytes int64
	Processes     int64
	OpenFiles     int64
	// Threaded runtimes reserve large virtual mappings and start helper
	// threads, so the helper leaves address space and thread counts to the
	// cgroup.
	Threaded bool
}

// MountSpec describes a bind mount inside the sandbox.
// Optional mounts are skipped when the source does not exist on the host.
type MountSpec struct {
	Source   string `yaml:"source"`
	Target   string `yaml:"target"`
	ReadOnly bool   `yaml:"readOnly"`
	Optional bool   `yaml:"optional"`
}

// ExecutionSpec is the launch description for exactly one run. It is built
// by the environment builder and consumed once by the engine.
type ExecutionSpec struct {
	RequestID   string
	WorkspaceID string
	// HostDir is the workspace root on the host.
	HostDir string
	// WorkDir is the working directory as seen by the child.
	WorkDir    string
	Cmd        []string
	Env        []string
	BindMounts []MountSpec
	Limits     ResourceLimit
	Isolation  security.IsolationProfile
}

// LaunchRequest is the payload sandbox-init reads from stdin.
type LaunchRequest struct {
	WorkDir    string
	Cmd        []string
	Env        []string
	BindMounts []MountSpec
	Limits     ResourceLimit
	Namespaced bool
	RootFS     string
	Seccomp    *security.SeccompProfile
}

// NewLaunchRequest projects the fields the helper needs out of a spec.
func NewLaunchRequest(s ExecutionSpec, enableSeccomp bool) LaunchRequest {
	req := LaunchRequest{
		WorkDir:    s.WorkDir,
		Cmd:        s.Cmd,
		Env:        s.Env,
		BindMounts: s.BindMounts,
		Limits:     s.Limits,
		Namespaced: s.Isolation.Namespaced(),
		RootFS:     s.Isolation.RootFS,
	}
	if enableSeccomp {
		req.Seccomp = s.Isolation.Seccomp
	}
	return req
}
