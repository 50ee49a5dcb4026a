// Package security defines sandbox isolation and seccomp profiles.
package security

// IsolationLevel names how strongly a run is separated from the host.
type IsolationLevel string

const (
	// LevelNamespaced runs in fresh user, mount, pid, network, ipc and uts
	// namespaces with a chroot into the workspace.
	LevelNamespaced IsolationLevel = "namespaced"
	// LevelProcess runs as a plain child with its own process group,
	// rlimits, seccomp and a cleared environment.
	LevelProcess IsolationLevel = "process"
)

// IsolationProfile describes namespace and seccomp settings for one run.
type IsolationProfile struct {
	Level          IsolationLevel
	RootFS         string
	DisableNetwork bool
	Seccomp        *SeccompProfile
}

// Namespaced reports whether the run gets its own namespaces.
func (p IsolationProfile) Namespaced() bool {
	return p.Level == LevelNamespaced
}
