//go:build linux

package main

import (
	"fmt"

	"coderunner/internal/sandbox/spec"

	"golang.org/x/sys/unix"
)

type rlimit struct {
	resource int
	name     string
	cur, max uint64
}

func rlimitsFor(limits spec.ResourceLimit) []rlimit {
	out := []rlimit{{resource: unix.RLIMIT_CORE, name: "core"}}
	if limits.CPUTimeMs > 0 {
		seconds := uint64((limits.CPUTimeMs + 999) / 1000)
		// The soft limit delivers SIGXCPU, the hard one SIGKILL a second later.
		out = append(out, rlimit{resource: unix.RLIMIT_CPU, name: "cpu", cur: seconds, max: seconds + 1})
	}
	if limits.MemoryBytes > 0 && !limits.Threaded {
		v := uint64(limits.MemoryBytes)
		out = append(out, rlimit{resource: unix.RLIMIT_AS, name: "as", cur: v, max: v})
	}
	if limits.FileSizeBytes > 0 {
		v := uint64(limits.FileSizeBytes)
		out = append(out, rlimit{resource: unix.RLIMIT_FSIZE, name: "fsize", cur: v, max: v})
	}
	if limits.Processes > 0 && !limits.Threaded {
		v := uint64(limits.Processes)
		out = append(out, rlimit{resource: unix.RLIMIT_NPROC, name: "nproc", cur: v, max: v})
	}
	if limits.OpenFiles > 0 {
		v := uint64(limits.OpenFiles)
		out = append(out, rlimit{resource: unix.RLIMIT_NOFILE, name: "nofile", cur: v, max: v})
	}
	return out
}

func applyRlimits(limits spec.ResourceLimit) error {
	for _, l := range rlimitsFor(limits) {
		if err := unix.Setrlimit(l.resource, &unix.Rlimit{Cur: l.cur, Max: l.max}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", l.name, err)
		}
	}
	return nil
}
