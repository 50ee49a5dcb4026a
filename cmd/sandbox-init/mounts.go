//go:build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"coderunner/internal/sandbox/spec"

	"golang.org/x/sys/unix"
)

func applyBindMounts(rootfs string, mounts []spec.MountSpec) error {
	for _, m := range mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
		if _, err := os.Stat(m.Source); err != nil {
			if m.Optional && errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("stat mount source %s: %w", m.Source, err)
		}
		target, err := resolveTarget(rootfs, m.Target)
		if err != nil {
			return err
		}
		if err := ensureMountTarget(m.Source, target); err != nil {
			return err
		}
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("bind mount %s: %w", m.Source, err)
		}
		if m.ReadOnly {
			if err := remountReadOnly(m.Source, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// resolveTarget joins target under rootfs and refuses anything that would
// land outside it.
func resolveTarget(rootfs, target string) (string, error) {
	root := filepath.Clean(rootfs)
	joined := filepath.Join(root, target)
	if joined != root && !strings.HasPrefix(joined, root+string(filepath.Separator)) {
		return "", fmt.Errorf("mount target %s escapes root", target)
	}
	return joined, nil
}

// remountReadOnly keeps the flags the kernel locks on mounts inherited into
// a user namespace; dropping any of them makes the remount fail with EPERM.
func remountReadOnly(source, target string) error {
	flags := uintptr(unix.MS_BIND | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_NOSUID)
	var st unix.Statfs_t
	if err := unix.Statfs(source, &st); err == nil {
		flags |= lockedMountFlags(int64(st.Flags))
	}
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return fmt.Errorf("remount %s read-only: %w", target, err)
	}
	return nil
}

func lockedMountFlags(statfsFlags int64) uintptr {
	pairs := []struct {
		st    int64
		mount uintptr
	}{
		{unix.ST_NOSUID, unix.MS_NOSUID},
		{unix.ST_NODEV, unix.MS_NODEV},
		{unix.ST_NOEXEC, unix.MS_NOEXEC},
		{unix.ST_NOATIME, unix.MS_NOATIME},
		{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
		{unix.ST_RELATIME, unix.MS_RELATIME},
	}
	var out uintptr
	for _, p := range pairs {
		if statfsFlags&p.st != 0 {
			out |= p.mount
		}
	}
	return out
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}
