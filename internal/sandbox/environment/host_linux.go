//go:build linux

package environment

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

func detectHost() HostSupport {
	if data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone"); err == nil {
		if strings.TrimSpace(string(data)) == "0" && os.Geteuid() != 0 {
			return HostSupport{Reason: "kernel.unprivileged_userns_clone is 0"}
		}
	}
	if data, err := os.ReadFile("/proc/sys/user/max_user_namespaces"); err == nil {
		if strings.TrimSpace(string(data)) == "0" {
			return HostSupport{Reason: "user.max_user_namespaces is 0"}
		}
	}

	// The sysctls are not the whole story: seccomp policies of container
	// runtimes and LSMs can still refuse the clone, so try one.
	truePath, err := exec.LookPath("true")
	if err != nil {
		return HostSupport{UserNamespaces: true}
	}
	cmd := exec.Command(truePath)
	cmd.Env = []string{}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
			syscall.CLONE_NEWNET | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUTS,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
		GidMappingsEnableSetgroups: false,
	}
	if err := cmd.Run(); err != nil {
		return HostSupport{Reason: fmt.Sprintf("namespace launch failed: %v", err)}
	}
	return HostSupport{UserNamespaces: true}
}
