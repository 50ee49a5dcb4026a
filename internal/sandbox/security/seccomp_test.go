package security

import (
	"strings"
	"testing"
)

func TestParseSeccompProfile(t *testing.T) {
	cases := []struct {
		name    string
		profile string
		wantErr string
	}{
		{
			name:    "default allow with denials",
			profile: `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["socket"],"action":"SCMP_ACT_ERRNO"}]}`,
		},
		{
			name:    "allow list keeps helper syscalls",
			profile: `{"defaultAction":"SCMP_ACT_KILL_PROCESS","syscalls":[{"names":["read","write","prlimit64","setrlimit","execve"],"action":"SCMP_ACT_ALLOW"}]}`,
		},
		{
			name:    "allow list missing execve",
			profile: `{"defaultAction":"SCMP_ACT_KILL_PROCESS","syscalls":[{"names":["prlimit64","setrlimit"],"action":"SCMP_ACT_ALLOW"}]}`,
			wantErr: "must allow execve",
		},
		{
			name:    "rlimit syscall denied",
			profile: `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["prlimit64"],"action":"SCMP_ACT_ERRNO"}]}`,
			wantErr: "must allow prlimit64",
		},
		{
			name:    "argument gated allow does not count",
			profile: `{"defaultAction":"SCMP_ACT_ERRNO","syscalls":[{"names":["prlimit64","setrlimit"],"action":"SCMP_ACT_ALLOW"},{"names":["execve"],"action":"SCMP_ACT_ALLOW","args":[{"index":0,"value":1,"op":"SCMP_CMP_EQ"}]}]}`,
			wantErr: "must allow execve",
		},
		{
			name:    "unknown action",
			profile: `{"defaultAction":"SCMP_ACT_LOG","syscalls":[]}`,
			wantErr: "unsupported seccomp default action",
		},
		{
			name:    "argument index out of range",
			profile: `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["ioctl"],"action":"SCMP_ACT_ERRNO","args":[{"index":6,"value":1,"op":"SCMP_CMP_EQ"}]}]}`,
			wantErr: "out of range",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSeccompProfile([]byte(tc.profile))
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("parse: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v, want %q", err, tc.wantErr)
			}
		})
	}
}

func TestDefaultSeccompProfile(t *testing.T) {
	profile, err := DefaultSeccompProfile()
	if err != nil {
		t.Fatalf("default profile: %v", err)
	}
	for _, name := range []string{"socket", "ptrace", "mount", "fork"} {
		if !profile.Denies(name) {
			t.Fatalf("default profile should deny %s", name)
		}
	}
	for _, name := range []string{"execve", "prlimit64", "read"} {
		if profile.Denies(name) {
			t.Fatalf("default profile should not deny %s", name)
		}
	}
}
