package security

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Seccomp actions understood by sandbox-init.
const (
	ActionAllow       = "SCMP_ACT_ALLOW"
	ActionErrno       = "SCMP_ACT_ERRNO"
	ActionKill        = "SCMP_ACT_KILL"
	ActionKillProcess = "SCMP_ACT_KILL_PROCESS"
	ActionTrap        = "SCMP_ACT_TRAP"
)

// Argument comparison operators.
const (
	OpEqual        = "SCMP_CMP_EQ"
	OpNotEqual     = "SCMP_CMP_NE"
	OpLess         = "SCMP_CMP_LT"
	OpLessEqual    = "SCMP_CMP_LE"
	OpGreater      = "SCMP_CMP_GT"
	OpGreaterEqual = "SCMP_CMP_GE"
	OpMaskedEqual  = "SCMP_CMP_MASKED_EQ"
)

//go:embed profiles/interpreter.json
var defaultProfile []byte

// SeccompProfile is a docker-style syscall filter description.
type SeccompProfile struct {
	DefaultAction   string        `json:"defaultAction"`
	DefaultErrnoRet int           `json:"defaultErrnoRet,omitempty"`
	Syscalls        []SeccompRule `json:"syscalls"`
}

// SeccompRule applies one action to a set of syscalls, optionally gated on
// argument values.
type SeccompRule struct {
	Names    []string     `json:"names"`
	Action   string       `json:"action"`
	ErrnoRet int          `json:"errnoRet,omitempty"`
	Args     []SeccompArg `json:"args,omitempty"`
	Comment  string       `json:"comment,omitempty"`
}

// SeccompArg compares one syscall argument.
type SeccompArg struct {
	Index    uint   `json:"index"`
	Value    uint64 `json:"value"`
	ValueTwo uint64 `json:"valueTwo,omitempty"`
	Op       string `json:"op"`
}

// DefaultSeccompProfile returns the built-in profile for interpreter runs.
func DefaultSeccompProfile() (*SeccompProfile, error) {
	return ParseSeccompProfile(defaultProfile)
}

// LoadSeccompProfile reads and validates a profile from disk.
func LoadSeccompProfile(path string) (*SeccompProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seccomp profile: %w", err)
	}
	return ParseSeccompProfile(data)
}

// ParseSeccompProfile decodes and validates a profile.
func ParseSeccompProfile(data []byte) (*SeccompProfile, error) {
	var p SeccompProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// helperSyscalls run after the filter is loaded and must stay reachable.
var helperSyscalls = []string{"prlimit64", "setrlimit", "execve"}

// Validate checks actions, operators and argument indexes, and that the
// helper can still set rlimits and exec once the filter is in place.
func (p *SeccompProfile) Validate() error {
	if p == nil {
		return fmt.Errorf("seccomp profile is nil")
	}
	if !validAction(p.DefaultAction) {
		return fmt.Errorf("unsupported seccomp default action: %q", p.DefaultAction)
	}
	for i, rule := range p.Syscalls {
		if len(rule.Names) == 0 {
			return fmt.Errorf("seccomp rule %d has no syscall names", i)
		}
		if !validAction(rule.Action) {
			return fmt.Errorf("seccomp rule %d: unsupported action %q", i, rule.Action)
		}
		for _, arg := range rule.Args {
			if arg.Index > 5 {
				return fmt.Errorf("seccomp rule %d: argument index %d out of range", i, arg.Index)
			}
			if !validOp(arg.Op) {
				return fmt.Errorf("seccomp rule %d: unsupported operator %q", i, arg.Op)
			}
		}
	}
	for _, name := range helperSyscalls {
		if !p.allows(name) {
			return fmt.Errorf("seccomp profile must allow %s", name)
		}
	}
	return nil
}

func (p *SeccompProfile) allows(name string) bool {
	if p.Denies(name) {
		return false
	}
	if strings.ToUpper(p.DefaultAction) == ActionAllow {
		return true
	}
	for _, rule := range p.Syscalls {
		if strings.ToUpper(rule.Action) != ActionAllow || len(rule.Args) > 0 {
			continue
		}
		for _, n := range rule.Names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// Denies reports whether the profile carries a non-allow rule for name.
// Argument-gated rules count as denying.
func (p *SeccompProfile) Denies(name string) bool {
	if p == nil {
		return false
	}
	for _, rule := range p.Syscalls {
		if strings.ToUpper(rule.Action) == ActionAllow {
			continue
		}
		for _, n := range rule.Names {
			if n == name {
				return true
			}
		}
	}
	return false
}

func validAction(action string) bool {
	switch strings.ToUpper(action) {
	case ActionAllow, ActionErrno, ActionKill, ActionKillProcess, ActionTrap:
		return true
	}
	return false
}

func validOp(op string) bool {
	switch strings.ToUpper(op) {
	case OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpMaskedEqual:
		return true
	}
	return false
}
