//go:build linux

package main

import (
	"fmt"
	"strings"

	"coderunner/internal/sandbox/security"

	seccomp "github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

func applySeccomp(profile *security.SeccompProfile) error {
	filter, err := buildFilter(profile)
	if err != nil {
		return err
	}
	defer filter.Release()
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	if err := filter.Load(); err != nil {
		return fmt.Errorf("load seccomp filter: %w", err)
	}
	return nil
}

func buildFilter(profile *security.SeccompProfile) (*seccomp.ScmpFilter, error) {
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	defaultAction, err := parseSeccompAction(profile.DefaultAction, profile.DefaultErrnoRet)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range profile.Syscalls {
		action, err := parseSeccompAction(rule.Action, rule.ErrnoRet)
		if err != nil {
			filter.Release()
			return nil, err
		}
		// libseccomp rejects rules that repeat the default action.
		if action == defaultAction {
			continue
		}
		conds, err := buildConditions(rule.Args)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Not present on this architecture.
				continue
			}
			if len(conds) == 0 {
				err = filter.AddRule(call, action)
			} else {
				err = filter.AddRuleConditional(call, action, conds)
			}
			if err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule for %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

func parseSeccompAction(action string, errno int) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case security.ActionAllow:
		return seccomp.ActAllow, nil
	case security.ActionErrno:
		if errno <= 0 {
			errno = int(unix.EPERM)
		}
		return seccomp.ActErrno.SetReturnCode(int16(errno)), nil
	case security.ActionKill, security.ActionKillProcess:
		return seccomp.ActKillProcess, nil
	case security.ActionTrap:
		return seccomp.ActTrap, nil
	default:
		return seccomp.ActInvalid, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

func buildConditions(args []security.SeccompArg) ([]seccomp.ScmpCondition, error) {
	conds := make([]seccomp.ScmpCondition, 0, len(args))
	for _, arg := range args {
		op, err := parseCompareOp(arg.Op)
		if err != nil {
			return nil, err
		}
		var cond seccomp.ScmpCondition
		if op == seccomp.CompareMaskedEqual {
			cond, err = seccomp.MakeCondition(arg.Index, op, arg.Value, arg.ValueTwo)
		} else {
			cond, err = seccomp.MakeCondition(arg.Index, op, arg.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("seccomp condition: %w", err)
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

func parseCompareOp(op string) (seccomp.ScmpCompareOp, error) {
	switch strings.ToUpper(op) {
	case security.OpEqual:
		return seccomp.CompareEqual, nil
	case security.OpNotEqual:
		return seccomp.CompareNotEqual, nil
	case security.OpLess:
		return seccomp.CompareLess, nil
	case security.OpLessEqual:
		return seccomp.CompareLessOrEqual, nil
	case security.OpGreater:
		return seccomp.CompareGreater, nil
	case security.OpGreaterEqual:
		return seccomp.CompareGreaterEqual, nil
	case security.OpMaskedEqual:
		return seccomp.CompareMaskedEqual, nil
	default:
		return seccomp.CompareInvalid, fmt.Errorf("unsupported seccomp operator: %s", op)
	}
}
