// Package environment stages a snippet into its workspace and derives the
// launch parameters for the engine.
package environment

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"coderunner/internal/sandbox/policy"
	"coderunner/internal/sandbox/security"
	"coderunner/internal/sandbox/spec"
	"coderunner/internal/sandbox/workspace"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"github.com/google/shlex"
	"go.uber.org/zap"
)

const manifestFile = ".policy.json"

var (
	//go:embed assets/bootstrap.py
	pythonBootstrap []byte
	//go:embed assets/bootstrap.js
	javaScriptBootstrap []byte
)

type bootstrap struct {
	file   string
	source []byte
}

var bootstraps = map[string]bootstrap{
	policy.LanguagePython:     {file: ".bootstrap.py", source: pythonBootstrap},
	policy.LanguageJavaScript: {file: ".bootstrap.js", source: javaScriptBootstrap},
}

// Strictness decides what happens when namespaces are unavailable.
type Strictness string

const (
	// StrictnessStrict refuses to run without namespace isolation.
	StrictnessStrict Strictness = "strict"
	// StrictnessPermissive falls back to process-level isolation.
	StrictnessPermissive Strictness = "permissive"
)

// BuilderConfig controls isolation choices for every staged run.
type BuilderConfig struct {
	Strictness       Strictness
	EnableNamespaces bool
	EnableSeccomp    bool
	Seccomp          *security.SeccompProfile
	// Detect overrides host detection; tests use it.
	Detect func() HostSupport
}

// Builder turns a workspace and a snippet into an ExecutionSpec.
type Builder struct {
	cfg    BuilderConfig
	level  security.IsolationLevel
	reason string
}

// NewBuilder resolves the isolation level once for the process lifetime.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Strictness == "" {
		cfg.Strictness = StrictnessStrict
	}
	if cfg.Strictness != StrictnessStrict && cfg.Strictness != StrictnessPermissive {
		return nil, appErr.ValidationError("sandbox.strictness", fmt.Sprintf("unknown value %q", cfg.Strictness))
	}
	if cfg.EnableSeccomp && cfg.Seccomp == nil {
		profile, err := security.DefaultSeccompProfile()
		if err != nil {
			return nil, err
		}
		cfg.Seccomp = profile
	}
	if cfg.Detect == nil {
		cfg.Detect = DetectHost
	}

	b := &Builder{cfg: cfg, level: security.LevelNamespaced}
	if !cfg.EnableNamespaces {
		b.level = security.LevelProcess
		b.reason = "namespaces disabled by configuration"
	} else if support := cfg.Detect(); !support.UserNamespaces {
		b.level = security.LevelProcess
		b.reason = support.Reason
	}

	if b.level != security.LevelNamespaced {
		if cfg.Strictness == StrictnessStrict {
			return nil, appErr.Newf(appErr.SandboxUnavailable, "namespace isolation unavailable: %s", b.reason)
		}
		logger.Warn(context.Background(), "running with process-level isolation only",
			zap.String("reason", b.reason))
	}
	return b, nil
}

// Level is the isolation level every run will get.
func (b *Builder) Level() security.IsolationLevel { return b.level }

// Ready reports whether the configured strictness is satisfied.
func (b *Builder) Ready() error {
	if b.cfg.Strictness == StrictnessStrict && b.level != security.LevelNamespaced {
		return appErr.New(appErr.SandboxUnavailable)
	}
	return nil
}

// manifest is read by the bootstrap before the snippet runs.
type manifest struct {
	Entry    string   `json:"entry"`
	Modules  []string `json:"modules"`
	Builtins []string `json:"builtins"`
}

// Stage writes the snippet and its launch artifacts into ws and returns the
// spec for exactly this run.
func (b *Builder) Stage(ctx context.Context, ws *workspace.Workspace, code string, catalog *policy.Catalog) (spec.ExecutionSpec, error) {
	if ws == nil || catalog == nil {
		return spec.ExecutionSpec{}, appErr.New(appErr.SandboxSystemError).WithMessage("stage requires a workspace and a catalog")
	}
	limits := catalog.Limits()
	if err := ValidateCode(code, limits.MaxCodeBytes); err != nil {
		return spec.ExecutionSpec{}, err
	}
	rt := catalog.Runtime()
	boot, ok := bootstraps[catalog.Language()]
	if !ok {
		return spec.ExecutionSpec{}, appErr.New(appErr.UnsupportedLanguage).WithDetail("language", catalog.Language())
	}

	// Paths as the child will see them.
	childDir := ws.CodeDir()
	if b.level == security.LevelNamespaced {
		childDir = policy.SandboxDir
	}
	childPath := func(name string) string { return filepath.Join(childDir, name) }

	m := manifest{
		Entry:    childPath(rt.EntryFile),
		Modules:  catalog.ModuleNames(),
		Builtins: catalog.BuiltinNames(),
	}
	manifestData, err := json.Marshal(m)
	if err != nil {
		return spec.ExecutionSpec{}, appErr.Wrapf(err, appErr.SandboxSystemError, "encode manifest")
	}

	files := []struct {
		name string
		data []byte
	}{
		{rt.EntryFile, []byte(code)},
		{boot.file, boot.source},
		{manifestFile, manifestData},
	}
	for _, f := range files {
		if err := writeReadOnly(filepath.Join(ws.CodeDir(), f.name), f.data); err != nil {
			return spec.ExecutionSpec{}, appErr.Wrapf(err, appErr.SandboxSystemError, "stage %s", f.name)
		}
	}

	cmd, err := expandCommand(rt.Command, map[string]string{
		"{bootstrap}": childPath(boot.file),
		"{manifest}":  childPath(manifestFile),
		"{entry}":     childPath(rt.EntryFile),
		"{workdir}":   childDir,
		"{memoryMB}":  strconv.FormatInt(limits.MaxMemoryBytes>>20, 10),
	})
	if err != nil {
		return spec.ExecutionSpec{}, err
	}

	env := make([]string, 0, len(rt.Env)+2)
	env = append(env, rt.Env...)
	env = append(env, "HOME="+childDir, "TMPDIR="+childDir)

	isolation := security.IsolationProfile{
		Level:          b.level,
		DisableNetwork: true,
	}
	if b.cfg.EnableSeccomp {
		isolation.Seccomp = b.cfg.Seccomp
	}
	var mounts []spec.MountSpec
	if b.level == security.LevelNamespaced {
		isolation.RootFS = ws.RootFS()
		mounts = rt.Mounts
	}

	runLimits := limits.RunLimits()
	runLimits.Threaded = rt.Threaded
	if rt.MaxProcesses > 0 {
		runLimits.Processes = rt.MaxProcesses
	}

	execSpec := spec.ExecutionSpec{
		RequestID:   ws.OwnerRequestID,
		WorkspaceID: ws.ID,
		HostDir:     ws.Root,
		WorkDir:     childDir,
		Cmd:         cmd,
		Env:         env,
		BindMounts:  mounts,
		Limits:      runLimits,
		Isolation:   isolation,
	}
	logger.Debug(ctx, "execution staged",
		zap.String("workspace", ws.ID),
		zap.String("isolation", string(b.level)),
		zap.String("language", catalog.Language()),
		zap.Strings("cmd", cmd),
	)
	return execSpec, nil
}

// ValidateCode enforces the input contract shared by the service and Stage.
func ValidateCode(code string, maxBytes int64) error {
	if strings.TrimSpace(code) == "" {
		return appErr.New(appErr.CodeEmpty)
	}
	if maxBytes > 0 && int64(len(code)) > maxBytes {
		return appErr.New(appErr.CodeTooLarge).
			WithDetail("size", len(code)).
			WithDetail("limit", maxBytes)
	}
	if !utf8.ValidString(code) {
		return appErr.New(appErr.InvalidEncoding)
	}
	if strings.ContainsRune(code, 0) {
		return appErr.New(appErr.InvalidEncoding).WithMessage("Code must not contain NUL bytes")
	}
	return nil
}

// expandCommand splits the template first so substituted paths never get
// re-tokenised.
func expandCommand(template string, values map[string]string) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxSystemError, "parse runtime command")
	}
	if len(parts) == 0 {
		return nil, appErr.New(appErr.SandboxSystemError).WithMessage("runtime command is empty")
	}
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		for placeholder, value := range values {
			part = strings.ReplaceAll(part, placeholder, value)
		}
		out = append(out, part)
	}
	return out, nil
}

func writeReadOnly(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return os.Chmod(path, 0o444)
}
