package policy

import (
	"fmt"
	"os"
	"strings"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Config is the yaml form of a catalog. Nil lists fall back to defaults;
// an explicit empty list allows nothing. The top-level allow-lists and
// runtime describe python; Languages enables further runtimes.
type Config struct {
	Version   string                    `yaml:"version"`
	Modules   []string                  `yaml:"modules"`
	Builtins  []string                  `yaml:"builtins"`
	Limits    LimitsConfig              `yaml:"limits"`
	Runtime   RuntimeConfig             `yaml:"runtime"`
	Languages map[string]LanguageConfig `yaml:"languages"`
}

// LanguageConfig is one additional runtime. Unset fields take the
// language's built-in defaults.
type LanguageConfig struct {
	Modules  []string      `yaml:"modules"`
	Builtins []string      `yaml:"builtins"`
	Runtime  RuntimeConfig `yaml:"runtime"`
}

// LimitsConfig mirrors ResourceLimits; zero means default.
type LimitsConfig struct {
	MaxWallClockMillis int64 `yaml:"maxWallClockMillis"`
	CPUTimeMillis      int64 `yaml:"cpuTimeMillis"`
	MaxMemoryBytes     int64 `yaml:"maxMemoryBytes"`
	MaxOutputBytes     int64 `yaml:"maxOutputBytes"`
	MaxCodeBytes       int64 `yaml:"maxCodeBytes"`
	MaxProcesses       int64 `yaml:"maxProcesses"`
	MaxOpenFiles       int64 `yaml:"maxOpenFiles"`
	MaxScratchBytes    int64 `yaml:"maxScratchBytes"`
}

// RuntimeConfig mirrors Runtime.
type RuntimeConfig struct {
	Command      string           `yaml:"command"`
	EntryFile    string           `yaml:"entryFile"`
	Env          []string         `yaml:"env"`
	Mounts       []spec.MountSpec `yaml:"mounts"`
	MaxProcesses int64            `yaml:"maxProcesses"`
}

// LoadFile reads a standalone policy yaml file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse policy: %w", err)
	}
	return Load(cfg)
}

// Load validates cfg and builds an immutable catalog.
func Load(cfg Config) (*Catalog, error) {
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = DefaultVersion
	}
	limits, err := buildLimits(cfg.Limits)
	if err != nil {
		return nil, err
	}

	root, err := buildLanguage(version, LanguagePython, LanguageConfig{
		Modules:  cfg.Modules,
		Builtins: cfg.Builtins,
		Runtime:  cfg.Runtime,
	}, limits)
	if err != nil {
		return nil, err
	}
	languages := map[string]*Catalog{LanguagePython: root}
	for name, lc := range cfg.Languages {
		key := strings.ToLower(strings.TrimSpace(name))
		switch _, known := languageProfiles[key]; {
		case key == LanguagePython:
			return nil, appErr.ValidationError("policy.languages", "python is configured at the top level")
		case !known:
			return nil, appErr.ValidationError("policy.languages", fmt.Sprintf("unknown language %q", name))
		}
		if _, dup := languages[key]; dup {
			return nil, appErr.ValidationError("policy.languages", fmt.Sprintf("language %q listed twice", name))
		}
		view, err := buildLanguage(version, key, lc, limits)
		if err != nil {
			return nil, err
		}
		languages[key] = view
	}
	for _, view := range languages {
		view.languages = languages
	}
	return root, nil
}

func buildLanguage(version, language string, cfg LanguageConfig, limits ResourceLimits) (*Catalog, error) {
	profile := languageProfiles[language]
	modules := cfg.Modules
	if modules == nil {
		modules = profile.modules
	}
	builtins := cfg.Builtins
	if builtins == nil {
		builtins = profile.builtins
	}
	rt, err := buildRuntime(cfg.Runtime, profile.runtime)
	if err != nil {
		return nil, err
	}
	catalog, err := newCatalog(version, language, modules, builtins, limits, rt)
	if err != nil {
		return nil, appErr.ValidationError("policy."+language, err.Error())
	}
	return catalog, nil
}

func buildLimits(cfg LimitsConfig) (ResourceLimits, error) {
	l := ResourceLimits{
		MaxWallClockMillis: orDefault(cfg.MaxWallClockMillis, DefaultMaxWallClockMillis),
		CPUTimeMillis:      cfg.CPUTimeMillis,
		MaxMemoryBytes:     orDefault(cfg.MaxMemoryBytes, DefaultMaxMemoryBytes),
		MaxOutputBytes:     orDefault(cfg.MaxOutputBytes, DefaultMaxOutputBytes),
		MaxCodeBytes:       orDefault(cfg.MaxCodeBytes, DefaultMaxCodeBytes),
		MaxProcesses:       orDefault(cfg.MaxProcesses, DefaultMaxProcesses),
		MaxOpenFiles:       orDefault(cfg.MaxOpenFiles, DefaultMaxOpenFiles),
		MaxScratchBytes:    orDefault(cfg.MaxScratchBytes, DefaultMaxScratchBytes),
	}
	checks := []struct {
		field string
		value int64
	}{
		{"maxWallClockMillis", l.MaxWallClockMillis},
		{"cpuTimeMillis", l.CPUTimeMillis},
		{"maxMemoryBytes", l.MaxMemoryBytes},
		{"maxOutputBytes", l.MaxOutputBytes},
		{"maxCodeBytes", l.MaxCodeBytes},
		{"maxProcesses", l.MaxProcesses},
		{"maxOpenFiles", l.MaxOpenFiles},
		{"maxScratchBytes", l.MaxScratchBytes},
	}
	for _, c := range checks {
		if c.value < 0 {
			return ResourceLimits{}, appErr.ValidationError("policy.limits."+c.field, "must not be negative")
		}
	}
	if l.CPUTimeMillis > 0 && l.CPUTimeMillis < l.MaxWallClockMillis {
		return ResourceLimits{}, appErr.ValidationError("policy.limits.cpuTimeMillis", "must not be below maxWallClockMillis")
	}
	return l, nil
}

func buildRuntime(cfg RuntimeConfig, defaults Runtime) (Runtime, error) {
	rt := Runtime{
		Command:      strings.TrimSpace(cfg.Command),
		EntryFile:    strings.TrimSpace(cfg.EntryFile),
		Env:          cfg.Env,
		Mounts:       cfg.Mounts,
		Threaded:     defaults.Threaded,
		MaxProcesses: orDefault(cfg.MaxProcesses, defaults.MaxProcesses),
	}
	if rt.MaxProcesses < 0 {
		return Runtime{}, appErr.ValidationError("policy.runtime.maxProcesses", "must not be negative")
	}
	if rt.Command == "" {
		rt.Command = defaults.Command
	}
	if !strings.Contains(rt.Command, "{bootstrap}") {
		return Runtime{}, appErr.ValidationError("policy.runtime.command", "must reference {bootstrap}")
	}
	if rt.EntryFile == "" {
		rt.EntryFile = defaults.EntryFile
	}
	if strings.ContainsAny(rt.EntryFile, "/\\") || strings.HasPrefix(rt.EntryFile, ".") {
		return Runtime{}, appErr.ValidationError("policy.runtime.entryFile", "must be a plain file name")
	}
	if rt.Env == nil {
		rt.Env = defaults.Env
	}
	for _, kv := range rt.Env {
		if !strings.Contains(kv, "=") {
			return Runtime{}, appErr.ValidationError("policy.runtime.env", fmt.Sprintf("entry %q is not KEY=VALUE", kv))
		}
	}
	if rt.Mounts == nil {
		rt.Mounts = defaults.Mounts
	}
	for _, m := range rt.Mounts {
		if !strings.HasPrefix(m.Source, "/") || !strings.HasPrefix(m.Target, "/") {
			return Runtime{}, appErr.ValidationError("policy.runtime.mounts", "source and target must be absolute")
		}
		if m.Target == SandboxDir || strings.HasPrefix(m.Target, SandboxDir+"/") {
			return Runtime{}, appErr.ValidationError("policy.runtime.mounts", fmt.Sprintf("target %q shadows the workspace", m.Target))
		}
		if strings.Contains(m.Target, "..") {
			return Runtime{}, appErr.ValidationError("policy.runtime.mounts", fmt.Sprintf("target %q escapes the root", m.Target))
		}
	}
	return rt, nil
}

func orDefault(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}
