// Package policy holds the process-wide catalog of what a snippet may reach
// and the resource ceilings it runs under.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

// Languages a catalog can carry a runtime for.
const (
	LanguagePython     = "python"
	LanguageJavaScript = "javascript"
)

// CapabilityKind distinguishes importable modules from builtin names.
type CapabilityKind string

const (
	KindModule  CapabilityKind = "module"
	KindBuiltin CapabilityKind = "builtin"
)

// Capability is one interpreter facility a snippet may use.
type Capability struct {
	Kind CapabilityKind `json:"kind"`
	Name string         `json:"name"`
}

func (c Capability) String() string {
	return string(c.Kind) + ":" + c.Name
}

// Module is shorthand for a module capability.
func Module(name string) Capability { return Capability{Kind: KindModule, Name: name} }

// Builtin is shorthand for a builtin capability.
func Builtin(name string) Capability { return Capability{Kind: KindBuiltin, Name: name} }

// ResourceLimits are the ceilings applied to every run.
type ResourceLimits struct {
	MaxWallClockMillis int64 `json:"maxWallClockMillis"`
	CPUTimeMillis      int64 `json:"cpuTimeMillis"`
	MaxMemoryBytes     int64 `json:"maxMemoryBytes"`
	MaxOutputBytes     int64 `json:"maxOutputBytes"`
	MaxCodeBytes       int64 `json:"maxCodeBytes"`
	MaxProcesses       int64 `json:"maxProcesses"`
	MaxOpenFiles       int64 `json:"maxOpenFiles"`
	MaxScratchBytes    int64 `json:"maxScratchBytes"`
}

// RunLimits converts catalog ceilings into engine limits.
func (l ResourceLimits) RunLimits() spec.ResourceLimit {
	cpu := l.CPUTimeMillis
	if cpu <= 0 {
		cpu = l.MaxWallClockMillis + 1000
	}
	return spec.ResourceLimit{
		CPUTimeMs:     cpu,
		WallTimeMs:    l.MaxWallClockMillis,
		MemoryBytes:   l.MaxMemoryBytes,
		OutputBytes:   l.MaxOutputBytes,
		FileSizeBytes: l.MaxScratchBytes,
		Processes:     l.MaxProcesses,
		OpenFiles:     l.MaxOpenFiles,
	}
}

// Runtime describes how the interpreter is launched.
type Runtime struct {
	// Command is a shell-like template. {bootstrap}, {manifest}, {entry},
	// {workdir} and {memoryMB} are replaced per token after splitting.
	Command   string
	EntryFile string
	Env       []string
	Mounts    []spec.MountSpec
	// Threaded interpreters start helper threads and reserve address space
	// up front, so they are bounded by the cgroup instead of RLIMIT_AS and
	// RLIMIT_NPROC.
	Threaded bool
	// MaxProcesses overrides the catalog's process ceiling when set.
	MaxProcesses int64
}

// Catalog is immutable once built; all accessors return copies. A catalog
// is the view of one language; the others are reached through ForLanguage.
type Catalog struct {
	version   string
	language  string
	allowed   map[Capability]struct{}
	modules   []string
	builtins  []string
	limits    ResourceLimits
	runtime   Runtime
	languages map[string]*Catalog
}

// Version identifies the loaded policy.
func (c *Catalog) Version() string { return c.version }

// Language names the runtime this view describes.
func (c *Catalog) Language() string { return c.language }

// Languages returns every configured language, sorted.
func (c *Catalog) Languages() []string {
	out := make([]string, 0, len(c.languages))
	for name := range c.languages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ForLanguage returns the view for name. An empty name selects the default
// language.
func (c *Catalog) ForLanguage(name string) (*Catalog, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = LanguagePython
	}
	view, ok := c.languages[name]
	if !ok {
		return nil, appErr.Newf(appErr.UnsupportedLanguage, "Language %q is not supported", name).
			WithDetail("supported", c.Languages())
	}
	return view, nil
}

// Allows reports whether the capability is on the allow-list.
func (c *Catalog) Allows(capability Capability) bool {
	_, ok := c.allowed[capability]
	return ok
}

// Capabilities returns the allow-list sorted by kind then name.
func (c *Catalog) Capabilities() []Capability {
	out := make([]Capability, 0, len(c.allowed))
	for capability := range c.allowed {
		out = append(out, capability)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ModuleNames returns the allowed module roots, sorted.
func (c *Catalog) ModuleNames() []string { return append([]string(nil), c.modules...) }

// BuiltinNames returns the allowed builtin names, sorted.
func (c *Catalog) BuiltinNames() []string { return append([]string(nil), c.builtins...) }

// Limits returns the resource ceilings.
func (c *Catalog) Limits() ResourceLimits { return c.limits }

// Runtime returns the interpreter launch description.
func (c *Catalog) Runtime() Runtime {
	rt := c.runtime
	rt.Env = append([]string(nil), c.runtime.Env...)
	rt.Mounts = append([]spec.MountSpec(nil), c.runtime.Mounts...)
	return rt
}

// Summary is the serialisable view served by the policy endpoint.
type Summary struct {
	Version      string            `json:"version"`
	Language     string            `json:"language"`
	Capabilities []Capability      `json:"capabilities"`
	Limits       ResourceLimits    `json:"limits"`
	Languages    []LanguageSummary `json:"languages"`
}

// LanguageSummary lists the allow-list of one language.
type LanguageSummary struct {
	Name         string       `json:"name"`
	Capabilities []Capability `json:"capabilities"`
}

// Summary returns a read-only snapshot of the catalog.
func (c *Catalog) Summary() Summary {
	s := Summary{
		Version:      c.version,
		Language:     c.language,
		Capabilities: c.Capabilities(),
		Limits:       c.limits,
	}
	for _, name := range c.Languages() {
		s.Languages = append(s.Languages, LanguageSummary{Name: name, Capabilities: c.languages[name].Capabilities()})
	}
	return s
}

func newCatalog(version, language string, modules, builtins []string, limits ResourceLimits, rt Runtime) (*Catalog, error) {
	profile, ok := languageProfiles[language]
	if !ok {
		return nil, fmt.Errorf("unknown language %q", language)
	}
	c := &Catalog{
		version:  version,
		language: language,
		allowed:  make(map[Capability]struct{}, len(modules)+len(builtins)),
		limits:   limits,
		runtime:  rt,
	}
	for _, name := range modules {
		name = strings.TrimSpace(name)
		if err := checkModule(profile, name); err != nil {
			return nil, err
		}
		if _, dup := c.allowed[Module(name)]; dup {
			continue
		}
		c.allowed[Module(name)] = struct{}{}
		c.modules = append(c.modules, name)
	}
	for _, name := range builtins {
		name = strings.TrimSpace(name)
		if err := checkBuiltin(profile, name); err != nil {
			return nil, err
		}
		if _, dup := c.allowed[Builtin(name)]; dup {
			continue
		}
		c.allowed[Builtin(name)] = struct{}{}
		c.builtins = append(c.builtins, name)
	}
	sort.Strings(c.modules)
	sort.Strings(c.builtins)
	return c, nil
}

func checkModule(profile languageProfile, name string) error {
	if !isIdentifier(name) {
		return fmt.Errorf("invalid module name %q", name)
	}
	if _, bad := profile.unsafeModules[name]; bad {
		return fmt.Errorf("module %q cannot be allowed", name)
	}
	return nil
}

func checkBuiltin(profile languageProfile, name string) error {
	if !isIdentifier(name) {
		return fmt.Errorf("invalid builtin name %q", name)
	}
	if _, bad := profile.unsafeBuiltins[name]; bad {
		return fmt.Errorf("builtin %q cannot be allowed", name)
	}
	return nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
