package policy

import (
	"os"
	"path/filepath"
	"testing"

	"coderunner/internal/sandbox/spec"
	appErr "coderunner/pkg/errors"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	cases := []struct {
		name  string
		cap   Capability
		allow bool
	}{
		{name: "math module", cap: Module("math"), allow: true},
		{name: "json module", cap: Module("json"), allow: true},
		{name: "print builtin", cap: Builtin("print"), allow: true},
		{name: "os module", cap: Module("os"), allow: false},
		{name: "subprocess module", cap: Module("subprocess"), allow: false},
		{name: "open builtin", cap: Builtin("open"), allow: false},
		{name: "eval builtin", cap: Builtin("eval"), allow: false},
		{name: "type builtin", cap: Builtin("type"), allow: false},
		{name: "unknown module", cap: Module("numpy"), allow: false},
		{name: "kind matters", cap: Builtin("math"), allow: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := c.Allows(tc.cap); got != tc.allow {
				t.Fatalf("Allows(%s) = %v, want %v", tc.cap, got, tc.allow)
			}
		})
	}

	if c.Version() != DefaultVersion {
		t.Fatalf("unexpected version %q", c.Version())
	}
	limits := c.Limits()
	if limits.MaxCodeBytes != 1<<20 || limits.MaxWallClockMillis != 10_000 || limits.MaxMemoryBytes != 256<<20 {
		t.Fatalf("unexpected default limits: %+v", limits)
	}
}

func TestCapabilitiesSortedCopy(t *testing.T) {
	c := Default()
	caps := c.Capabilities()
	if len(caps) != len(c.ModuleNames())+len(c.BuiltinNames()) {
		t.Fatalf("capability count mismatch")
	}
	for i := 1; i < len(caps); i++ {
		prev, cur := caps[i-1], caps[i]
		if prev.Kind > cur.Kind || (prev.Kind == cur.Kind && prev.Name >= cur.Name) {
			t.Fatalf("capabilities not sorted at %d: %s then %s", i, prev, cur)
		}
	}
	caps[0] = Module("os")
	if c.Allows(Module("os")) {
		t.Fatalf("mutating the returned slice changed the catalog")
	}
	mods := c.ModuleNames()
	mods[0] = "os"
	if c.ModuleNames()[0] == "os" {
		t.Fatalf("ModuleNames returned shared storage")
	}
}

func TestLoadRejectsUnsafeEntries(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{name: "unsafe builtin", cfg: Config{Builtins: []string{"print", "open"}}},
		{name: "unsafe module", cfg: Config{Modules: []string{"math", "os"}}},
		{name: "dotted module", cfg: Config{Modules: []string{"os.path"}}},
		{name: "empty name", cfg: Config{Modules: []string{""}}},
		{name: "negative limit", cfg: Config{Limits: LimitsConfig{MaxMemoryBytes: -1}}},
		{name: "cpu below wall", cfg: Config{Limits: LimitsConfig{MaxWallClockMillis: 5000, CPUTimeMillis: 1000}}},
		{name: "command without bootstrap", cfg: Config{Runtime: RuntimeConfig{Command: "python3 main.py"}}},
		{name: "entry with path", cfg: Config{Runtime: RuntimeConfig{EntryFile: "../main.py"}}},
		{name: "env without equals", cfg: Config{Runtime: RuntimeConfig{Env: []string{"PATH"}}}},
		{name: "identifier starting with digit", cfg: Config{Modules: []string{"1abc"}}},
		{name: "relative mount", cfg: Config{Runtime: RuntimeConfig{Mounts: []spec.MountSpec{{Source: "usr", Target: "/usr"}}}}},
		{name: "mount over workspace", cfg: Config{Runtime: RuntimeConfig{Mounts: []spec.MountSpec{{Source: "/tmp", Target: "/sandbox/x"}}}}},
		{name: "python under languages", cfg: Config{Languages: map[string]LanguageConfig{"python": {}}}},
		{name: "unknown language", cfg: Config{Languages: map[string]LanguageConfig{"ruby": {}}}},
		{name: "language listed twice", cfg: Config{Languages: map[string]LanguageConfig{"javascript": {}, "JavaScript": {}}}},
		{name: "unsafe javascript module", cfg: Config{Languages: map[string]LanguageConfig{"javascript": {Modules: []string{"child_process"}}}}},
		{name: "unsafe javascript builtin", cfg: Config{Languages: map[string]LanguageConfig{"javascript": {Builtins: []string{"console", "process"}}}}},
		{name: "negative runtime processes", cfg: Config{Languages: map[string]LanguageConfig{"javascript": {Runtime: RuntimeConfig{MaxProcesses: -1}}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.cfg)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !appErr.Is(err, appErr.ValidationFailed) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestForLanguage(t *testing.T) {
	root, err := Load(Config{Languages: map[string]LanguageConfig{LanguageJavaScript: {}}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := root.Languages(); len(got) != 2 || got[0] != LanguageJavaScript || got[1] != LanguagePython {
		t.Fatalf("languages = %v", got)
	}

	cases := []struct {
		name     string
		language string
		want     string
		wantCode appErr.ErrorCode
	}{
		{name: "empty selects python", language: "", want: LanguagePython},
		{name: "python", language: "python", want: LanguagePython},
		{name: "case folded", language: " JavaScript ", want: LanguageJavaScript},
		{name: "unknown", language: "ruby", wantCode: appErr.UnsupportedLanguage},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			view, err := root.ForLanguage(tc.language)
			if tc.wantCode != 0 {
				if !appErr.Is(err, tc.wantCode) || !appErr.InvalidInput(err) {
					t.Fatalf("expected code %d, got %v", tc.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ForLanguage(%q): %v", tc.language, err)
			}
			if view.Language() != tc.want {
				t.Fatalf("language = %q, want %q", view.Language(), tc.want)
			}
			if len(view.Languages()) != 2 {
				t.Fatalf("views must share the language set")
			}
		})
	}

	js, _ := root.ForLanguage(LanguageJavaScript)
	if !js.Allows(Module("assert")) || js.Allows(Module("fs")) || js.Allows(Module("math")) {
		t.Fatalf("javascript allow-list = %v", js.Capabilities())
	}
	if !js.Allows(Builtin("console")) || js.Allows(Builtin("print")) {
		t.Fatalf("javascript builtins = %v", js.BuiltinNames())
	}
	rt := js.Runtime()
	if !rt.Threaded || rt.MaxProcesses != JavaScriptProcesses || rt.EntryFile != JavaScriptEntryFile {
		t.Fatalf("javascript runtime = %+v", rt)
	}
	if js.Limits() != root.Limits() {
		t.Fatalf("languages must share the limits")
	}
	if py := root.Runtime(); py.Threaded || py.MaxProcesses != 0 {
		t.Fatalf("python runtime = %+v", py)
	}

	s := root.Summary()
	if s.Language != LanguagePython || len(s.Languages) != 2 || s.Languages[0].Name != LanguageJavaScript {
		t.Fatalf("summary = %+v", s)
	}

	if _, err := Default().ForLanguage(LanguageJavaScript); !appErr.Is(err, appErr.UnsupportedLanguage) {
		t.Fatalf("default catalog should only serve python, got %v", err)
	}
}

func TestLoadEmptyAllowListDeniesEverything(t *testing.T) {
	c, err := Load(Config{Modules: []string{}, Builtins: []string{}})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Capabilities()) != 0 {
		t.Fatalf("expected no capabilities, got %v", c.Capabilities())
	}
	if c.Allows(Builtin("print")) {
		t.Fatalf("print should not be allowed")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	content := `
version: "2024-06"
modules: [math, json, math]
builtins: [print, len]
limits:
  maxWallClockMillis: 2000
  maxOutputBytes: 1024
runtime:
  command: "python3 -I {bootstrap} {manifest}"
  mounts:
    - source: /usr
      target: /usr
      readOnly: true
languages:
  javascript:
    modules: [assert]
    runtime:
      maxProcesses: 16
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if c.Version() != "2024-06" {
		t.Fatalf("version = %q", c.Version())
	}
	if got := c.ModuleNames(); len(got) != 2 || got[0] != "json" || got[1] != "math" {
		t.Fatalf("modules = %v", got)
	}
	limits := c.Limits()
	if limits.MaxWallClockMillis != 2000 || limits.MaxOutputBytes != 1024 || limits.MaxCodeBytes != DefaultMaxCodeBytes {
		t.Fatalf("limits = %+v", limits)
	}
	run := limits.RunLimits()
	if run.CPUTimeMs != 3000 || run.WallTimeMs != 2000 {
		t.Fatalf("run limits = %+v", run)
	}
	rt := c.Runtime()
	if len(rt.Mounts) != 1 || !rt.Mounts[0].ReadOnly {
		t.Fatalf("mounts = %+v", rt.Mounts)
	}
	if rt.EntryFile != DefaultEntryFile {
		t.Fatalf("entry = %q", rt.EntryFile)
	}
	js, err := c.ForLanguage(LanguageJavaScript)
	if err != nil {
		t.Fatalf("javascript: %v", err)
	}
	if got := js.ModuleNames(); len(got) != 1 || got[0] != "assert" {
		t.Fatalf("javascript modules = %v", got)
	}
	if js.Runtime().MaxProcesses != 16 || js.Runtime().Command != JavaScriptCommand {
		t.Fatalf("javascript runtime = %+v", js.Runtime())
	}
}
