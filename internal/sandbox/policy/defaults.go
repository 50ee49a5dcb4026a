package policy

import "coderunner/internal/sandbox/spec"

const (
	DefaultVersion            = "builtin-1"
	DefaultMaxWallClockMillis = 10_000
	DefaultMaxMemoryBytes     = 256 << 20
	DefaultMaxOutputBytes     = 64 << 10
	DefaultMaxCodeBytes       = 1 << 20
	DefaultMaxProcesses       = 8
	DefaultMaxOpenFiles       = 64
	DefaultMaxScratchBytes    = 1 << 20
	DefaultEntryFile          = "main.py"
	DefaultCommand            = "python3 -I -S -B -u -X utf8 {bootstrap} {manifest}"
	// JavaScriptProcesses covers the interpreter's own helper threads.
	JavaScriptProcesses = 32
	JavaScriptEntryFile = "main.js"
	JavaScriptCommand   = "node --max-old-space-size={memoryMB} --v8-pool-size=2 " +
		"--disallow-code-generation-from-strings --disable-proto=delete {bootstrap} {manifest}"
	// SandboxDir is the workspace directory as seen inside the restricted root.
	SandboxDir                 = "/sandbox"
	defaultPathEnv             = "PATH=/usr/local/bin:/usr/bin:/bin"
	defaultLangEnv             = "LANG=C.UTF-8"
	defaultPythonEncodingEnv   = "PYTHONIOENCODING=utf-8"
	defaultPythonHashSeedEnv   = "PYTHONHASHSEED=random"
	defaultPythonNoUserSiteEnv = "PYTHONNOUSERSITE=1"
)

// DefaultModules are the module roots a snippet may import.
var DefaultModules = []string{
	"math", "cmath", "decimal", "fractions", "statistics",
	"random", "re", "json", "string",
}

// DefaultBuiltins are the builtin names bound into the snippet's globals.
var DefaultBuiltins = []string{
	"print", "len", "range", "list", "dict", "set", "frozenset", "tuple",
	"str", "int", "float", "complex", "bool", "bytes", "bytearray",
	"isinstance", "issubclass", "callable", "hash", "id",
	"abs", "all", "any", "bin", "chr", "ord", "hex", "oct", "round",
	"sum", "min", "max", "sorted", "reversed", "enumerate", "zip", "map", "filter",
	"divmod", "pow", "iter", "next", "repr", "ascii", "format", "slice",
	"object", "super", "property", "staticmethod", "classmethod", "__build_class__",
	"Exception", "ArithmeticError", "AssertionError", "AttributeError",
	"IndexError", "KeyError", "LookupError", "NameError", "NotImplementedError",
	"OverflowError", "RecursionError", "RuntimeError", "StopIteration",
	"TypeError", "ValueError", "ZeroDivisionError", "ImportError",
	"ModuleNotFoundError", "MemoryError", "UnicodeError",
	"NotImplemented", "Ellipsis",
}

// Builtins that expose the interpreter, the filesystem or the import
// machinery. A catalog listing any of them fails to load.
var unsafePythonBuiltins = map[string]struct{}{
	"open": {}, "eval": {}, "exec": {}, "compile": {}, "__import__": {},
	"input": {}, "globals": {}, "locals": {}, "vars": {}, "dir": {},
	"getattr": {}, "setattr": {}, "delattr": {}, "hasattr": {}, "type": {},
	"breakpoint": {}, "help": {}, "memoryview": {}, "exit": {}, "quit": {},
	"__loader__": {}, "__spec__": {}, "__builtins__": {},
}

var unsafePythonModules = map[string]struct{}{
	"os": {}, "sys": {}, "subprocess": {}, "socket": {}, "builtins": {},
	"importlib": {}, "ctypes": {}, "io": {}, "shutil": {}, "pathlib": {},
	"signal": {}, "threading": {}, "multiprocessing": {}, "gc": {},
	"inspect": {}, "pickle": {}, "marshal": {}, "code": {}, "pty": {},
	"posix": {}, "resource": {}, "types": {}, "sysconfig": {}, "runpy": {},
	"tempfile": {}, "codecs": {}, "mmap": {}, "fcntl": {}, "select": {},
	"asyncio": {}, "urllib": {}, "http": {}, "ssl": {}, "site": {},
}

// DefaultMounts are the read-only host paths the interpreter needs inside
// the restricted root.
var DefaultMounts = []spec.MountSpec{
	{Source: "/usr", Target: "/usr", ReadOnly: true},
	{Source: "/lib", Target: "/lib", ReadOnly: true, Optional: true},
	{Source: "/lib64", Target: "/lib64", ReadOnly: true, Optional: true},
	{Source: "/bin", Target: "/bin", ReadOnly: true, Optional: true},
	{Source: "/etc/ld.so.cache", Target: "/etc/ld.so.cache", ReadOnly: true, Optional: true},
	{Source: "/etc/localtime", Target: "/etc/localtime", ReadOnly: true, Optional: true},
	{Source: "/dev/null", Target: "/dev/null", ReadOnly: true},
	{Source: "/dev/urandom", Target: "/dev/urandom", ReadOnly: true, Optional: true},
	{Source: "/dev/zero", Target: "/dev/zero", ReadOnly: true, Optional: true},
}

// DefaultEnv is the complete child environment; nothing is inherited.
var DefaultEnv = []string{
	defaultPathEnv,
	defaultLangEnv,
	defaultPythonEncodingEnv,
	defaultPythonHashSeedEnv,
	defaultPythonNoUserSiteEnv,
}

// JavaScriptModules are the node core modules a snippet may require.
var JavaScriptModules = []string{
	"assert", "events", "querystring", "string_decoder", "url",
}

// JavaScriptBuiltins are host globals copied into the snippet's context.
// Language intrinsics (Math, JSON, Array, ...) are always present.
var JavaScriptBuiltins = []string{
	"console", "setTimeout", "clearTimeout", "setInterval", "clearInterval",
	"setImmediate", "clearImmediate", "queueMicrotask", "structuredClone",
	"TextEncoder", "TextDecoder", "URL", "URLSearchParams",
}

var unsafeJavaScriptModules = map[string]struct{}{
	"fs": {}, "child_process": {}, "net": {}, "http": {}, "https": {},
	"http2": {}, "dgram": {}, "dns": {}, "tls": {}, "os": {}, "vm": {},
	"worker_threads": {}, "cluster": {}, "process": {}, "module": {},
	"v8": {}, "inspector": {}, "repl": {}, "perf_hooks": {}, "async_hooks": {},
	"wasi": {}, "trace_events": {}, "diagnostics_channel": {},
}

var unsafeJavaScriptBuiltins = map[string]struct{}{
	"eval": {}, "Function": {}, "process": {}, "require": {}, "module": {},
	"exports": {}, "global": {}, "globalThis": {}, "fetch": {},
	"WebAssembly": {}, "Buffer": {}, "SharedArrayBuffer": {}, "Atomics": {},
	"__dirname": {}, "__filename": {},
}

// JavaScriptEnv is the complete child environment for node.
var JavaScriptEnv = []string{
	defaultPathEnv,
	defaultLangEnv,
	"NODE_OPTIONS=",
	"NODE_DISABLE_COLORS=1",
	"UV_THREADPOOL_SIZE=2",
}

// languageProfile holds the built-in defaults and the never-allowed names
// of one language.
type languageProfile struct {
	modules        []string
	builtins       []string
	runtime        Runtime
	unsafeModules  map[string]struct{}
	unsafeBuiltins map[string]struct{}
}

var languageProfiles = map[string]languageProfile{
	LanguagePython: {
		modules:  DefaultModules,
		builtins: DefaultBuiltins,
		runtime: Runtime{
			Command:   DefaultCommand,
			EntryFile: DefaultEntryFile,
			Env:       DefaultEnv,
			Mounts:    DefaultMounts,
		},
		unsafeModules:  unsafePythonModules,
		unsafeBuiltins: unsafePythonBuiltins,
	},
	LanguageJavaScript: {
		modules:  JavaScriptModules,
		builtins: JavaScriptBuiltins,
		runtime: Runtime{
			Command:      JavaScriptCommand,
			EntryFile:    JavaScriptEntryFile,
			Env:          JavaScriptEnv,
			Mounts:       DefaultMounts,
			Threaded:     true,
			MaxProcesses: JavaScriptProcesses,
		},
		unsafeModules:  unsafeJavaScriptModules,
		unsafeBuiltins: unsafeJavaScriptBuiltins,
	},
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Load(Config{})
	if err != nil {
		panic("policy: built-in defaults are invalid: " + err.Error())
	}
	return c
}
