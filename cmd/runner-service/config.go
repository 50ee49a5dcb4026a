package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"coderunner/internal/common/cache"
	"coderunner/internal/sandbox/environment"
	"coderunner/internal/sandbox/policy"
	"coderunner/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second
	defaultReaperInterval  = time.Minute
	defaultWorkspaceMaxAge = 10 * time.Minute
	defaultAdmissionWait   = 2 * time.Second
	defaultOverhead        = 2 * time.Second
	defaultRateWindow      = time.Minute
	defaultRateMax         = 60
	defaultMetricsPath     = "/metrics"
	defaultCgroupRoot      = "/sys/fs/cgroup/coderunner"

	rateBackendLocal = "local"
	rateBackendRedis = "redis"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// PolicyConfig holds the catalog inline or points at a standalone file.
type PolicyConfig struct {
	File          string `yaml:"file"`
	policy.Config `yaml:",inline"`
}

// WorkspaceConfig holds scratch directory settings.
type WorkspaceConfig struct {
	Root           string        `yaml:"root"`
	ReaperInterval time.Duration `yaml:"reaperInterval"`
	MaxAge         time.Duration `yaml:"maxAge"`
}

// SandboxConfig holds isolation settings.
type SandboxConfig struct {
	HelperPath        string                 `yaml:"helperPath"`
	Strictness        environment.Strictness `yaml:"strictness"`
	EnableNamespaces  bool                   `yaml:"enableNamespaces"`
	EnableSeccomp     bool                   `yaml:"enableSeccomp"`
	SeccompProfile    string                 `yaml:"seccompProfile"`
	EnableCgroup      bool                   `yaml:"enableCgroup"`
	CgroupRoot        string                 `yaml:"cgroupRoot"`
	KillOnOutputLimit bool                   `yaml:"killOnOutputLimit"`
	WaitDelay         time.Duration          `yaml:"waitDelay"`
}

// AdmissionConfig bounds host-wide concurrency.
type AdmissionConfig struct {
	MaxConcurrent       int           `yaml:"maxConcurrent"`
	Wait                time.Duration `yaml:"wait"`
	SupervisoryOverhead time.Duration `yaml:"supervisoryOverhead"`
}

// RateLimitConfig holds per client IP limits for execute.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Backend string        `yaml:"backend"`
	Max     int           `yaml:"max"`
	Window  time.Duration `yaml:"window"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds runner-service config.
type AppConfig struct {
	Server    ServerConfig      `yaml:"server"`
	Logger    logger.Config     `yaml:"logger"`
	Policy    PolicyConfig      `yaml:"policy"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Sandbox   SandboxConfig     `yaml:"sandbox"`
	Admission AdmissionConfig   `yaml:"admission"`
	RateLimit RateLimitConfig   `yaml:"rateLimit"`
	Redis     cache.RedisConfig `yaml:"redis"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validateAppConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = filepath.Join(os.TempDir(), "coderunner")
	}
	if cfg.Workspace.ReaperInterval == 0 {
		cfg.Workspace.ReaperInterval = defaultReaperInterval
	}
	if cfg.Workspace.MaxAge == 0 {
		cfg.Workspace.MaxAge = defaultWorkspaceMaxAge
	}
	if cfg.Sandbox.Strictness == "" {
		cfg.Sandbox.Strictness = environment.StrictnessStrict
	}
	if cfg.Sandbox.EnableCgroup && cfg.Sandbox.CgroupRoot == "" {
		cfg.Sandbox.CgroupRoot = defaultCgroupRoot
	}
	if cfg.Admission.MaxConcurrent <= 0 {
		cfg.Admission.MaxConcurrent = runtime.NumCPU()
	}
	if cfg.Admission.Wait == 0 {
		cfg.Admission.Wait = defaultAdmissionWait
	}
	if cfg.Admission.SupervisoryOverhead == 0 {
		cfg.Admission.SupervisoryOverhead = defaultOverhead
	}
	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = rateBackendLocal
	}
	if cfg.RateLimit.Max == 0 {
		cfg.RateLimit.Max = defaultRateMax
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = defaultRateWindow
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}

func validateAppConfig(cfg *AppConfig) error {
	switch cfg.Sandbox.Strictness {
	case environment.StrictnessStrict, environment.StrictnessPermissive:
	default:
		return fmt.Errorf("sandbox.strictness must be strict or permissive, got %q", cfg.Sandbox.Strictness)
	}
	if cfg.Sandbox.Strictness == environment.StrictnessStrict && !cfg.Sandbox.EnableNamespaces {
		return fmt.Errorf("sandbox.strictness strict requires sandbox.enableNamespaces")
	}
	if cfg.Sandbox.SeccompProfile != "" && !cfg.Sandbox.EnableSeccomp {
		return fmt.Errorf("sandbox.seccompProfile is set but sandbox.enableSeccomp is false")
	}
	if cfg.RateLimit.Enabled {
		switch strings.ToLower(cfg.RateLimit.Backend) {
		case rateBackendLocal:
		case rateBackendRedis:
			if cfg.Redis.Addr == "" {
				return fmt.Errorf("redis addr is required for the redis rate limit backend")
			}
		default:
			return fmt.Errorf("rateLimit.backend must be local or redis, got %q", cfg.RateLimit.Backend)
		}
	}
	if cfg.Admission.Wait < 0 {
		return fmt.Errorf("admission.wait must not be negative")
	}
	return nil
}

// loadCatalog builds the policy from the file when one is named, otherwise
// from the inline section.
func loadCatalog(cfg PolicyConfig) (*policy.Catalog, error) {
	if cfg.File != "" {
		return policy.LoadFile(cfg.File)
	}
	return policy.Load(cfg.Config)
}
