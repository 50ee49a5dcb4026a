package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.BaseURL != DefaultBaseURL || cfg.Timeout != DefaultTimeout || !*cfg.PrettyJSON {
		t.Fatalf("defaults = %+v", cfg)
	}

	path := filepath.Join(dir, "cli.yaml")
	body := "baseURL: http://runner:9000\ntimeout: 5s\nprettyJSON: false\ngzipThreshold: -1\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BaseURL != "http://runner:9000" || cfg.Timeout != 5*time.Second || *cfg.PrettyJSON || cfg.GzipThreshold != -1 {
		t.Fatalf("cfg = %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("timeout: ["), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
