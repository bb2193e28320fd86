package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Validation.Budget != time.Second {
		t.Errorf("Validation.Budget = %s, want 1s", cfg.Validation.Budget)
	}
	if cfg.Validation.AnalyzerBudget != 500*time.Millisecond {
		t.Errorf("Validation.AnalyzerBudget = %s, want 500ms", cfg.Validation.AnalyzerBudget)
	}
	if cfg.Cache.Backend != "memory" {
		t.Errorf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
	}
	if !cfg.Policy.Watch {
		t.Error("Policy.Watch = false, want true")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return DefaultConfig()
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"server port 0", func(c *Config) { c.Server.Port = 0 }, true},
		{"server port 99999", func(c *Config) { c.Server.Port = 99999 }, true},
		{"budget too small", func(c *Config) { c.Validation.Budget = time.Millisecond }, true},
		{"analyzer_budget > budget", func(c *Config) {
			c.Validation.Budget = 100 * time.Millisecond
			c.Validation.AnalyzerBudget = 200 * time.Millisecond
		}, true},
		{"max_code_bytes 0", func(c *Config) { c.Validation.MaxCodeBytes = 0 }, true},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "redis" }, true},
		{"postgres backend without dsn", func(c *Config) { c.Cache.Backend = "postgres" }, true},
		{"postgres backend with dsn", func(c *Config) {
			c.Cache.Backend = "postgres"
			c.Database.DSN = "postgres://toolgate@localhost/toolgate"
		}, false},
		{"relative policy path", func(c *Config) { c.Policy.Path = "relative/policy.yaml" }, true},
		{"absolute policy path", func(c *Config) { c.Policy.Path = "/etc/toolgate/policy.yaml" }, false},
		{"TLS enabled without cert", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = ""
			c.TLS.KeyFile = ""
		}, true},
		{"TLS enabled with cert+key", func(c *Config) {
			c.TLS.Enabled = true
			c.TLS.CertFile = "/etc/ssl/cert.pem"
			c.TLS.KeyFile = "/etc/ssl/key.pem"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
server:
  host: "127.0.0.1"
  port: 9090
validation:
  budget: 2s
  analyzer_budget: 750ms
cache:
  backend: postgres
database:
  dsn: "postgres://toolgate@localhost/toolgate"
policy:
  path: /etc/toolgate/policy.yaml
`
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(yamlContent); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want %q", cfg.Server.Host, "127.0.0.1")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Validation.Budget != 2*time.Second {
		t.Errorf("Validation.Budget = %s, want 2s", cfg.Validation.Budget)
	}
	if cfg.Validation.AnalyzerBudget != 750*time.Millisecond {
		t.Errorf("Validation.AnalyzerBudget = %s, want 750ms", cfg.Validation.AnalyzerBudget)
	}
	if cfg.Cache.Backend != "postgres" {
		t.Errorf("Cache.Backend = %q, want postgres", cfg.Cache.Backend)
	}
	if cfg.Policy.Path != "/etc/toolgate/policy.yaml" {
		t.Errorf("Policy.Path = %q", cfg.Policy.Path)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Database.AuditBuffer != 10000 {
		t.Errorf("Database.AuditBuffer = %d, want default 10000", cfg.Database.AuditBuffer)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestAddress(t *testing.T) {
	cfg := DefaultConfig()
	want := "0.0.0.0:8080"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 3000
	want = "127.0.0.1:3000"
	if got := cfg.Address(); got != want {
		t.Errorf("Address() = %q, want %q", got, want)
	}
}
