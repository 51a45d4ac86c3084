package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("QWENAI_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	ResetForTest()
	defer ResetForTest()
	if _, err := Load(); err == nil {
		t.Fatal("an explicit config path that does not exist must fail")
	}
}

func TestLoadFile_DefaultsWhenAbsent(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "config.yaml"), false)
	if err != nil {
		t.Fatalf("optional config should fall back to defaults: %v", err)
	}
	if cfg.HTTP.Timeout != 30*time.Second || cfg.HTTP.MaxConcurrentRequests != 5 {
		t.Errorf("unexpected http defaults: %+v", cfg.HTTP)
	}
	if cfg.Agent.MaxToolIterations != 10 || cfg.Retry.MaxAttempts != 4 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Storage.Path == "" {
		t.Error("storage path default missing")
	}
}

func TestLoadFile_FileAndEnv(t *testing.T) {
	t.Setenv("STORE_DIR", "/var/lib/qwenai")
	t.Setenv("QWENAI__HTTP__TIMEOUT", "12s")
	t.Setenv("QWENAI__LOCALE", "de")
	path := writeConfig(t, `
storage:
  path: ${STORE_DIR}/entries.yaml
http:
  timeout: 45s
  max_concurrent_requests: 2
retry:
  max_attempts: 2
  base_delay: 250ms
log:
  level: debug
  format: json
endpoints:
  - name: vllm
    prefix: gpu-box.lan:8000/v1
    tool_calling: true
    headers:
      X-Team: home
`)
	cfg, err := LoadFile(path, true)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Path != "/var/lib/qwenai/entries.yaml" {
		t.Errorf("env var not resolved in storage path: %s", cfg.Storage.Path)
	}
	if cfg.HTTP.Timeout != 12*time.Second {
		t.Errorf("env override should beat file, got %v", cfg.HTTP.Timeout)
	}
	if cfg.HTTP.MaxConcurrentRequests != 2 || cfg.Locale != "de" {
		t.Errorf("unexpected values: %+v", cfg)
	}
	rp := cfg.RetryPolicy()
	if rp.MaxAttempts != 2 || rp.BaseDelay != 250*time.Millisecond || rp.MaxDelay != 8*time.Second {
		t.Errorf("retry section not merged over defaults: %+v", rp)
	}
	if len(cfg.Endpoints) != 1 || cfg.Endpoints[0].Headers["X-Team"] != "home" {
		t.Fatalf("endpoints not decoded: %+v", cfg.Endpoints)
	}

	p := cfg.CapabilityTable().Lookup("http://gpu-box.lan:8000/v1")
	if p.Name != "vllm" || !p.Flags.ToolCalling || p.Flags.Vision {
		t.Errorf("configured endpoint not in table: %+v", p)
	}
	if cfg.CapabilityTable().Lookup("https://api.openai.com/v1").Name != "openai" {
		t.Error("built-in rows lost when extending the table")
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	for name, body := range map[string]string{
		"zero concurrency": "http:\n  max_concurrent_requests: 0\n",
		"endpoint prefix":  "endpoints:\n  - name: x\n",
		"bad yaml":         "http: [",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFile(writeConfig(t, body), true); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(LogConfig{Level: "warn", Format: "json"}.Handler(&buf))
	logger.Info("hidden")
	logger.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if (LogConfig{Level: "bogus"}).SlogLevel() != slog.LevelInfo {
		t.Fatal("unknown level should default to info")
	}
}

func TestResolveEnvString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVar   string
		envValue string
		setEnv   bool
		expected string
	}{
		{
			name:     "replaces set environment variable",
			input:    "api-${API_KEY}-suffix",
			envVar:   "API_KEY",
			envValue: "test123",
			setEnv:   true,
			expected: "api-test123-suffix",
		},
		{
			name:     "handles empty environment variable",
			input:    "prefix-${EMPTY_VAR}-suffix",
			envVar:   "EMPTY_VAR",
			envValue: "",
			setEnv:   true,
			expected: "prefix--suffix",
		},
		{
			name:     "handles unset environment variable",
			input:    "prefix-${UNSET_VAR_QWENAI}-suffix",
			envVar:   "UNSET_VAR_QWENAI",
			setEnv:   false,
			expected: "prefix--suffix",
		},
		{
			name:     "no substitution needed",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.envVar, tt.envValue)
			}
			result := resolveEnvString(tt.input)
			if result != tt.expected {
				t.Errorf("resolveEnvString(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
