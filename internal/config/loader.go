package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	kenv "github.com/knadh/koanf/providers/env"
	kfile "github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Settings is the root config structure.
type Settings struct {
	Storage   StorageConfig    `koanf:"storage"`
	Locale    string           `koanf:"locale"`
	Log       LogConfig        `koanf:"log"`
	HTTP      HTTPConfig       `koanf:"http"`
	Retry     RetryConfig      `koanf:"retry"`
	Agent     AgentConfig      `koanf:"agent"`
	Endpoints []EndpointConfig `koanf:"endpoints"`
}

type StorageConfig struct {
	// Path of the entry store file.
	Path string `koanf:"path"`
}

type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // text or json
}

type HTTPConfig struct {
	Timeout               time.Duration `koanf:"timeout"`
	MaxConcurrentRequests int           `koanf:"max_concurrent_requests"`
}

type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	JitterRatio float64       `koanf:"jitter_ratio"`
	Budget      time.Duration `koanf:"budget"`
}

type AgentConfig struct {
	MaxToolIterations int `koanf:"max_tool_iterations"`
}

// EndpointConfig describes a self-hosted or unlisted OpenAI-compatible server.
type EndpointConfig struct {
	Name             string            `koanf:"name"`
	DisplayName      string            `koanf:"display_name"`
	Prefix           string            `koanf:"prefix"`
	StructuredOutput bool              `koanf:"structured_output"`
	ToolCalling      bool              `koanf:"tool_calling"`
	Vision           bool              `koanf:"vision"`
	Headers          map[string]string `koanf:"headers"`
	ExtraBody        map[string]any    `koanf:"extra_body"`
	AuthHeader       string            `koanf:"auth_header"`
	JSONKeyword      bool              `koanf:"json_keyword"`
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		Storage: StorageConfig{Path: defaultStorePath()},
		Locale:  "en",
		Log:     LogConfig{Level: "info", Format: "text"},
		HTTP:    HTTPConfig{Timeout: 30 * time.Second, MaxConcurrentRequests: 5},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BaseDelay:   time.Second,
			MaxDelay:    8 * time.Second,
			JitterRatio: 0.25,
			Budget:      30 * time.Second,
		},
		Agent: AgentConfig{MaxToolIterations: 10},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".qwenai", "entries.yaml")
	}
	return filepath.Join(dir, "qwenai", "entries.yaml")
}

var (
	loadOnce sync.Once
	loaded   *Settings
	loadErr  error
)

// Load loads configuration from path or default locations. Load is safe for repeated calls.
//
// Priority:
// 1. QWENAI_CONFIG_PATH if set (the file must exist)
// 2. ./config.yaml if present
// 3. built-in defaults
//
// Environment variables QWENAI__SECTION__KEY override file values.
func Load() (*Settings, error) {
	loadOnce.Do(func() {
		path, explicit := os.LookupEnv("QWENAI_CONFIG_PATH")
		if !explicit || path == "" {
			path, explicit = "config.yaml", false
		}
		loaded, loadErr = LoadFile(path, explicit)
	})
	return loaded, loadErr
}

// LoadFile loads settings from one file plus the environment overlay. A
// missing file is an error only when required is set.
func LoadFile(path string, required bool) (*Settings, error) {
	k := koanf.New(".")

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(kfile.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else if required || !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config file: %w", err)
	}

	// Environment overrides: QWENAI__HTTP__TIMEOUT=10s ...
	// Double underscore splits levels.
	if err := k.Load(kenv.Provider("QWENAI__", "__", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "QWENAI__"))
	}), nil); err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Resolve environment variables in string fields
	resolveEnvVars(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the rest of the program cannot work with.
func (s *Settings) Validate() error {
	if s.Storage.Path == "" {
		return errors.New("config: storage.path is empty")
	}
	if s.HTTP.MaxConcurrentRequests < 1 {
		return fmt.Errorf("config: http.max_concurrent_requests must be >= 1, got %d", s.HTTP.MaxConcurrentRequests)
	}
	if s.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1, got %d", s.Retry.MaxAttempts)
	}
	if s.Agent.MaxToolIterations < 1 {
		return fmt.Errorf("config: agent.max_tool_iterations must be >= 1, got %d", s.Agent.MaxToolIterations)
	}
	for i, ep := range s.Endpoints {
		if ep.Name == "" || ep.Prefix == "" {
			return fmt.Errorf("config: endpoints[%d] needs name and prefix", i)
		}
	}
	return nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveEnvVars resolves ${VAR} patterns in config string fields
func resolveEnvVars(cfg *Settings) {
	cfg.Storage.Path = resolveEnvString(cfg.Storage.Path)
	for i, ep := range cfg.Endpoints {
		ep.Prefix = resolveEnvString(ep.Prefix)
		for k, v := range ep.Headers {
			ep.Headers[k] = resolveEnvString(v)
		}
		cfg.Endpoints[i] = ep
	}
}

// resolveEnvString replaces ${VAR} with environment variable values; unset
// variables become empty.
func resolveEnvString(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR}
		varName := match[2 : len(match)-1] // Remove ${ and }
		return os.Getenv(varName)
	})
}
