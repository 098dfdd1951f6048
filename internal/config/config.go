// Package config loads autodash settings from ~/.autodash/config.yaml and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Defaults applied by WithDefaults.
const (
	DefaultAPIAddr        = "127.0.0.1:8765"
	DefaultInterpreter    = "python3"
	DefaultRuntime        = "native"
	DefaultLaunchTimeout  = 30 * time.Second
	DefaultStopTimeout    = 10 * time.Second
	DefaultHealthInterval = 10 * time.Second
	DefaultModel          = "gpt-4o-mini"
)

// Config holds persistent server configuration.
type Config struct {
	APIAddr        string        `yaml:"api_addr"`
	Interpreter    string        `yaml:"interpreter"`
	Runtime        string        `yaml:"runtime"` // "native" or "container"
	LaunchTimeout  time.Duration `yaml:"launch_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	HealthInterval time.Duration `yaml:"health_interval"`
	AutoReload     bool          `yaml:"auto_reload"`
	AuditLog       string        `yaml:"audit_log"`
	Ports          PortRange     `yaml:"ports"`
	Container      Container     `yaml:"container"`
	OpenAI         OpenAI        `yaml:"openai"`
	// TranslateRate caps /translate calls per second. Zero means unlimited.
	TranslateRate float64 `yaml:"translate_rate"`
}

// PortRange restricts allocation to [Min, Max]. Both zero means the OS
// picks an ephemeral port.
type PortRange struct {
	Min int `yaml:"min"`
	Max int `yaml:"max"`
}

// Container configures the container runtime.
type Container struct {
	Image       string `yaml:"image"`
	NetworkMode string `yaml:"network_mode"`
}

// OpenAI configures the translation model.
type OpenAI struct {
	Model  string `yaml:"model"`
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

// env mirrors the variables that override the file.
type env struct {
	Model         string        `envconfig:"OPENAI_MODEL"`
	APIURL        string        `envconfig:"OPENAI_API_URL"`
	APIKey        string        `envconfig:"OPENAI_API_KEY"`
	APIAddr       string        `envconfig:"AUTODASH_API_ADDR"`
	Interpreter   string        `envconfig:"AUTODASH_INTERPRETER"`
	Runtime       string        `envconfig:"AUTODASH_RUNTIME"`
	LaunchTimeout time.Duration `envconfig:"AUTODASH_LAUNCH_TIMEOUT"`
}

// Dir returns the autodash state directory: ~/.autodash.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".autodash")
}

// DefaultPath returns the default config file path: ~/.autodash/config.yaml.
func DefaultPath() string {
	dir := Dir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// Load reads a YAML config file from path. If the file does not exist,
// it returns an empty Config and no error. An empty or all-comment file
// also returns an empty Config with no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Resolve loads path, overlays the environment, fills defaults and
// validates the result.
func Resolve(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields with any of OPENAI_MODEL, OPENAI_API_URL,
// OPENAI_API_KEY, AUTODASH_API_ADDR, AUTODASH_INTERPRETER, AUTODASH_RUNTIME
// and AUTODASH_LAUNCH_TIMEOUT that are set and non-empty.
func (c *Config) ApplyEnv() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	setString(&c.OpenAI.Model, e.Model)
	setString(&c.OpenAI.APIURL, e.APIURL)
	setString(&c.OpenAI.APIKey, e.APIKey)
	setString(&c.APIAddr, e.APIAddr)
	setString(&c.Interpreter, e.Interpreter)
	setString(&c.Runtime, e.Runtime)
	if e.LaunchTimeout > 0 {
		c.LaunchTimeout = e.LaunchTimeout
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// WithDefaults fills zero fields with their defaults. The API key and URL
// stay empty: an empty URL means the hosted OpenAI endpoint.
func (c *Config) WithDefaults() *Config {
	if c.APIAddr == "" {
		c.APIAddr = DefaultAPIAddr
	}
	if c.Interpreter == "" {
		c.Interpreter = DefaultInterpreter
	}
	if c.Runtime == "" {
		c.Runtime = DefaultRuntime
	}
	if c.LaunchTimeout <= 0 {
		c.LaunchTimeout = DefaultLaunchTimeout
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = DefaultStopTimeout
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.OpenAI.Model == "" {
		c.OpenAI.Model = DefaultModel
	}
	if c.AuditLog == "" {
		if dir := Dir(); dir != "" {
			c.AuditLog = filepath.Join(dir, "audit.log")
		}
	}
	return c
}

// Validate checks field combinations that cannot work.
func (c *Config) Validate() error {
	switch c.Runtime {
	case "", "native":
	case "container":
		if c.Container.Image == "" {
			return fmt.Errorf("runtime container requires container.image")
		}
	default:
		return fmt.Errorf("unknown runtime %q (expected native or container)", c.Runtime)
	}

	if c.Ports.Min != 0 || c.Ports.Max != 0 {
		if c.Ports.Min < 1024 || c.Ports.Max > 65535 || c.Ports.Min > c.Ports.Max {
			return fmt.Errorf("invalid port range %d-%d", c.Ports.Min, c.Ports.Max)
		}
	}
	if c.TranslateRate < 0 {
		return fmt.Errorf("translate_rate must not be negative")
	}
	return nil
}
