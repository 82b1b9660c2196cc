package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrisonrobin/taskboard/pkg/model"
)

const (
	xdgAppName = "taskboard"
	configFile = "config.json"

	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		return d.parse(value)
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Env       string          `json:"env" yaml:"env"`
	Calendar  string          `json:"calendar" yaml:"calendar"`
	Snapshot  string          `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Server    ServerConfig    `json:"server" yaml:"server"`
	Authority AuthorityConfig `json:"authority" yaml:"authority"`
	Monitor   MonitorConfig   `json:"monitor" yaml:"monitor"`
	SLA       SLAConfig       `json:"sla" yaml:"sla"`
	Mirror    MirrorConfig    `json:"mirror" yaml:"mirror"`
}

type ServerConfig struct {
	Addr            string   `json:"addr" yaml:"addr"`
	ShutdownTimeout Duration `json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type AuthorityConfig struct {
	BaseURL           string   `json:"base_url" yaml:"base_url"`
	ClientID          string   `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret      string   `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	TokenURL          string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	Scopes            []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	Timeout           Duration `json:"timeout" yaml:"timeout"`
	RequestsPerSecond float64  `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
	Burst             int      `json:"burst,omitempty" yaml:"burst,omitempty"`
}

type MonitorConfig struct {
	TickInterval  Duration `json:"tick_interval" yaml:"tick_interval"`
	CommitTimeout Duration `json:"commit_timeout" yaml:"commit_timeout"`
}

// SLAConfig overrides the built-in windows; zero keeps the default.
type SLAConfig struct {
	Regular   Duration `json:"regular,omitempty" yaml:"regular,omitempty"`
	Important Duration `json:"important,omitempty" yaml:"important,omitempty"`
	Urgent    Duration `json:"urgent,omitempty" yaml:"urgent,omitempty"`
}

func (s SLAConfig) Overrides() map[model.Priority]time.Duration {
	return map[model.Priority]time.Duration{
		model.Regular:   s.Regular.Std(),
		model.Important: s.Important.Std(),
		model.Urgent:    s.Urgent.Std(),
	}
}

type MirrorConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty" yaml:"requests_per_second,omitempty"`
}

// Default is the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Env:      EnvLocal,
		Calendar: "Tasks",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Authority: AuthorityConfig{
			Timeout: Duration(15 * time.Second),
		},
		Monitor: MonitorConfig{
			TickInterval:  Duration(time.Second),
			CommitTimeout: Duration(30 * time.Second),
		},
	}
}

// Dir is the directory holding the config file, OAuth tokens and caches.
func Dir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Load reads the config at the default path.
func Load() (*Config, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a JSON config, or YAML when path ends in .yaml or .yml.
// A missing file yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if isYAML(path) {
		err = yaml.NewDecoder(f).Decode(cfg)
	} else {
		err = json.NewDecoder(f).Decode(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Calendar == "" {
		cfg.Calendar = "Tasks"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Env {
	case EnvLocal, EnvDev, EnvProd:
	default:
		return fmt.Errorf("unknown env %q", c.Env)
	}
	if c.Monitor.TickInterval < 0 || c.Monitor.CommitTimeout < 0 {
		return errors.New("monitor durations must not be negative")
	}
	if c.SLA.Regular < 0 || c.SLA.Important < 0 || c.SLA.Urgent < 0 {
		return errors.New("sla windows must not be negative")
	}
	return nil
}

// Save writes cfg to the default path.
func Save(cfg *Config) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file for writing: %w", err)
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	return encoder.Encode(cfg)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
