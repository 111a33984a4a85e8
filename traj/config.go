package traj

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultMaxDifference is the association tolerance in seconds used when a
// pair does not set one
const DefaultMaxDifference = 0.02

// File formats accepted by PairConfig.Format
const (
	FormatPose = "pose"
	FormatList = "list"
)

// Config represents the full configuration file
type Config struct {
	MQTT  MQTTConfig   `yaml:"mqtt" json:"mqtt"`
	HTTP  HTTPConfig   `yaml:"http,omitempty" json:"http,omitempty"`
	Pairs []PairConfig `yaml:"pairs" json:"pairs"`
}

// MQTTConfig holds MQTT connection settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// PairConfig describes two trajectory files to associate
type PairConfig struct {
	Name          string   `yaml:"name" json:"name"`
	First         string   `yaml:"first" json:"first"`
	Second        string   `yaml:"second" json:"second"`
	Format        string   `yaml:"format,omitempty" json:"format,omitempty"` // "pose" (default) or "list"
	Offset        float64  `yaml:"offset,omitempty" json:"offset,omitempty"`
	MaxDifference *float64 `yaml:"maxDifference,omitempty" json:"maxDifference,omitempty"`
	TieBreak      string   `yaml:"tieBreak,omitempty" json:"tieBreak,omitempty"`
	// Start and End slice the data lines of "list" files
	Start *int `yaml:"start,omitempty" json:"start,omitempty"`
	End   *int `yaml:"end,omitempty" json:"end,omitempty"`
}

// GetMaxDifference returns the configured tolerance or DefaultMaxDifference
func (pc *PairConfig) GetMaxDifference() float64 {
	if pc.MaxDifference != nil {
		return *pc.MaxDifference
	}
	return DefaultMaxDifference
}

// GetFormat returns the configured format or FormatPose
func (pc *PairConfig) GetFormat() string {
	if pc.Format == "" {
		return FormatPose
	}
	return pc.Format
}

// Validate checks a single pair definition
func (pc *PairConfig) Validate() error {
	if pc.First == "" || pc.Second == "" {
		return fmt.Errorf("pair %q: first and second are required", pc.Name)
	}
	switch pc.GetFormat() {
	case FormatPose, FormatList:
	default:
		return fmt.Errorf("pair %q: unknown format %q", pc.Name, pc.Format)
	}
	if pc.GetMaxDifference() <= 0 {
		return fmt.Errorf("pair %q: maxDifference must be positive", pc.Name)
	}
	if _, err := ParseTieBreak(pc.TieBreak); err != nil {
		return fmt.Errorf("pair %q: %w", pc.Name, err)
	}
	return nil
}

// GetPair returns the pair config for the given name
func (c *Config) GetPair(name string) *PairConfig {
	for i := range c.Pairs {
		if c.Pairs[i].Name == name {
			return &c.Pairs[i]
		}
	}
	return nil
}

// PairNames returns the configured pair names in file order
func (c *Config) PairNames() []string {
	names := make([]string, len(c.Pairs))
	for i, p := range c.Pairs {
		names[i] = p.Name
	}
	return names
}

// LoadConfig loads the configuration from a YAML file. Relative trajectory
// paths are resolved against the directory of the config file; URLs are kept.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.resolvePaths(filepath.Dir(path))
	return &config, nil
}

// Validate checks required fields and pair definitions
func (c *Config) Validate() error {
	if len(c.Pairs) == 0 {
		return fmt.Errorf("at least one pair must be defined")
	}

	seen := make(map[string]bool, len(c.Pairs))
	for i := range c.Pairs {
		pc := &c.Pairs[i]
		if pc.Name == "" {
			return fmt.Errorf("pairs[%d].name is required", i)
		}
		if seen[pc.Name] {
			return fmt.Errorf("pairs[%d]: duplicate name %q", i, pc.Name)
		}
		seen[pc.Name] = true
		if err := pc.Validate(); err != nil {
			return err
		}
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	return nil
}

func (c *Config) resolvePaths(dir string) {
	for i := range c.Pairs {
		pc := &c.Pairs[i]
		if pc.First != "" && !IsRemote(pc.First) && !filepath.IsAbs(pc.First) {
			pc.First = filepath.Join(dir, pc.First)
		}
		if pc.Second != "" && !IsRemote(pc.Second) && !filepath.IsAbs(pc.Second) {
			pc.Second = filepath.Join(dir, pc.Second)
		}
	}
}
