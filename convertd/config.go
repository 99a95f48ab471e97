package convertd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the conversion service configuration. Values come from an
// optional YAML file, overridden by environment variables.
type Config struct {
	Port           int           `yaml:"port"`
	APIKey         string        `yaml:"api_key"`
	DataDir        string        `yaml:"data_dir"`
	RetentionHours int           `yaml:"retention_hours"`
	MaxInlineMB    int           `yaml:"max_inline_mb"`
	SofficeBin     string        `yaml:"soffice_bin"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	PublicBaseURL  string        `yaml:"public_base_url"`
	LogLevel       string        `yaml:"log_level"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("convertd: parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Load builds the configuration from CONVERTD_CONFIG (if set) plus
// environment overrides.
func Load() (*Config, error) {
	cfg := &Config{}
	if path := os.Getenv("CONVERTD_CONFIG"); path != "" {
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port <= 0 {
		c.Port = 8090
	}
	if c.DataDir == "" {
		c.DataDir = "data/converted"
	}
	if c.RetentionHours <= 0 {
		c.RetentionHours = 24
	}
	if c.MaxInlineMB <= 0 {
		c.MaxInlineMB = 25
	}
	if c.SofficeBin == "" {
		c.SofficeBin = "soffice"
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) applyEnv() error {
	c.APIKey = envStr("API_KEY", c.APIKey)
	c.DataDir = envStr("DATA_DIR", c.DataDir)
	c.SofficeBin = envStr("SOFFICE_BIN", c.SofficeBin)
	c.PublicBaseURL = envStr("PUBLIC_BASE_URL", c.PublicBaseURL)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)

	var err error
	if c.Port, err = envInt("PORT", c.Port); err != nil {
		return err
	}
	if c.RetentionHours, err = envInt("RETENTION_HOURS", c.RetentionHours); err != nil {
		return err
	}
	if c.MaxInlineMB, err = envInt("MAX_INLINE_MB", c.MaxInlineMB); err != nil {
		return err
	}
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("convertd: SWEEP_INTERVAL: %w", err)
		}
		c.SweepInterval = d
	}
	return nil
}

// Retention converts RetentionHours to a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("convertd: %s: %w", key, err)
	}
	return n, nil
}
