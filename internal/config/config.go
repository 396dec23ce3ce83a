package config

import (
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	Env          string `mapstructure:"ENV"`
	ConfigDir    string `mapstructure:"CONFIG_DIR"`
	TemplatesDir string `mapstructure:"TEMPLATES_DIR"`
	MappingsDir  string `mapstructure:"MAPPINGS_DIR"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("CONFIG_DIR", "configs")
	v.SetDefault("TEMPLATES_DIR", "templates")
	v.SetDefault("MAPPINGS_DIR", "mappings")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("CONFIG_DIR")
	v.BindEnv("TEMPLATES_DIR")
	v.BindEnv("MAPPINGS_DIR")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the service is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. The directory
// settings must be present; the directories themselves are checked at load
// time so a typo fails with the offending path in the error.
func (c *Config) Validate() error {
	switch c.Env {
	case "development", "testing", "production":
	default:
		return fmt.Errorf("ENV must be \"development\", \"testing\", or \"production\", got %q", c.Env)
	}
	if c.ConfigDir == "" {
		return fmt.Errorf("CONFIG_DIR is required")
	}
	if c.TemplatesDir == "" {
		return fmt.Errorf("TEMPLATES_DIR is required")
	}
	if c.MappingsDir == "" {
		return fmt.Errorf("MAPPINGS_DIR is required")
	}
	return nil
}
