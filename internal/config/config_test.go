package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("expected default env development, got %s", cfg.Env)
	}
	if cfg.ConfigDir != "configs" {
		t.Errorf("expected default config dir 'configs', got %s", cfg.ConfigDir)
	}
	if cfg.TemplatesDir != "templates" {
		t.Errorf("expected default templates dir 'templates', got %s", cfg.TemplatesDir)
	}
	if cfg.MappingsDir != "mappings" {
		t.Errorf("expected default mappings dir 'mappings', got %s", cfg.MappingsDir)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("TEMPLATES_DIR", "/etc/healthchain/templates")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected env production, got %s", cfg.Env)
	}
	if cfg.TemplatesDir != "/etc/healthchain/templates" {
		t.Errorf("expected overridden templates dir, got %s", cfg.TemplatesDir)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
	if !c.IsProduction() {
		t.Error("expected IsProduction() to return true for production")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := &Config{Env: "testing", ConfigDir: "configs", TemplatesDir: "templates", MappingsDir: "mappings"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := *valid
	bad.Env = "staging"
	if err := bad.Validate(); err == nil {
		t.Error("expected error for unknown env")
	}

	bad = *valid
	bad.TemplatesDir = ""
	if err := bad.Validate(); err == nil {
		t.Error("expected error for empty templates dir")
	}
}
