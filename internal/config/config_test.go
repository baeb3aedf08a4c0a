package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default port 8080, got %q", cfg.Port)
	}
	if cfg.DBPath == "" {
		t.Error("Expected a default DB path")
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Expected Redis disabled by default, got %q", cfg.RedisAddr)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("Expected default LLM timeout 120s, got %v", cfg.LLM.Timeout)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("LLM_MODEL", "custom-model")
	t.Setenv("LLM_TIMEOUT", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "9000" {
		t.Errorf("Expected port 9000, got %q", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected redis addr override, got %q", cfg.RedisAddr)
	}
	if cfg.LLM.Model != "custom-model" {
		t.Errorf("Expected model override, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.LLM.Timeout)
	}
}

func TestLoad_InvalidDurationFallsBack(t *testing.T) {
	t.Setenv("LLM_TIMEOUT", "not-a-duration")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Timeout != 120*time.Second {
		t.Errorf("Expected fallback timeout, got %v", cfg.LLM.Timeout)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty db path", func(c *Config) { c.DBPath = "" }, true},
		{"empty llm base url", func(c *Config) { c.LLM.BaseURL = "" }, true},
		{"empty llm model", func(c *Config) { c.LLM.Model = "" }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{
				Port:   "8080",
				DBPath: "./data/test.db",
				LLM:    LLMConfig{BaseURL: "http://localhost:11434/v1", Model: "m"},
			}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("Expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
		})
	}
}
