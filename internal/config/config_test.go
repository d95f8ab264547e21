package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveEnvVars(t *testing.T) {
	t.Setenv("DIALECTIC_TEST_KEY", "secret-value")
	t.Setenv("DIALECTIC_TEST_OTHER", "other")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty", input: "", want: ""},
		{name: "no reference", input: "plain-key", want: "plain-key"},
		{name: "single reference", input: "${DIALECTIC_TEST_KEY}", want: "secret-value"},
		{name: "embedded reference", input: "Bearer ${DIALECTIC_TEST_KEY}", want: "Bearer secret-value"},
		{name: "multiple references", input: "${DIALECTIC_TEST_KEY}:${DIALECTIC_TEST_OTHER}", want: "secret-value:other"},
		{name: "unset resolves empty", input: "${DIALECTIC_TEST_UNSET}", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveEnvVars(tt.input); got != tt.want {
				t.Errorf("ResolveEnvVars(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Defaults.MaxRetries != 3 {
		t.Errorf("default max_retries = %d, want 3", cfg.Defaults.MaxRetries)
	}
	if cfg.Store.URL == "" || cfg.Storage.Bucket == "" {
		t.Errorf("store defaults incomplete: %+v", cfg.Store)
	}
	if cfg.Worker.PollInterval <= 0 || cfg.Worker.Concurrency <= 0 {
		t.Errorf("worker defaults incomplete: %+v", cfg.Worker)
	}

	enabled := cfg.EnabledProviders()
	if _, ok := enabled["gateway"]; !ok {
		t.Error("gateway provider should be enabled by default")
	}
	if _, ok := enabled["openai"]; ok {
		t.Error("openai provider should be disabled by default")
	}

	if _, ok := cfg.GetProvider("gateway"); !ok {
		t.Error("GetProvider(gateway) not found")
	}
	if _, ok := cfg.GetProvider("nope"); ok {
		t.Error("GetProvider(nope) should not be found")
	}
}

func TestToProviderRegistryConfig(t *testing.T) {
	t.Setenv("DIALECTIC_TEST_GWKEY", "resolved-key")

	cfg := &Config{
		Providers: map[string]ProviderCfg{
			"gateway": {
				Type:           "gateway",
				Model:          "anthropic/claude-sonnet-4",
				APIKey:         "${DIALECTIC_TEST_GWKEY}",
				MaxInputTokens: 180000,
				RateLimit:      50,
				Enabled:        true,
			},
		},
	}

	rc := cfg.ToProviderRegistryConfig()
	p, ok := rc.Providers["gateway"]
	if !ok {
		t.Fatal("gateway provider missing from registry config")
	}
	if p.APIKey != "resolved-key" {
		t.Errorf("api key = %q, want env-resolved value", p.APIKey)
	}
	if p.MaxInputTokens != 180000 || p.RateLimit != 50 {
		t.Errorf("provider config = %+v", p)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "# Dialectic configuration") {
		t.Error("missing header comment")
	}
	// Secrets stay as env references, never written literally.
	if !strings.Contains(text, "${GATEWAY_API_KEY}") {
		t.Error("default config should reference GATEWAY_API_KEY via env syntax")
	}
	if !strings.Contains(text, "providers:") || !strings.Contains(text, "worker:") {
		t.Error("default config missing expected sections")
	}
}
