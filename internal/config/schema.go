package config

import "time"

// Config holds dialectic configuration.
// Stored at: ./config.yaml or ~/.dialectic/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Defaults  DefaultsCfg            `mapstructure:"defaults" yaml:"defaults"`
	Store     StoreCfg               `mapstructure:"store" yaml:"store"`
	Storage   StorageCfg             `mapstructure:"storage" yaml:"storage"`
	Notify    NotifyCfg              `mapstructure:"notify" yaml:"notify"`
	Worker    WorkerCfg              `mapstructure:"worker" yaml:"worker"`
}

// ProviderCfg configures a model provider.
type ProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type"`                         // "gateway", "openai"
	Model          string  `mapstructure:"model" yaml:"model"`                       // Default model identifier
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`                   // API key (supports ${ENV_VAR} syntax)
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"`                 // Override endpoint (tests, self-hosted gateways)
	MaxInputTokens int     `mapstructure:"max_input_tokens" yaml:"max_input_tokens"` // Context window admission limit
	RateLimit      float64 `mapstructure:"rate_limit" yaml:"rate_limit"`             // Requests per second
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default selections.
type DefaultsCfg struct {
	Provider   string `mapstructure:"provider" yaml:"provider"`       // Default model provider
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"` // Default per-job retry budget
}

// StoreCfg holds the backing datastore configuration.
type StoreCfg struct {
	// URL of the datastore REST API (default: http://localhost:8090)
	URL string `mapstructure:"url" yaml:"url"`
	// APIKey authenticates service-role access (supports ${ENV_VAR} syntax)
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// ContainerName is the local dev container name (default: dialectic-store)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image for the local dev container
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind for the local dev container (default: 8090)
	Port string `mapstructure:"port" yaml:"port"`
}

// StorageCfg holds object storage configuration.
type StorageCfg struct {
	URL    string `mapstructure:"url" yaml:"url"` // Object store endpoint
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	Bucket string `mapstructure:"bucket" yaml:"bucket"` // Default artifact bucket
}

// NotifyCfg holds the push-notification channel configuration.
type NotifyCfg struct {
	URL     string `mapstructure:"url" yaml:"url"` // Notification endpoint
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
}

// WorkerCfg configures the job trigger loop.
type WorkerCfg struct {
	// PollInterval between scans for runnable job rows
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	// Concurrency is the number of jobs processed in parallel
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
	// ContinuationDebounce > 0 inserts continuations as pending_continuation
	// and promotes them after the window elapses
	ContinuationDebounce time.Duration `mapstructure:"continuation_debounce" yaml:"continuation_debounce"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"gateway": {
				Type:           "gateway",
				Model:          "anthropic/claude-sonnet-4",
				APIKey:         "${GATEWAY_API_KEY}",
				MaxInputTokens: 180000,
				RateLimit:      50.0,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4o",
				APIKey:         "${OPENAI_API_KEY}",
				MaxInputTokens: 120000,
				RateLimit:      30.0,
				Enabled:        false,
			},
		},
		Defaults: DefaultsCfg{
			Provider:   "gateway",
			MaxRetries: 3,
		},
		Store: StoreCfg{
			URL:           "http://localhost:8090",
			APIKey:        "${DIALECTIC_STORE_KEY}",
			ContainerName: "dialectic-store",
			Image:         "ghcr.io/kestrel-ai/dialectic-store:latest",
			Port:          "8090",
		},
		Storage: StorageCfg{
			URL:    "http://localhost:8090/storage/v1",
			APIKey: "${DIALECTIC_STORE_KEY}",
			Bucket: "dialectic-contributions",
		},
		Notify: NotifyCfg{
			URL:     "http://localhost:8090/notify/v1",
			APIKey:  "${DIALECTIC_STORE_KEY}",
			Enabled: true,
		},
		Worker: WorkerCfg{
			PollInterval: 2 * time.Second,
			Concurrency:  4,
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
