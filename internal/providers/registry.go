package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds model clients and their rate limiters.
// It supports config-driven instantiation, hot-reload, and thread-safe access.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]ModelClient
	limiters map[string]*RateLimiter
	logger   *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients:  make(map[string]ModelClient),
		limiters: make(map[string]*RateLimiter),
		logger:   slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers a model client by name.
func (r *Registry) Register(name string, client ModelClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.limiters[name] = NewRateLimiter(client.RequestsPerSecond())
	if r.logger != nil {
		r.logger.Info("registered model client", "name", name)
	}
}

// Unregister removes a model client by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, name)
	delete(r.limiters, name)
	if r.logger != nil {
		r.logger.Info("unregistered model client", "name", name)
	}
}

// Get returns a model client by name.
func (r *Registry) Get(name string) (ModelClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("model client not found: %s", name)
	}
	return client, nil
}

// Limiter returns the rate limiter for a registered client.
func (r *Registry) Limiter(name string) (*RateLimiter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	limiter, ok := r.limiters[name]
	if !ok {
		return nil, fmt.Errorf("model client not found: %s", name)
	}
	return limiter, nil
}

// Has checks if a model client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// List returns all registered client names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	Providers map[string]ProviderConfig
}

// ProviderConfig matches config.ProviderCfg with resolved API key.
type ProviderConfig struct {
	Type           string // "gateway", "openai"
	Model          string
	APIKey         string // Resolved API key
	BaseURL        string
	MaxInputTokens int
	RateLimit      float64
	Enabled        bool
}

// NewRegistryFromConfig creates a registry with clients based on configuration.
// Only enabled providers with valid API keys are registered.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		client := createClient(provCfg)
		if client == nil {
			continue
		}
		r.clients[name] = client
		r.limiters[name] = NewRateLimiter(client.RequestsPerSecond())
	}
	return r
}

// Reload updates the registry based on new configuration.
// Providers no longer configured are unregistered; changed ones recreated.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if !provCfg.Enabled || provCfg.APIKey == "" {
			continue
		}
		want[name] = true

		existing, hasExisting := r.clients[name]
		if !hasExisting || needsUpdate(existing, provCfg) {
			client := createClient(provCfg)
			if client == nil {
				continue
			}
			r.clients[name] = client
			r.limiters[name] = NewRateLimiter(client.RequestsPerSecond())
			if r.logger != nil {
				if hasExisting {
					r.logger.Info("updated model client", "name", name, "type", provCfg.Type)
				} else {
					r.logger.Info("registered model client", "name", name, "type", provCfg.Type)
				}
			}
		}
	}

	for name := range r.clients {
		if !want[name] {
			delete(r.clients, name)
			delete(r.limiters, name)
			if r.logger != nil {
				r.logger.Info("unregistered model client", "name", name)
			}
		}
	}
}

// createClient creates a model client based on provider type.
func createClient(cfg ProviderConfig) ModelClient {
	switch cfg.Type {
	case "gateway":
		return NewGatewayClient(GatewayConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			MaxInputTokens: cfg.MaxInputTokens,
			RPS:            cfg.RateLimit,
		})
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			MaxInputTokens: cfg.MaxInputTokens,
			RPS:            cfg.RateLimit,
		})
	default:
		return nil
	}
}

// needsUpdate checks if a client must be recreated for new config. The
// live client holds constructor-normalized values, so the incoming
// config is normalized the same way before comparing; otherwise a config
// omitting an optional field would recreate the client on every reload.
func needsUpdate(client ModelClient, cfg ProviderConfig) bool {
	switch c := client.(type) {
	case *GatewayClient:
		model, rps, tokens := normalized(cfg, gatewayDefaultModel, gatewayDefaultRPS, gatewayDefaultMaxInputTokens)
		return c.apiKey != cfg.APIKey ||
			c.defaultModel != model ||
			c.rps != rps ||
			c.maxInputTokens != tokens
	case *OpenAIClient:
		model, rps, tokens := normalized(cfg, openaiDefaultModel, openaiDefaultRPS, openaiDefaultMaxInputTokens)
		return c.apiKey != cfg.APIKey ||
			c.model != model ||
			c.rps != rps ||
			c.maxInputTokens != tokens
	default:
		return true
	}
}

func normalized(cfg ProviderConfig, defaultModel string, defaultRPS float64, defaultTokens int) (string, float64, int) {
	model, rps, tokens := cfg.Model, cfg.RateLimit, cfg.MaxInputTokens
	if model == "" {
		model = defaultModel
	}
	if rps == 0 {
		rps = defaultRPS
	}
	if tokens == 0 {
		tokens = defaultTokens
	}
	return model, rps, tokens
}
