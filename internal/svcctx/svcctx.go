// Package svcctx provides service context for dependency injection via
// context. Commands build a Services once at startup and attach it; run
// loops extract what they need via the individual extractors.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/kestrel-ai/dialectic/internal/config"
	"github.com/kestrel-ai/dialectic/internal/engine"
	"github.com/kestrel-ai/dialectic/internal/metrics"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/prompts"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/storage"
	"github.com/kestrel-ai/dialectic/internal/store"
)

// Services holds all core services that flow through context.
type Services struct {
	Store      *store.Client
	Sink       *store.Sink
	Storage    storage.ObjectStore
	Registry   *providers.Registry
	Notifier   notify.Notifier
	Prompts    *prompts.Registry
	Metrics    *metrics.Recorder
	Dispatcher *engine.Dispatcher
	Config     *config.Manager
	Logger     *slog.Logger
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// StoreFrom extracts the job store client from context.
func StoreFrom(ctx context.Context) *store.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.Store
	}
	return nil
}

// SinkFrom extracts the async write sink from context.
func SinkFrom(ctx context.Context) *store.Sink {
	if s := ServicesFrom(ctx); s != nil {
		return s.Sink
	}
	return nil
}

// StorageFrom extracts the object store from context.
func StorageFrom(ctx context.Context) storage.ObjectStore {
	if s := ServicesFrom(ctx); s != nil {
		return s.Storage
	}
	return nil
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// NotifierFrom extracts the notification channel from context.
func NotifierFrom(ctx context.Context) notify.Notifier {
	if s := ServicesFrom(ctx); s != nil {
		return s.Notifier
	}
	return nil
}

// DispatcherFrom extracts the job dispatcher from context.
func DispatcherFrom(ctx context.Context) *engine.Dispatcher {
	if s := ServicesFrom(ctx); s != nil {
		return s.Dispatcher
	}
	return nil
}

// ConfigFrom extracts the config manager from context.
func ConfigFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.Config
	}
	return nil
}

// LoggerFrom extracts the logger from context.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil {
		return s.Logger
	}
	return nil
}
