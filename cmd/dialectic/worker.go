package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kestrel-ai/dialectic/internal/config"
	"github.com/kestrel-ai/dialectic/internal/engine"
	"github.com/kestrel-ai/dialectic/internal/metrics"
	"github.com/kestrel-ai/dialectic/internal/notify"
	"github.com/kestrel-ai/dialectic/internal/prompts"
	"github.com/kestrel-ai/dialectic/internal/providers"
	"github.com/kestrel-ai/dialectic/internal/storage"
	"github.com/kestrel-ai/dialectic/internal/store"
	"github.com/kestrel-ai/dialectic/internal/svcctx"
	"github.com/kestrel-ai/dialectic/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the job worker loop",
	Long: `Run the job worker: polls for runnable job rows, dispatches them to
the engine with bounded concurrency, and reconciles jobs waiting on
children or prerequisites. Runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

		cm, err := config.NewManager(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg := cm.Get()

		storeClient := store.NewClient(store.ClientConfig{
			URL:    cfg.Store.URL,
			APIKey: config.ResolveEnvVars(cfg.Store.APIKey),
		})
		if err := storeClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("datastore not reachable at %s: %w", cfg.Store.URL, err)
		}

		sink := store.NewSink(store.SinkConfig{Client: storeClient, Logger: logger})
		sink.Start(ctx)
		defer sink.Stop()

		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
		registry.SetLogger(logger)

		// Hot-reload provider credentials and limits on config change.
		cm.OnChange(func(c *config.Config) {
			registry.Reload(c.ToProviderRegistryConfig())
		})
		cm.WatchConfig()

		objects := storage.NewHTTPStore(cfg.Storage.URL,
			storage.WithAPIKey(config.ResolveEnvVars(cfg.Storage.APIKey)))

		var notifier notify.Notifier
		if cfg.Notify.Enabled {
			notifier = notify.NewHTTPNotifier(cfg.Notify.URL, config.ResolveEnvVars(cfg.Notify.APIKey))
		}

		deps := &engine.Deps{
			Store:                storeClient,
			Storage:              objects,
			Models:               registry,
			Notifier:             notifier,
			Prompts:              prompts.NewRegistry(),
			Metrics:              metrics.NewRecorder(sink),
			Logger:               logger,
			Bucket:               cfg.Storage.Bucket,
			ContinuationDebounce: cfg.Worker.ContinuationDebounce,
		}
		dispatcher := engine.NewDispatcher(deps)

		ctx = svcctx.WithServices(ctx, &svcctx.Services{
			Store:      storeClient,
			Sink:       sink,
			Storage:    objects,
			Registry:   registry,
			Notifier:   notifier,
			Prompts:    deps.Prompts,
			Metrics:    deps.Metrics,
			Dispatcher: dispatcher,
			Config:     cm,
			Logger:     logger,
		})

		poller := worker.NewPoller(storeClient, dispatcher, worker.Config{
			PollInterval: cfg.Worker.PollInterval,
			Concurrency:  cfg.Worker.Concurrency,
		}, logger)
		reconciler := worker.NewReconciler(storeClient, notifier,
			cfg.Worker.PollInterval, cfg.Worker.ContinuationDebounce, logger)

		go reconciler.Run(ctx)
		poller.Run(ctx)
		return nil
	},
}
