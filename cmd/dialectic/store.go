package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrel-ai/dialectic/internal/config"
	"github.com/kestrel-ai/dialectic/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the local datastore container",
	Long: `Manage the local datastore container lifecycle.

The datastore holds job rows, contributions, and call metrics. For local
development it runs in a Docker container.

Examples:
  dialectic store start   # Start the datastore container
  dialectic store stop    # Stop the container (data preserved)
  dialectic store status  # Check container status
  dialectic store logs    # View container logs`,
}

func getDockerManager() (*store.DockerManager, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	cfg := cm.Get()
	return store.NewDockerManager(store.DockerConfig{
		ContainerName: cfg.Store.ContainerName,
		Image:         cfg.Store.Image,
		HostPort:      cfg.Store.Port,
	})
}

var storeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the datastore container",
	Long: `Start the datastore container.

If the container doesn't exist, it will be created and started.
If it exists but is stopped, it will be started.
If it's already running, this is a no-op.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Starting datastore...")
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("failed to start datastore: %w", err)
		}

		fmt.Printf("Datastore is running at %s\n", mgr.URL())
		return nil
	},
}

var storeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the datastore container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		fmt.Println("Stopping datastore...")
		if err := mgr.Stop(ctx); err != nil {
			return fmt.Errorf("failed to stop datastore: %w", err)
		}

		fmt.Println("Datastore stopped")
		return nil
	},
}

var storeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show datastore container status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		status, err := mgr.Status(ctx)
		if err != nil {
			return fmt.Errorf("failed to get status: %w", err)
		}

		switch status {
		case store.StatusRunning:
			fmt.Printf("Status: %s\n", status)
			fmt.Printf("URL: %s\n", mgr.URL())

			client := store.NewClient(store.ClientConfig{URL: mgr.URL()})
			if err := client.HealthCheck(ctx); err != nil {
				fmt.Printf("Health: unhealthy (%v)\n", err)
			} else {
				fmt.Println("Health: healthy")
			}
		case store.StatusStopped:
			fmt.Printf("Status: %s (use 'dialectic store start' to start)\n", status)
		case store.StatusNotFound:
			fmt.Println("Status: not created (use 'dialectic store start' to create)")
		default:
			fmt.Printf("Status: %s\n", status)
		}
		return nil
	},
}

var storeLogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show datastore container logs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		tail, _ := cmd.Flags().GetString("tail")

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		logs, err := mgr.Logs(ctx, tail)
		if err != nil {
			return err
		}
		fmt.Print(logs)
		return nil
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "remove",
	Short: "Stop and remove the datastore container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		mgr, err := getDockerManager()
		if err != nil {
			return err
		}
		defer mgr.Close()

		if err := mgr.Remove(ctx); err != nil {
			return fmt.Errorf("failed to remove datastore: %w", err)
		}
		fmt.Println("Datastore container removed")
		return nil
	},
}

func init() {
	storeLogsCmd.Flags().String("tail", "100", "number of log lines to show")

	storeCmd.AddCommand(storeStartCmd)
	storeCmd.AddCommand(storeStopCmd)
	storeCmd.AddCommand(storeStatusCmd)
	storeCmd.AddCommand(storeLogsCmd)
	storeCmd.AddCommand(storeRemoveCmd)
}
