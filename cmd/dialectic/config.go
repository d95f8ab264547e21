package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kestrel-ai/dialectic/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long: `Write a commented default config file.

The file is written to ./config.yaml unless --path is given. Existing
files are never overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		if path == "" {
			path = "config.yaml"
		}

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s", path)
		}

		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		if err := config.WriteDefault(path); err != nil {
			return err
		}

		fmt.Printf("Wrote default config to %s\n", path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "destination path (default: ./config.yaml)")
	configCmd.AddCommand(configInitCmd)
}
