package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/memohai/keyreply/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "keyreply",
		Short:         "Keyword auto-reply for WhatsApp, Telegram, Discord and Slack",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "path to the TOML config file (env CONFIG_PATH)")

	root.AddCommand(
		newServeCmd(&configPath),
		newResolveCmd(&configPath),
		newMigrateCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// loadConfig reads the TOML file and then applies environment overrides.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return config.ApplyEnv(cfg, os.Getenv), nil
}
