package main

import (
	"github.com/spf13/cobra"

	"github.com/maxdata-sh/max-sub001/internal/config"
)

// registerConfigFlag attaches the --config flag shared by every subcommand
// that loads daemon configuration.
func registerConfigFlag(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "path to a syncengined config file (yaml/json)")
}

// loadConfigFromFlag reads --config (if set) plus SYNCENGINE_*
// environment overrides into a config.Config.
func loadConfigFromFlag(cmd *cobra.Command) (config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	return config.Load(configFile)
}
