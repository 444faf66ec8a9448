package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/config"
)

var rootCmd = &cobra.Command{
	Use:   "remoteui",
	Short: "remoteui renders untrusted UI scripts through a sandboxed bridge",
	Long: `remoteui runs third-party UI scripts in isolated JavaScript contexts.
Scripts describe a component tree over an RPC channel; the host validates it
against a fixed component vocabulary and renders it as HTML.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML config file (overrides $"+config.FileEnv+")")
}

// loadConfig reads defaults, the YAML file and the environment, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		if err := os.Setenv(config.FileEnv, path); err != nil {
			return nil, err
		}
	}
	return config.Load()
}
