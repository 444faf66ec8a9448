package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the host HTTP service",
	Long: `Starts the host service: the session REST API, the live-view and
sandbox attach websockets, and Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetString("port")
		}
		if cmd.Flags().Changed("sandbox-mode") {
			cfg.Sandbox.Mode, _ = cmd.Flags().GetString("sandbox-mode")
		}
		if cmd.Flags().Changed("dev") {
			cfg.Logging.Development, _ = cmd.Flags().GetBool("dev")
		}

		srv, err := server.NewServer(cfg)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		serverErrors := make(chan error, 1)
		go func() { serverErrors <- srv.Run() }()

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-serverErrors:
			_ = srv.Close()
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-shutdown:
			return srv.Close()
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("port", "p", "8000", "Port to listen on")
	serveCmd.Flags().String("sandbox-mode", "inprocess", "Sandbox mode: inprocess or process")
	serveCmd.Flags().Bool("dev", false, "Development logging")
}
