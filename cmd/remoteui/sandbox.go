package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/remoteui/internal/infrastructure/logging"
	"github.com/GriffinCanCode/remoteui/internal/sandbox"
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Run one isolated script context",
	Long: `Runs a sandbox worker. With --stdio the worker speaks length-prefixed
frames on stdin and stdout; the host starts it this way in process mode.
With --connect it dials a host's /sandbox/attach websocket instead.

Logs always go to stderr.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		stdio, _ := cmd.Flags().GetBool("stdio")
		connect, _ := cmd.Flags().GetString("connect")
		if stdio == (connect != "") {
			return errors.New("exactly one of --stdio or --connect is required")
		}

		cfg := sandbox.DefaultConfig()
		cfg.ExecTimeout, _ = cmd.Flags().GetDuration("exec-timeout")
		cfg.MaxScriptBytes, _ = cmd.Flags().GetInt64("max-script-bytes")
		cfg.FetchRetries, _ = cmd.Flags().GetInt("fetch-retries")
		cfg.AllowFile, _ = cmd.Flags().GetBool("allow-file")

		level, _ := cmd.Flags().GetString("log-level")
		logger, err := logging.New(logging.Config{Level: level, OutputPaths: []string{"stderr"}})
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()
		log := logger.Sandbox(fmt.Sprintf("pid-%d", os.Getpid()))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if stdio {
			log.Debug("serving over stdio")
			return sandbox.ServeStream(ctx, os.Stdin, os.Stdout, cfg, log)
		}
		log.Info("attaching to host", zap.String("url", connect))
		return sandbox.ServeRemote(ctx, connect, cfg, log)
	},
}

func init() {
	rootCmd.AddCommand(sandboxCmd)
	d := sandbox.DefaultConfig()
	sandboxCmd.Flags().Bool("stdio", false, "Serve frames over stdin/stdout")
	sandboxCmd.Flags().String("connect", "", "Host attach URL, e.g. ws://host:8000/sandbox/attach?script_url=...")
	sandboxCmd.Flags().Duration("exec-timeout", d.ExecTimeout, "Limit for each entry into the VM")
	sandboxCmd.Flags().Int64("max-script-bytes", d.MaxScriptBytes, "Largest script the worker will load")
	sandboxCmd.Flags().Int("fetch-retries", d.FetchRetries, "Retries for HTTP script fetches")
	sandboxCmd.Flags().Bool("allow-file", false, "Permit file:// script URLs")
	sandboxCmd.Flags().String("log-level", "info", "debug, info, warn or error")
}
