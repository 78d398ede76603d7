package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/delayguard/internal/server"
)

var (
	serveConfig   string
	serveListen   string
	serveLogLevel string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveConfig, "config", "", "Path to config YAML (default ~/.delayguard/config.yaml)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "gRPC listen address, overrides server.listen")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the guard engine gRPC server",
	Long: "Runs the guard engine behind a gRPC service. Accounts query it for\n" +
		"previews and lookups and send signed configuration requests.\n" +
		"Alerts and rate limits in the config file are hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(serveLogLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", serveLogLevel, err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	srv, err := server.New(server.Config{
		ConfigPath: serveConfig,
		Listen:     serveListen,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	ctx, stop := signalContext()
	defer stop()

	if reloader, err := server.NewReloader(srv, srv.ConfigPath()); err != nil {
		logger.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		srv.GracefulStop()
	}()

	logger.Info("delayguard engine starting",
		"engine", srv.Engine().Self().Hex(),
		"config", srv.ConfigPath(),
		"config_hash", srv.ConfigHash(),
	)
	return srv.Serve()
}
