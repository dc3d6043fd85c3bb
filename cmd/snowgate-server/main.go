// Command snowgate-server runs the MCP gateway: it loads configuration,
// wires the gateway's collaborators, starts the HTTP/MCP transport, and
// shuts down cleanly on SIGINT/SIGTERM.
//
// Flag parsing and the 0/1/130 exit-code contract mirror the teacher's
// server/config.go LoadConfigFromFlags and examples/server/main.go, adapted
// from a fixed-struct flag set to a single -config path (config.Load),
// itself overridable by environment variables per internal/config.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snowgate-io/snowgate-mcp/internal/config"
	"github.com/snowgate-io/snowgate-mcp/internal/gateway"
	"github.com/snowgate-io/snowgate-mcp/internal/obslog"
	"github.com/snowgate-io/snowgate-mcp/internal/transport/httpmcp"
)

const (
	exitOK            = 0
	exitStartupError  = 1
	exitSignalAborted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file (optional; falls back to environment-only defaults)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "snowgate-server: config error: %v\n", err)
		return exitStartupError
	}

	logger := obslog.New(cfg.Logging.Level, cfg.Logging.Format, os.Stdout)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to construct gateway")
		return exitStartupError
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := gw.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to start gateway")
		return exitStartupError
	}

	transport := httpmcp.New(gw, cfg.HTTP, cfg.Security, logger)
	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      transport.Handler(),
		ReadTimeout:  cfg.HTTP.RequestTimeout,
		WriteTimeout: cfg.HTTP.RequestTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpSrv.Addr).Msg("httpmcp transport listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	exitCode := exitOK
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
		exitCode = exitSignalAborted
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("httpmcp transport failed")
			exitCode = exitStartupError
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("httpmcp transport did not shut down cleanly")
	}
	if err := gw.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("gateway did not shut down cleanly")
	}

	return exitCode
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}
