// keva - an in-memory key-value server speaking a subset of RESP
//
// Usage:
//
//	keva [flags]
//
// Flags:
//
//	-config string     Path to YAML config file (default "keva.yaml")
//	-addr string       Server address (overrides config)
//	-maxclients int    Maximum number of clients (overrides config)
//	-loglevel string   Log level: debug, info, warn, error (overrides config)
//	-webaddr string    HTTP endpoint address (overrides config)
//	-noweb             Disable the HTTP endpoint
//	-version           Show version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/oxfell/keva/internal/command"
	"github.com/oxfell/keva/internal/config"
	"github.com/oxfell/keva/internal/logger"
	"github.com/oxfell/keva/internal/metrics"
	"github.com/oxfell/keva/internal/server"
	"github.com/oxfell/keva/internal/store"
	"github.com/oxfell/keva/internal/version"
	"github.com/oxfell/keva/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keva: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", config.DefaultPath, "Path to YAML config file")
	addr := flag.String("addr", "", "Server address (overrides config)")
	maxClients := flag.Int("maxclients", 0, "Maximum number of clients (overrides config)")
	logLevel := flag.String("loglevel", "", "Log level: debug, info, warn, error (overrides config)")
	webAddr := flag.String("webaddr", "", "HTTP endpoint address (overrides config)")
	noWeb := flag.Bool("noweb", false, "Disable the HTTP endpoint")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("keva v%s (built %s)\n", version.Version, version.BuildTime)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	// Flags override both file and environment.
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *maxClients > 0 {
		cfg.Server.MaxClients = *maxClients
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *webAddr != "" {
		cfg.Web.Addr = *webAddr
	}
	if *noWeb {
		cfg.Web.Enabled = false
	}

	logger.Init(cfg.Log)
	defer logger.Sync()

	// ASCII art banner
	fmt.Println(`
  _
 | | _______   ____ _
 | |/ / _ \ \ / / _' |
 |   <  __/\ V / (_| |
 |_|\_\___| \_/ \__,_|
                      `)
	logger.Info("keva starting",
		zap.String("version", version.Version),
		zap.String("addr", cfg.Server.Addr),
		zap.Int("max_clients", cfg.Server.MaxClients))

	st := store.NewWithConfig(store.Config{SweepInterval: cfg.Store.SweepInterval})
	defer st.Close()

	registry := prometheus.NewRegistry()
	st.RegisterMetrics(registry)
	m := metrics.New(registry)

	srv := server.NewWithConfig(cfg.Server.Addr, command.New(st, m), m, server.Config{
		MaxClients: cfg.Server.MaxClients,
	})

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	// Start the HTTP endpoint (disable with -noweb)
	if cfg.Web.Enabled {
		webSrv := web.New(cfg.Web.Addr, st, srv, registry)
		logger.Info("http endpoint available", zap.String("addr", cfg.Web.Addr))
		go func() {
			if err := webSrv.Start(ctx); err != nil {
				logger.Error("web server failed", zap.Error(err))
			}
		}()
	}

	if err := srv.Start(ctx); err != nil {
		return err
	}

	logger.Info("keva shutdown complete")
	return nil
}
