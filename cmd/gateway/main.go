package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aistudioproxy/gateway/internal/application"
	"github.com/aistudioproxy/gateway/internal/infrastructure/config"
	"github.com/aistudioproxy/gateway/internal/infrastructure/logger"
	gatewayhttp "github.com/aistudioproxy/gateway/internal/interfaces/http"
)

const (
	appName    = "aistudioproxy-gateway"
	appVersion = "0.1.0"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "version":
			fmt.Printf("%s v%s\n", appName, appVersion)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting gateway", zap.String("name", appName), zap.String("version", appVersion))

	app, err := application.NewAppState(cfg, log)
	if err != nil {
		log.Fatal("failed to initialize application state", zap.Error(err))
	}
	defer app.Close()

	if configPath := findConfigFile(); configPath != "" {
		if err := app.WatchConfig(configPath); err != nil {
			log.Warn("config hot-reload disabled", zap.Error(err))
		} else {
			log.Info("watching config for changes", zap.String("path", configPath))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		app.Worker.Run(ctx)
	}()

	proxyStop := make(chan struct{})
	proxyErr := make(chan error, 1)
	if cfg.Proxy.ListenPort != 0 {
		go func() {
			proxyErr <- app.Proxy.ListenAndServe(proxyStop)
		}()
		select {
		case <-app.Proxy.Ready():
			log.Info("mitm proxy ready", zap.Int("port", cfg.Proxy.ListenPort))
		case err := <-proxyErr:
			log.Fatal("mitm proxy failed to start", zap.Error(err))
		case <-time.After(10 * time.Second):
			log.Fatal("mitm proxy readiness timed out")
		}
	} else {
		log.Info("mitm proxy disabled, running in DOM-scrape mode")
	}

	server := gatewayhttp.NewServer(cfg.Gateway, cfg.Auth, app, workerDone, log)
	server.Start()
	server.MarkReady()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("error stopping http server", zap.Error(err))
	}
	close(proxyStop)
	cancel()

	log.Info("gateway stopped")
}

// findConfigFile mirrors config.Load's local-path search, returning
// the first candidate that exists so WatchConfig can fsnotify it.
func findConfigFile() string {
	for _, dir := range []string{"./config", "."} {
		path := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func printUsage() {
	fmt.Printf(`%s v%s

Usage:
  gateway           Start the gateway server (default)
  gateway version   Show version
  gateway help      Show this help

Environment:
  AISTUDIOPROXY_*   Configuration overrides (see config.yaml)
`, appName, appVersion)
}
