package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orangebricks/autodash/internal/api"
	"github.com/orangebricks/autodash/internal/audit"
	"github.com/orangebricks/autodash/internal/config"
	"github.com/orangebricks/autodash/internal/dashboard"
	"github.com/orangebricks/autodash/internal/keychain"
	"github.com/orangebricks/autodash/internal/port"
	"github.com/orangebricks/autodash/internal/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the autodash server",
	Long:  "Start the dashboard server. Launches, tracks and proxies dashboards until interrupted.",
	RunE:  runServe,
}

var verbose bool

func init() {
	serveCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serverAddr != "" {
		cfg.APIAddr = serverAddr
	}

	if err := os.MkdirAll(config.Dir(), 0700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	auditLog, err := audit.NewLogger(cfg.AuditLog)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditLog.Close()

	slog.Info("autodash starting", "config", resolvedConfigPath(), "runtime", cfg.Runtime, "model", cfg.OpenAI.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	ports := port.NewAllocator()
	if cfg.Ports.Min != 0 {
		ports = port.NewRangeAllocator(cfg.Ports.Min, cfg.Ports.Max)
	}

	reg := registry.New(
		registry.WithPorts(ports),
		registry.WithDashboardOptions(dashboard.Options{
			Interpreter:   cfg.Interpreter,
			LaunchTimeout: cfg.LaunchTimeout,
			Runtime:       cfg.Runtime,
			Image:         cfg.Container.Image,
			NetworkMode:   cfg.Container.NetworkMode,
		}),
		registry.WithStopTimeout(cfg.StopTimeout),
		registry.WithHealthInterval(cfg.HealthInterval),
		registry.WithAudit(auditLog),
	)

	if cfg.AutoReload {
		go func() {
			if err := reg.Watch(ctx); err != nil {
				slog.Error("source watcher failed", "error", err)
			}
		}()
	}

	metadata, err := keychain.NewMetadataStore(metadataPath())
	if err != nil {
		return fmt.Errorf("opening secret metadata: %w", err)
	}
	secrets := keychain.NewAuditedStore(keychain.NewSystemStore(), auditLog, metadata, "api")

	srv := api.NewServer(reg,
		api.WithSecrets(secrets),
		api.WithAudit(auditLog),
		api.WithModel(cfg.OpenAI),
		api.WithTranslateRate(cfg.TranslateRate),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenTCP(cfg.APIAddr)
	}()

	slog.Info("autodash ready", "addr", cfg.APIAddr)

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.StopTimeout+5*time.Second)
	defer done()
	srv.Shutdown(shutdownCtx)
	reg.Close(shutdownCtx)

	slog.Info("autodash stopped")
	return nil
}
