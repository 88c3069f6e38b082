package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ichi0g0y/stimky-sticker/internal/cache"
	"github.com/ichi0g0y/stimky-sticker/internal/env"
	"github.com/ichi0g0y/stimky-sticker/internal/localdb"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"github.com/ichi0g0y/stimky-sticker/internal/printjob"
	"github.com/ichi0g0y/stimky-sticker/internal/quota"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"github.com/ichi0g0y/stimky-sticker/internal/status"
	"github.com/ichi0g0y/stimky-sticker/internal/webserver"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var newConfig bool

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP print server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().BoolVar(&newConfig, "new-config", false, "Overwrite the config file with defaults before starting")
	return cmd
}

// setupPrinter runs the startup checks and builds the configured printer.
func setupPrinter() (*output.Device, error) {
	pcfg, err := env.Value.PrinterConfig()
	if err != nil {
		return nil, err
	}

	if err := output.Preflight(pcfg); err != nil {
		if !env.Value.Printer.SkipPreflight {
			status.SetPrinter(string(pcfg.Kind), pcfg.Label.Name, false, err)
			return nil, err
		}
		logger.Warn("Printer preflight failed, continuing because skip_preflight is set", zap.Error(err))
	}

	printer, err := output.New(pcfg, output.NewPrintGate())
	if err != nil {
		status.SetPrinter(string(pcfg.Kind), pcfg.Label.Name, false, err)
		return nil, err
	}
	status.SetPrinter(printer.Name(), printer.Label().Name, true, nil)
	return printer, nil
}

func newService(printer output.Printer, opts ...printjob.Option) *printjob.Service {
	return printjob.NewService(printjob.Config{
		Password:    env.Value.Password,
		StickerMax:  env.Value.Sticker.Max,
		StickerCost: env.Value.StickerCost(),
	}, quota.NewLedger(nil), printer, opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	if newConfig {
		if err := env.DefaultConfig().Save(configPath); err != nil {
			return fmt.Errorf("failed to write default config: %w", err)
		}
		logger.Info("Wrote default config", zap.String("path", configPath))
	}
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info("Starting stimky-sticker server")

	// 履歴とキャッシュ索引はプロセスの寿命だけ保持する
	if _, err := localdb.SetupDB(localdb.MemoryDSN); err != nil {
		return fmt.Errorf("failed to setup database: %w", err)
	}
	defer localdb.CloseDB()

	cacheDir, err := cache.InitializeCache(env.Value.Cache.Dir, env.Value.Cache.MaxSizeMB)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}

	printer, err := setupPrinter()
	if err != nil {
		return err
	}

	hub := webserver.NewWSHub()
	svc := newService(printer, printjob.WithBroadcaster(hub))
	server := webserver.NewServer(svc, hub, webserver.Options{
		AdminID:        env.Value.AdminID,
		FursonaName:    env.Value.FursonaName,
		CacheDir:       cacheDir,
		CacheMaxSizeMB: env.Value.Cache.MaxSizeMB,
	})

	if env.Value.Password == "" {
		logger.Warn("No password configured, the printer is open to everyone")
	}
	if env.Value.AdminID == "" {
		logger.Info("No admin_id configured, call /api/id to find yours")
	}

	if err := server.Start(env.Value.Server.BindAddress, env.Value.Server.Port); err != nil {
		return err
	}

	logger.Info("Server started",
		zap.String("printer", printer.Name()),
		zap.String("label", printer.Label().Name),
		zap.String("address", fmt.Sprintf("http://%s:%d/", env.Value.Server.BindAddress, env.Value.Server.Port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Shutdown(ctx)

	logger.Info("Shutdown complete")
	return nil
}
