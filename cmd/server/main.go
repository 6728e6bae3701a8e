// Command clobd is the order matching engine host process: it wires
// internal/mengine, internal/riskgate, internal/clearing,
// internal/quotefeed and internal/walog around one internal/market
// per configured market, and serves the result over HTTP.
//
// See server.go for the wiring diagram and Server's fields.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clobd",
		Short: "Order matching engine host process",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.Flags().Int("port", 8080, "HTTP API port")
	cmd.Flags().Int("metrics-port", 9090, "Prometheus /metrics port")
	cmd.Flags().String("wal-dir", "wal", "directory for per-market write-ahead logs")
	cmd.Flags().Bool("sync", false, "fsync the write-ahead log after every append")

	_ = viper.BindPFlag("port", cmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("metrics_port", cmd.Flags().Lookup("metrics-port"))
	_ = viper.BindPFlag("wal_dir", cmd.Flags().Lookup("wal-dir"))
	_ = viper.BindPFlag("sync_mode", cmd.Flags().Lookup("sync"))
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if p := viper.GetInt("port"); p != 0 {
		cfg.Port = p
	}
	if p := viper.GetInt("metrics_port"); p != 0 {
		cfg.MetricsPort = p
	}
	if d := viper.GetString("wal_dir"); d != "" {
		cfg.WalDir = d
	}
	cfg.SyncMode = viper.GetBool("sync_mode")

	if err := os.MkdirAll(cfg.WalDir, 0755); err != nil {
		return fmt.Errorf("create wal dir: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	server, err := NewServer(cfg, log)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	// Graceful shutdown: on SIGINT/SIGTERM, drain every market's engine,
	// flush its WAL, then stop accepting HTTP traffic. Mirrors the
	// teacher's shutdown ordering in cmd/server/main.go.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
