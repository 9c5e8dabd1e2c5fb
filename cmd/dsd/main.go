// Command dsd runs the textfs directory service: the client-facing login/
// view/create/delete/info/redirect surface and the storage-node-facing
// registration/heartbeat/recovery surface described in internal/ds/server.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/textfs/textfs/internal/config"
	"github.com/textfs/textfs/internal/ds/server"
	"github.com/textfs/textfs/internal/metrics"
	"github.com/textfs/textfs/pkg/api"
	"github.com/textfs/textfs/pkg/health"
	"github.com/textfs/textfs/pkg/obslog"
	"github.com/textfs/textfs/pkg/status"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("dsd: loading config: %v", err)
		}
		cfg = loaded
	}

	logOut, closeLog := openLogFile(cfg.Global.LogFile)
	defer closeLog()
	level, err := obslog.ParseLevel(cfg.Global.LogLevel)
	if err != nil {
		log.Printf("dsd: %v, defaulting to INFO", err)
	}
	logger := obslog.New(level, logOut).WithComponent("dsd")

	healthTracker := health.NewTracker(health.DefaultConfig())
	healthTracker.RegisterComponent("ds")

	metricsCfg := metrics.DefaultConfig("ds")
	metricsCfg.Port = cfg.Global.MetricsPort
	collector, err := metrics.NewCollector(metricsCfg)
	if err != nil {
		log.Fatalf("dsd: creating metrics collector: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := collector.Start(ctx); err != nil {
		logger.Error("metrics collector failed to start: %v", err)
	}

	srv, err := server.New(cfg.DirectoryService, cfg.Cache, cfg.CircuitBreaker, cfg.Security, logger, healthTracker, collector)
	if err != nil {
		log.Fatalf("dsd: constructing server: %v", err)
	}
	if err := srv.Start(); err != nil {
		log.Fatalf("dsd: starting server: %v", err)
	}
	logger.Info("directory service listening: clients=%s storage-nodes=%s", cfg.DirectoryService.ClientAddr, cfg.DirectoryService.SNAddr)

	statusTracker := status.NewTracker(status.TrackerConfig{HealthTracker: healthTracker})
	apiCfg := api.DefaultServerConfig()
	apiCfg.Address = fmt.Sprintf(":%d", cfg.Global.HealthPort)
	apiSrv := api.NewServer(apiCfg, statusTracker, healthTracker, collector)
	apiSrv.StartBackground()
	logger.Info("health/status API listening: %s", apiCfg.Address)

	waitForShutdown(logger, func() {
		apiShutdownCtx, apiCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer apiCancel()
		_ = apiSrv.Shutdown(apiShutdownCtx)
		srv.Stop()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = collector.Stop(stopCtx)
	})
}

// openLogFile opens cfg's configured log file, or returns os.Stdout if
// unset. The returned closer is always safe to call.
func openLogFile(path string) (io.Writer, func()) {
	if path == "" {
		return os.Stdout, func() {}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Printf("dsd: creating log directory: %v, logging to stdout", err)
		return os.Stdout, func() {}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("dsd: opening log file %s: %v, logging to stdout", path, err)
		return os.Stdout, func() {}
	}
	return f, func() { _ = f.Close() }
}

// waitForShutdown blocks until SIGINT/SIGTERM, then runs stop.
func waitForShutdown(logger *obslog.Logger, stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal %s, shutting down", sig)
	stop()
}
