// Command geyserd wires the publish pipeline together: config, logger,
// metrics, FanOut, SlotCache, filter store, control endpoint, and the host
// adapter, then runs until a termination signal arrives. Structural grounding
// from cmd/smoke/main.go and cmd/benchmark/main.go's flag-parse +
// component-wiring shape.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/PayRpc/geyser-sprint/internal/config"
	"github.com/PayRpc/geyser-sprint/internal/control"
	"github.com/PayRpc/geyser-sprint/internal/fanout"
	"github.com/PayRpc/geyser-sprint/internal/filterstore"
	"github.com/PayRpc/geyser-sprint/internal/hostadapter"
	"github.com/PayRpc/geyser-sprint/internal/logging"
	"github.com/PayRpc/geyser-sprint/internal/metrics"
	"github.com/PayRpc/geyser-sprint/internal/slotcache"
)

const shutdownGrace = 5 * time.Second

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "geyserd: config load failed:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "geyserd: logger init failed:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	fo := fanout.New(cfg.TcpBatchMaxBytes, cfg.TcpStrictDelivery, cfg.TcpMinSubscribers, m, logger)
	if err := fo.Bind(int(cfg.TcpPort), cfg.TcpBufferSize); err != nil {
		logger.Fatal("fanout bind failed", zap.Error(err)) // bind failures at startup are fatal, spec.md §7
	}
	logger.Info("fanout listening", zap.String("addr", fo.ListenerAddr()))

	cache := slotcache.New(cfg.CacheTTL(), m)

	store, err := filterstore.New(cfg.FilterStoreDriver, cfg.FilterStoreDSN, logger)
	if err != nil {
		logger.Fatal("filter store init failed", zap.Error(err))
	}
	defer store.Close()

	filters := hostadapter.NewGeyserFilters(nil, logger)
	if existing, err := store.Get(ctx); err != nil {
		logger.Warn("filter store get failed at startup", zap.Error(err))
	} else {
		filters.UpdateFilters(existing)
	}

	adapter := hostadapter.New(hostadapter.Config{
		SendAccounts:     cfg.SendAccounts,
		SendTransactions: cfg.SendTransactions,
		SendBlocks:       cfg.SendBlocks,
		SkipVoteTxs:      cfg.SkipVoteTxs,
		SkipDeployTxs:    cfg.SkipDeployTxs,
	}, fo, cache, filters, m, logger)
	_ = adapter // host callbacks are wired in by the embedding validator process

	controlSrv := control.New(cfg.ControlListenAddr, store, filters, logger)
	go func() {
		if err := controlSrv.Run(ctx); err != nil {
			logger.Warn("control server exited", zap.Error(err))
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server exited", zap.Error(err))
		}
	}()

	go m.RunHeartbeat(ctx, fo, cfg.HeartbeatInterval, logger)

	logger.Info("geyserd running",
		zap.Uint16("tcp_port", cfg.TcpPort),
		zap.String("control_addr", cfg.ControlListenAddr))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := fo.Shutdown(shutdownCtx); err != nil {
		logger.Warn("fanout shutdown error", zap.Error(err))
	}
	_ = metricsSrv.Shutdown(shutdownCtx)
}
