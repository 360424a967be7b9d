package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/cellspace/config"
	"github.com/pthm-cable/cellspace/sim"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	materials := flag.String("materials", "", "Material catalog CSV (empty = use config)")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	logEvery := flag.Int("log-every", 0, "Stats window size in ticks (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for snapshot files (empty = use config)")
	dbPath := flag.String("db", "", "SQLite snapshot database (empty = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	resume := flag.String("resume", "", "Snapshot file to resume from instead of generating a scene")
	seed := flag.Int64("seed", 0, "Scene seed (0 = use config)")
	maxTicks := flag.Int("max-ticks", -1, "Stop after N ticks (0 = unlimited, -1 = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus /metrics on this address (empty = use config)")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// CLI overrides
	if *materials != "" {
		cfg.Materials.Catalog = *materials
	}
	if *logEvery > 0 {
		cfg.Telemetry.StatsEvery = *logEvery
	}
	if *snapshotDir != "" {
		cfg.Snapshot.Dir = *snapshotDir
	}
	if *dbPath != "" {
		cfg.Snapshot.DB = *dbPath
	}
	if *maxTicks >= 0 {
		cfg.Engine.MaxTicks = *maxTicks
	}
	if *metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := sim.Options{
		Seed:        *seed,
		LogStats:    *logStats,
		OutputDir:   *outputDir,
		SnapshotDir: cfg.Snapshot.Dir,
		DBPath:      cfg.Snapshot.DB,
		Resume:      *resume,
		Logger:      logger,
	}

	var server *http.Server
	if cfg.Telemetry.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		opts.Registerer = reg
		server = serveMetrics(cfg.Telemetry.MetricsAddr, reg)
	}

	r, err := sim.New(ctx, cfg, opts)
	if err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}

	slog.Info("starting simulation",
		"max_ticks", cfg.Engine.MaxTicks,
		"stats_every", cfg.Telemetry.StatsEvery,
		"flow_rate", cfg.Flow.Rate,
		"metrics_addr", cfg.Telemetry.MetricsAddr,
	)

	runErr := r.Run(ctx, uint64(cfg.Engine.MaxTicks))
	if err := r.Close(); err != nil {
		slog.Error("failed to close outputs", "error", err)
	}
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}
	if runErr != nil {
		slog.Error("simulation failed", "tick", r.Tick(), "error", runErr)
		os.Exit(1)
	}
}

// serveMetrics exposes reg on addr in the background.
func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return server
}
