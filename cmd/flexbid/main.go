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

	"github.com/alejandrodnm/flexbid/config"
	"github.com/alejandrodnm/flexbid/internal/adapters/instance"
	"github.com/alejandrodnm/flexbid/internal/adapters/metrics"
	"github.com/alejandrodnm/flexbid/internal/adapters/notify"
	"github.com/alejandrodnm/flexbid/internal/adapters/solver"
	"github.com/alejandrodnm/flexbid/internal/adapters/storage"
	"github.com/alejandrodnm/flexbid/internal/application/lagrange"
	"github.com/alejandrodnm/flexbid/internal/application/planner"
	"github.com/alejandrodnm/flexbid/internal/application/program"
	"github.com/alejandrodnm/flexbid/internal/scenario"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	instancePath := flag.String("instance", "", "path to the problem instance (YAML)")
	strategy := flag.String("strategy", "", "stochastic|deterministic|lagrangian|direct (overrides config)")
	dryRun := flag.Bool("dry-run", false, "keep results in memory instead of the configured database")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print schedule and bound tables (default: compact 1-line)")
	maxRows := flag.Int("rows", 0, "max schedule rows in table mode (0 = all)")
	history := flag.Duration("history", 0, "list runs started in the last duration and exit")
	show := flag.String("show", "", "reprint a stored run by ID and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *strategy != "" {
		cfg.Problem.Strategy = *strategy
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid strategy", "err", err)
			os.Exit(1)
		}
	}
	if *dryRun {
		cfg.Storage.DSN = ":memory:"
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*table, *maxRows)

	switch {
	case *history > 0:
		runHistory(ctx, store, console, *history)
		return
	case *show != "":
		runShow(ctx, store, notify.NewConsole(true, *maxRows), *show)
		return
	}

	if *instancePath == "" {
		slog.Error("missing -instance")
		os.Exit(2)
	}

	slog.Info("flexbid starting",
		"config", *configPath,
		"instance", *instancePath,
		"strategy", cfg.Problem.Strategy,
		"scenarios", cfg.Problem.Scenarios,
		"dry_run", *dryRun,
	)

	p, err := instance.Load(*instancePath)
	if err != nil {
		slog.Error("failed to load instance", "err", err, "path", *instancePath)
		os.Exit(1)
	}
	// la instancia manda; la configuración sólo cubre el mínimo ausente
	if p.Market.MinBid == 0 {
		p.Market.MinBid = cfg.Problem.MinBid
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewPrometheus(reg)
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer shutdown(srv)
	}

	factory := solver.Factory{Options: solver.Options{
		TimeLimit: cfg.SolveTimeLimit(),
		MIPGap:    cfg.Solver.MIPGap,
		MaxNodes:  cfg.Solver.MaxNodes,
		Tolerance: cfg.Solver.Tolerance,
	}}
	pool := planner.NewSolverPool(factory, cfg.Solver.PoolSize, cfg.Solver.AcquireRate)

	pl := planner.New(plannerConfig(cfg), pool, store, console, m)

	res, err := pl.Plan(ctx, p)
	if err != nil {
		if res.RunID == "" {
			slog.Error("planning failed", "err", err)
			os.Exit(1)
		}
		// resultado válido pero no persistido
		slog.Warn("result not stored", "err", err, "run_id", res.RunID)
	}

	slog.Info("flexbid stopped cleanly", "run_id", res.RunID)
}

// plannerConfig traduce la configuración de fichero a la del planner.
func plannerConfig(cfg *config.Config) planner.Config {
	pc := cfg.Problem

	opts := program.DefaultOptions()
	opts.Reserves = pc.Reserves
	opts.CapacityPayment = pc.CapacityPayment
	opts.DayAhead = pc.DayAhead
	opts.DayAheadFixed = pc.DayAheadFixed
	opts.Imbalance = pc.Imbalance
	opts.V2G = pc.V2G
	opts.QuantityOnly = pc.QuantityOnly
	opts.Grid = pc.Grid
	opts.FixedPTUs = pc.FixedPTUs
	opts.UClusters = pc.UClusters
	opts.DClusters = pc.DClusters
	opts.ClusterMethod = program.ClusterMethod(pc.ClusterMethod)
	opts.ReserveModel = program.ReserveModel(pc.ReserveModel)
	opts.ShortagePenalty = pc.ShortagePenalty
	opts.BatteryDegradation = pc.BatteryDegradation
	opts.RelaxedBinaryAfter = pc.RelaxedBinaryAfter
	opts.Clearance = pc.Clearance
	opts.TimeLimit = cfg.SolveTimeLimit()
	opts.MIPGap = cfg.Solver.MIPGap
	opts.SavePath = cfg.Solver.SavePath

	lc := cfg.Lagrange
	lr := lagrange.DefaultOptions()
	lr.MaxIterations = lc.MaxIterations
	lr.GapThreshold = lc.GapThreshold
	lr.StepFactor = lc.StepFactor
	lr.Momentum = lc.Momentum
	lr.MaxStep = lc.MaxStep
	lr.Patience = lc.Patience
	lr.Decay = lc.Decay
	lr.StallLimit = lc.StallLimit
	lr.Workers = lc.Workers

	return planner.Config{
		Strategy:  planner.Strategy(pc.Strategy),
		Program:   opts,
		Lagrange:  lr,
		Scenarios: pc.Scenarios,
		Reducer: scenario.Reducer{
			Method:   scenario.Method(pc.Reduction),
			Distance: scenario.DistanceKind(pc.ReductionDistance),
			Seed:     pc.Seed,
		},
		DesiredAcceptance: pc.DesiredAcceptance,
		Check:             pc.Check,
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err, "addr", addr)
		}
	}()
	slog.Info("metrics endpoint listening", "addr", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
