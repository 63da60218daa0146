package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/mutation-gate/internal/admission"
	"github.com/danielpatrickdp/mutation-gate/internal/audit"
	"github.com/danielpatrickdp/mutation-gate/internal/band"
	"github.com/danielpatrickdp/mutation-gate/internal/ceiling"
	"github.com/danielpatrickdp/mutation-gate/internal/config"
	"github.com/danielpatrickdp/mutation-gate/internal/feedback"
	"github.com/danielpatrickdp/mutation-gate/internal/ledger"
	"github.com/danielpatrickdp/mutation-gate/internal/logging"
	"github.com/danielpatrickdp/mutation-gate/internal/metrics"
	"github.com/danielpatrickdp/mutation-gate/internal/orchestrator"
	"github.com/danielpatrickdp/mutation-gate/internal/probe"
)

// #region main
func main() {
	if err := run(); err != nil {
		slog.Error("gated exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	proc, err := config.ParseProcess()
	if err != nil {
		return err
	}
	logger := config.NewLogger(os.Stderr, proc.LogLevel, proc.LogFormat)
	slog.SetDefault(logger)

	loaded, err := config.Load(proc.PolicyPath)
	if err != nil {
		return err
	}

	// Metrics: Prometheus on its own registry, OTel on the global provider
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := metrics.NewPrometheus(reg)
	if proc.MetricsSchema != "" {
		snap, err := metrics.LoadSchema(proc.MetricsSchema)
		if err != nil {
			return err
		}
		if missing := metrics.Unlisted(snap, prom.Descriptors()); len(missing) > 0 {
			return fmt.Errorf("metrics schema %s does not list %v", proc.MetricsSchema, missing)
		}
	}
	otelSink, err := metrics.NewOTel(nil)
	if err != nil {
		return err
	}
	sink := metrics.NewFanout(logger.With("component", "metrics"), prom, otelSink)

	engine, err := loaded.NewEngine(
		admission.WithMetrics(sink),
		admission.WithObserver(sink),
		admission.WithLogger(logger.With("component", "admission")),
	)
	if err != nil {
		return err
	}

	// Stores: the ledger DB also holds the decision log; usage is separate
	store, err := ledger.NewStore(proc.LedgerDB)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	if err := logging.Migrate(store.DB()); err != nil {
		return err
	}
	usageDB, err := openUsageDB(proc.UsageDB)
	if err != nil {
		return err
	}
	defer usageDB.Close()
	usage, err := ceiling.NewUsageStore(usageDB)
	if err != nil {
		return err
	}

	emitter, err := audit.NewJSONLEmitter(proc.AuditPath)
	if err != nil {
		return err
	}

	history := band.NewHistory(proc.HistorySize)
	sup := feedback.NewSupervisor(
		feedback.SupervisorConfig{QueueLen: proc.HistorySize, PollEvery: proc.PollEvery, MaxAge: proc.BusMaxAge},
		history,
		feedback.LifeforceClassifier(proc.LifeforceSensor, proc.LifeforceSoft, proc.LifeforceHard),
		logger.With("component", "supervisor"),
	)
	sensor := newLineSensor(proc.LifeforceSensor, proc.HistorySize)
	sup.RegisterSensor(sensor)

	orch, err := orchestrator.New(orchestrator.Deps{
		Engine:       engine,
		Usage:        usage,
		Ledger:       store,
		Scope:        loaded.Scope,
		Env:          loaded.Environment,
		History:      history,
		Recorder:     audit.NewRecorder(emitter, logger.With("component", "audit")),
		Commits:      prom,
		ConfigDigest: loaded.Digest,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := probe.NewServer()
	grpcSrv := grpc.NewServer()
	health.Register(grpcSrv)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpSrv := &http.Server{Addr: proc.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lis, err := net.Listen("tcp", proc.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", proc.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return health.Watch(gctx, history, proc.PollEvery) })
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()
		grpcSrv.GracefulStop()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	health.SetReady()
	logger.Info("gated ready",
		"policy", proc.PolicyPath, "ledger", proc.LedgerDB, "usage", proc.UsageDB,
		"audit", emitter.Path(), "metrics", proc.MetricsAddr, "grpc", proc.GRPCAddr,
		"domains", engine.Domains(), "config_digest", loaded.Digest)

	loopErr := serveLines(gctx, os.Stdin, os.Stdout, orch, sensor, logger)
	stop()
	if err := g.Wait(); err != nil {
		return err
	}
	return loopErr
}

// #endregion main

// #region helpers
func openUsageDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open usage db: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("usage db %s: %w", pragma, err)
		}
	}
	return db, nil
}

// #endregion helpers
