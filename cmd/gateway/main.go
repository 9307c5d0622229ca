package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := readConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(os.Stderr, cfg.logLevel, cfg.logFormat)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	target, err := url.Parse(cfg.upstreamURL)
	if err != nil {
		return &domain.ConfigError{Field: "UPSTREAM_URL", Reason: err.Error()}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := infra.NewMetrics(reg)

	if cfg.tracingEnabled {
		shutdown, err := setupTracing(ctx, os.Stdout, cfg.tracingSampleRatio)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	var rdb *redis.Client
	if cfg.needsRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer func() { _ = rdb.Close() }()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := rdb.Ping(pingCtx).Result()
		cancel()
		if err != nil {
			// com fail-open o gateway sobe mesmo assim; o store loga e degrada por requisição
			logger.Warn("redis ping failed", "addr", cfg.redisAddr, "error", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	var store domain.WindowStore
	if cfg.windowStore == "redis" {
		store = infra.NewRedisWindowStore(rdb, infra.WithWindowTimeout(cfg.storeTimeout))
	} else {
		mem := infra.NewMemoryWindowStore()
		mem.StartJanitor(gctx)
		store = mem
	}

	memStats := infra.NewMemoryStatsStore()
	var stats domain.StatsStore = memStats
	var asyncStats *infra.AsyncStatsStore
	if cfg.statsRedisEnabled {
		asyncStats = infra.NewAsyncStatsStore(
			infra.NewRedisStatsStore(rdb),
			infra.WithAsyncLogger(infra.NewSampledLogger(logger, time.Second, 5)),
			infra.WithAsyncOnDrop(metrics.StatsDropped),
		)
		stats = infra.MultiStatsStore{memStats, asyncStats}
	}

	sinks, err := openSinks(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	pub := infra.NewPublisher(sinks,
		infra.WithQueueSize(cfg.publishQueueSize),
		infra.WithWorkers(cfg.publishWorkers),
		infra.WithOverflow(cfg.publishOverflow),
		infra.WithPublisherLogger(infra.NewSampledLogger(logger, time.Second, 5)),
		infra.WithPublisherMetrics(metrics),
	)

	svc := application.Service{
		Store:    store,
		Tiers:    cfg.tiers,
		FailMode: cfg.failMode,
		Logger:   infra.NewSampledLogger(logger, time.Second, 10),
		Observer: metrics,
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = ratelimit.BackendErrorHandler(logger)

	var pool domain.SlotPool
	if cfg.concurrencyMax > 0 {
		pool = infra.NewChanPool(cfg.concurrencyMax)
		metrics.TrackInFlight(pool)
	}

	admin := adminRouter(reg, memStats)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if cfg.metricsAddr == "" {
		r.Mount("/admin", admin)
	}
	r.Group(func(r chi.Router) {
		r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Max:            cfg.concurrencyMax,
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: cfg.concurrencyTimeout,
			OnReject:       metrics.ConcurrencyRejected,
		}))
		r.Use(ratelimit.Middleware(ratelimit.Options{
			Service:            svc,
			Stats:              stats,
			Publisher:          pub,
			TrustXForwardedFor: cfg.trustXFF,
			UserHeader:         cfg.userHeader,
			APIKeyHeader:       cfg.apiKeyHeader,
			BackendTimeout:     cfg.backendTimeout,
			Metrics:            metrics,
			Logger:             logger,
		}))
		r.Get("/api/health", healthHandler)
		r.Handle("/api/*", proxy)
	})

	servers := []*http.Server{newServer(cfg.listenAddr, r)}
	if cfg.metricsAddr != "" {
		servers = append(servers, newServer(cfg.metricsAddr, admin))
	}
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			errs = append(errs, srv.Shutdown(shutdownCtx))
		}
		// servidores parados: nada mais publica, então dá para esvaziar as filas
		errs = append(errs, pub.Close(shutdownCtx))
		if asyncStats != nil {
			errs = append(errs, asyncStats.Close(shutdownCtx))
		}
		return errors.Join(errs...)
	})

	logger.Info("gateway listening",
		"addr", cfg.listenAddr,
		"upstream", target.String(),
		"metrics_addr", cfg.metricsAddr,
		"window_store", cfg.windowStore,
		"fail_mode", cfg.failMode.String(),
		"backend_timeout", cfg.backendTimeout)
	for _, t := range cfg.tiers.Tiers() {
		logger.Info("tier", "scope", string(t.Scope), "limit", t.Limit, "window", t.Window)
	}
	logger.Info("publisher",
		"sinks", len(sinks),
		"queue", cfg.publishQueueSize,
		"workers", cfg.publishWorkers,
		"overflow", cfg.publishOverflow.String())

	return g.Wait()
}

func openSinks(ctx context.Context, cfg config, rdb redis.UniversalClient) ([]domain.DecisionSink, error) {
	var sinks []domain.DecisionSink
	if cfg.auditFile != "" {
		s, err := infra.NewFileAuditSink(cfg.auditFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.auditDB != "" {
		s, err := infra.OpenSQLAuditSink(ctx, cfg.auditDB)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.eventsEnabled {
		sinks = append(sinks, infra.NewRedisEventBus(rdb,
			infra.WithEventsPrefix(cfg.eventsPrefix),
			infra.WithEventsMaxLen(cfg.eventsMaxLen),
		))
	}
	return sinks, nil
}

func adminRouter(reg *prometheus.Registry, stats *infra.MemoryStatsStore) chi.Router {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{
			"total":     stats.Total(),
			"endpoints": stats.Snapshot(),
		})
	})
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "UP"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}
}
