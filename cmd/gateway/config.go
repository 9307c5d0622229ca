package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"
)

type config struct {
	listenAddr  string
	upstreamURL string
	metricsAddr string

	windowStore   string
	redisAddr     string
	redisPassword string
	redisDB       int
	storeTimeout  time.Duration
	failMode      application.FailMode
	tiers         *application.TierRegistry

	backendTimeout time.Duration
	trustXFF       bool
	userHeader     string
	apiKeyHeader   string

	concurrencyMax     int
	concurrencyTimeout time.Duration

	publishQueueSize int
	publishWorkers   int
	publishOverflow  infra.OverflowPolicy
	auditFile        string
	auditDB          string
	eventsEnabled    bool
	eventsPrefix     string
	eventsMaxLen     int64

	statsRedisEnabled bool

	tracingEnabled     bool
	tracingSampleRatio float64

	logLevel  slog.Level
	logFormat string
}

func (c config) needsRedis() bool {
	return c.windowStore == "redis" || c.eventsEnabled || c.statsRedisEnabled
}

func readConfig() (config, error) {
	cfg := config{}
	env := &envReader{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = strings.TrimSpace(os.Getenv("UPSTREAM_URL"))
	// METRICS_ADDR= (vazio) monta /admin/metrics e /admin/stats no listener principal
	cfg.metricsAddr = ":9090"
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok {
		cfg.metricsAddr = strings.TrimSpace(v)
	}

	cfg.windowStore = strings.ToLower(getenvDefault("WINDOW_STORE", "memory"))
	cfg.redisAddr = getenvDefault("REDIS_ADDR", "")
	cfg.redisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.redisDB = env.getenvIntDefault("REDIS_DB", 0)
	cfg.storeTimeout = env.getenvDurationDefault("STORE_TIMEOUT", 50*time.Millisecond)

	failMode, err := application.ParseFailMode(os.Getenv("FAIL_MODE"))
	if err != nil {
		return config{}, err
	}
	cfg.failMode = failMode

	tiers, err := readTiers()
	if err != nil {
		return config{}, err
	}
	if cfg.tiers, err = application.NewTierRegistry(tiers); err != nil {
		return config{}, err
	}

	cfg.backendTimeout = env.getenvDurationDefault("BACKEND_TIMEOUT", 10*time.Second)
	cfg.trustXFF = env.getenvBoolDefault("TRUST_XFF", false)
	cfg.userHeader = getenvDefault("USER_HEADER", "X-User-Id")
	cfg.apiKeyHeader = getenvDefault("API_KEY_HEADER", "X-API-Key")

	cfg.concurrencyMax = env.getenvIntDefault("CONCURRENCY_MAX", 1000)
	cfg.concurrencyTimeout = env.getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.publishQueueSize = env.getenvIntDefault("PUBLISH_QUEUE_SIZE", 1024)
	cfg.publishWorkers = env.getenvIntDefault("PUBLISH_WORKERS", 2)
	if cfg.publishOverflow, err = infra.ParseOverflowPolicy(os.Getenv("PUBLISH_OVERFLOW")); err != nil {
		return config{}, err
	}
	cfg.auditFile = os.Getenv("AUDIT_FILE")
	cfg.auditDB = os.Getenv("AUDIT_DB")
	cfg.eventsEnabled = env.getenvBoolDefault("EVENTS_ENABLED", false)
	cfg.eventsPrefix = getenvDefault("EVENTS_PREFIX", "events:decisions")
	cfg.eventsMaxLen = int64(env.getenvIntDefault("EVENTS_MAXLEN", 10000))

	cfg.statsRedisEnabled = env.getenvBoolDefault("STATS_REDIS_ENABLED", false)

	cfg.tracingEnabled = env.getenvBoolDefault("TRACING_ENABLED", false)
	cfg.tracingSampleRatio = env.getenvFloatDefault("TRACING_SAMPLE_RATIO", 1)

	if err := cfg.logLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return config{}, &domain.ConfigError{Field: "LOG_LEVEL", Reason: err.Error()}
	}
	cfg.logFormat = strings.ToLower(getenvDefault("LOG_FORMAT", "text"))

	if err := env.err(); err != nil {
		return config{}, err
	}

	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	if cfg.windowStore != "memory" && cfg.windowStore != "redis" {
		return config{}, &domain.ConfigError{Field: "WINDOW_STORE", Reason: fmt.Sprintf("unknown value %q (use memory|redis)", cfg.windowStore)}
	}
	if cfg.needsRedis() && strings.TrimSpace(cfg.redisAddr) == "" {
		return config{}, errors.New("REDIS_ADDR is required when WINDOW_STORE=redis, EVENTS_ENABLED or STATS_REDIS_ENABLED")
	}
	if cfg.logFormat != "text" && cfg.logFormat != "json" {
		return config{}, &domain.ConfigError{Field: "LOG_FORMAT", Reason: fmt.Sprintf("unknown value %q (use text|json)", cfg.logFormat)}
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if cfg.storeTimeout <= 0 {
		return config{}, &domain.ConfigError{Field: "STORE_TIMEOUT", Reason: "must be > 0"}
	}
	if cfg.publishQueueSize <= 0 || cfg.publishWorkers <= 0 {
		return config{}, &domain.ConfigError{Field: "PUBLISH_QUEUE_SIZE/PUBLISH_WORKERS", Reason: "must be > 0"}
	}
	if cfg.tracingSampleRatio < 0 || cfg.tracingSampleRatio > 1 {
		return config{}, &domain.ConfigError{Field: "TRACING_SAMPLE_RATIO", Reason: "must be within [0, 1]"}
	}
	return cfg, nil
}

// readTiers aplica, nesta ordem: padrões, TIERS_FILE e RATE_LIMIT_<ESCOPO>.
func readTiers() ([]domain.Tier, error) {
	tiers := domain.DefaultTiers()
	if path := strings.TrimSpace(os.Getenv("TIERS_FILE")); path != "" {
		var err error
		if tiers, err = infra.LoadTierFile(path); err != nil {
			return nil, err
		}
	}

	for _, sc := range domain.ScopeOrder {
		k := "RATE_LIMIT_" + strings.ToUpper(string(sc))
		v := strings.TrimSpace(os.Getenv(k))
		if v == "" {
			continue
		}
		t, err := infra.ParseTierSpec(sc, v)
		if err != nil {
			return nil, err
		}
		tiers = infra.MergeTiers(tiers, t)
	}
	return tiers, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envReader lê variáveis tipadas; valor malformado vira ConfigError em vez
// de cair silenciosamente no padrão.
type envReader struct {
	errs []error
}

func (e *envReader) fail(k, v string, err error) {
	e.errs = append(e.errs, &domain.ConfigError{Field: k, Reason: fmt.Sprintf("invalid value %q: %v", v, err)})
}

func (e *envReader) err() error { return errors.Join(e.errs...) }

func (e *envReader) getenvIntDefault(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return i
}

func (e *envReader) getenvFloatDefault(k string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return f
}

func (e *envReader) getenvBoolDefault(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return b
}

func (e *envReader) getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, v, err)
		return def
	}
	return d
}
