package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"admission-gateway/middleware/ratelimit"
	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/domain"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/go-chi/chi/v5"
)

// Backend de demonstração atrás do gateway. Com EMBED_RATELIMIT=true o mesmo
// middleware é injetado direto no servidor (sem proxy), com store em memória.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	h := http.Handler(newRouter(time.Now))
	if embed, _ := strconv.ParseBool(os.Getenv("EMBED_RATELIMIT")); embed {
		store := infra.NewMemoryWindowStore()
		store.StartJanitor(ctx)

		reg, err := application.NewTierRegistry(domain.DefaultTiers())
		if err != nil {
			logger.Error("tiers", "error", err)
			os.Exit(1)
		}
		h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50})(h)
		h = ratelimit.Middleware(ratelimit.Options{
			Service:            application.Service{Store: store, Tiers: reg, Logger: logger},
			Stats:              infra.NewMemoryStatsStore(),
			TrustXForwardedFor: true,
			Logger:             logger,
		})(h)
	}

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newRouter(now func() time.Time) chi.Router {
	r := chi.NewRouter()

	reply := func(msg string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"message":   msg,
				"timestamp": now().UnixMilli(),
			})
		}
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/resource", reply("Hello from Backend Service"))
		r.Get("/protected", reply("This is sensitive data"))
		r.Get("/users", reply("Users endpoint"))
		r.Get("/orders", reply("Orders endpoint"))
	})
	r.Get("/api/health", reply("UP"))
	return r
}
