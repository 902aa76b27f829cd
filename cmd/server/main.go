package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"review-montage/internal/api"
	"review-montage/internal/montage"
	"review-montage/internal/platform/config"
	"review-montage/internal/platform/logger"
	"review-montage/internal/platform/metrics"
	"review-montage/internal/review"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "3000")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	apiURL := config.GetEnv("API_URL", "http://localhost:8080/api/v1/")
	apiTimeout := config.GetEnvDuration("API_TIMEOUT", 10*time.Second)
	maxRetries := config.GetEnvInt("API_MAX_RETRIES", 3)
	minFrames := config.GetEnvInt("MIN_FRAMES", 0)
	tickInterval := config.GetEnvDuration("TICK_INTERVAL", montage.DefaultTickInterval)
	idleTimeout := config.GetEnvDuration("SESSION_IDLE_TIMEOUT", review.DefaultIdleTimeout)
	loc := config.GetEnvLocation("TIMEZONE", time.Local)

	log := logger.New(logLevel, logFormat)

	retry := api.DefaultRetryConfig()
	retry.MaxRetries = maxRetries
	client, err := api.New(apiURL,
		api.WithHTTPClient(&http.Client{Timeout: apiTimeout}),
		api.WithRetry(retry),
		api.WithLocation(loc),
	)
	if err != nil {
		log.Error("invalid API_URL", "url", apiURL, "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	hooks := montage.Hooks{
		OnResync: func(api.MonitorID) { met.IncResyncs() },
		OnSearch: func(err error) {
			var apiErr *api.APIError
			switch {
			case err == nil:
				met.IncSearches()
			case errors.As(err, &apiErr):
				met.IncSearchFailures("api")
			default:
				met.IncSearchFailures("network")
			}
		},
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	repo := review.NewInMemoryRepository()
	svc := review.NewService(ctx, repo, client, log, review.Config{
		TickInterval: tickInterval,
		MinFrames:    int64(minFrames),
		IdleTimeout:  idleTimeout,
		Hooks:        hooks,
	})
	h := review.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetActiveSessions(repo.ActiveSessionCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

	go svc.RunReaper(ctx)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"api_url", apiURL,
		"timezone", loc.String(),
		"tick_interval", tickInterval.String(),
		"min_frames", minFrames,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, closing sessions")
	svc.CloseAll()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
