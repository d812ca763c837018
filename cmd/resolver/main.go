package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dash-resolver/internal/dash"
	"dash-resolver/internal/platform/config"
	"dash-resolver/internal/platform/logger"
	"dash-resolver/internal/platform/metrics"
	"dash-resolver/internal/resolver"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")

	log := logger.New(logLevel, logFormat)

	cfg := dash.Config{
		IgnoreDrmInfo:                    config.GetEnvBool("IGNORE_DRM_INFO", false),
		DisableAudio:                     config.GetEnvBool("DISABLE_AUDIO", false),
		DisableVideo:                     config.GetEnvBool("DISABLE_VIDEO", false),
		DisableText:                      config.GetEnvBool("DISABLE_TEXT", false),
		DisableIFrames:                   config.GetEnvBool("DISABLE_IFRAMES", false),
		IgnoreMinBufferTime:              config.GetEnvBool("IGNORE_MIN_BUFFER_TIME", false),
		IgnoreMaxSegmentDuration:         config.GetEnvBool("IGNORE_MAX_SEGMENT_DURATION", false),
		IgnoreSuggestedPresentationDelay: config.GetEnvBool("IGNORE_SUGGESTED_PRESENTATION_DELAY", false),
		DefaultPresentationDelay:         config.GetEnvFloat("DEFAULT_PRESENTATION_DELAY", 0),
	}

	repo := resolver.NewInMemoryRepository()
	svc := resolver.NewService(repo, cfg, log)
	met := metrics.New()
	h := resolver.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		met.Handler(func() { met.SetLiveManifests(repo.LiveCount()) }).ServeHTTP(w, r)
	})
	h.Routes(r)

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
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
