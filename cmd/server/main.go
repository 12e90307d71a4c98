package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/tahcohcat/voiceforge/config"
	"github.com/tahcohcat/voiceforge/internal/api"
	"github.com/tahcohcat/voiceforge/internal/auth"
	"github.com/tahcohcat/voiceforge/internal/logger"
	"github.com/tahcohcat/voiceforge/internal/metrics"
	"github.com/tahcohcat/voiceforge/internal/studio"
	"github.com/tahcohcat/voiceforge/internal/tts"
	"github.com/tahcohcat/voiceforge/internal/websocket"
	"github.com/tahcohcat/voiceforge/web"
)

const (
	sweepEvery  = time.Minute
	studioIdle  = 30 * time.Minute
	shutdownMax = 10 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The process logger is a no-op until run initialises it.
	if err := run(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "voiceforge-server:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := logger.Init(logger.LogLevel(cfg.Log.Level), cfg.Log.Development); err != nil {
		return fmt.Errorf("failed to initialise logger: %w", err)
	}
	defer logger.Sync()
	log := logger.New().Named("server")

	if cfg.UsesDefaultSessionSecret() {
		log.Warn("auth.session_secret is the development default; set VOICEFORGE_AUTH_SESSION_SECRET in production")
	}

	templates, err := web.Templates()
	if err != nil {
		return fmt.Errorf("failed to parse templates: %w", err)
	}

	m := metrics.New()
	hub := websocket.NewHub(log)
	go hub.Run(ctx)

	r := mux.NewRouter()

	// Stateless proxy
	apiRouter := r.PathPrefix("/api").Subrouter()
	api.RegisterTTSRoutes(apiRouter, api.NewTTSHandler(tts.NewOpenAI(cfg.Upstream, nil, log), m, log))

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", metrics.HealthHandler).Methods(http.MethodGet)
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", web.Static()))

	// Browser studio, one form per session cookie
	studioHandler := api.NewStudioHandler(api.StudioDeps{
		Hub:       hub,
		Generator: studio.NewProxyClient(cfg.StudioProxyURL(), nil),
		Templates: templates,
		Metrics:   m,
		Logger:    log,
	})
	sessions := auth.NewStore(cfg.Auth, log)
	studioRouter := r.PathPrefix("/").Subrouter()
	studioRouter.Use(sessions.Middleware)
	api.RegisterStudioRoutes(studioRouter, studioHandler)

	go sweep(ctx, studioHandler, log)

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           c.Handler(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownMax)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("graceful shutdown failed")
		}
	}()

	log.Info("VoiceForge server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("upstream", cfg.Upstream.URL),
		zap.String("studio_proxy", cfg.StudioProxyURL()),
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server stopped: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func sweep(ctx context.Context, sh *api.StudioHandler, log *logger.Log) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sh.Sweep(studioIdle); n > 0 {
				log.Debug("closed idle studios", zap.Int("count", n))
			}
		}
	}
}
