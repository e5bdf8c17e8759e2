package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"viewer-backend/internal/config"
	"viewer-backend/internal/handler"
	"viewer-backend/internal/imaging"
	"viewer-backend/internal/logging"
	"viewer-backend/internal/proxy"
	"viewer-backend/internal/service"
)

func main() {
	// Load .env in dev only; production injects env vars through infra.
	if os.Getenv("APP_ENV") != "production" {
		_ = godotenv.Load()
	}

	// ── Configuration ─────────────────────────────────────────────────────────
	configPath := os.Getenv("CONFIG_FILE")
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}

	provider, err := config.NewProvider(configPath)
	if err != nil {
		logging.Fatal().Err(err).Str("path", configPath).Msg("failed to load configuration")
	}
	cfg := provider.Current()

	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	provider.OnReload(func(c *config.Config) {
		logging.Init(logging.Config{Level: c.Logging.Level, Format: c.Logging.Format})
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Imaging service & background pool ────────────────────────────────────
	// Pool size, breaker settings and the listen address are read once; other
	// values follow config reloads.
	imagingClient := imaging.NewClient(provider)
	forwarder := proxy.NewForwarder(provider, imagingClient.StreamingClient())

	pool := service.NewPool(cfg.Background.Workers, cfg.Background.QueueSize, cfg.Background.TaskTimeout)
	pool.Start()

	sessions := service.NewSessionService(provider, imagingClient, pool, nil)

	// ── Router ────────────────────────────────────────────────────────────────
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	handler.Register(r, "", &handler.HealthHandler{Config: provider, Breaker: imagingClient})
	handler.Register(r, "/pcc",
		&handler.SessionHandler{Config: provider, Sessions: sessions, Sources: imagingClient},
		&handler.LayerRecordHandler{Config: provider, Sessions: sessions},
		&handler.MarkupHandler{Config: provider, Sessions: sessions},
		&handler.ResourceHandler{Config: provider},
		&handler.ExportHandler{Config: provider, Converter: imagingClient, Proxy: forwarder},
	)

	cors := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{
			"Content-Type",
			handler.MethodOverrideHeader,
			imaging.AffinityTokenHeader,
			logging.RequestIDHeader,
		}),
		handlers.ExposedHeaders([]string{imaging.AffinityTokenHeader, logging.RequestIDHeader}),
	)

	var h http.Handler = r
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.RecoveryLogger{}),
		handlers.PrintRecoveryStack(true),
	)(h)
	h = logging.Middleware(h)
	h = cors(h)
	h = handlers.ProxyHeaders(h)

	srv := &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// ── Run until SIGINT/SIGTERM, then drain HTTP and the background pool ─────
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Info().
			Str("address", srv.Addr).
			Str("imaging", cfg.Imaging.BaseURL()).
			Str("environment", cfg.Server.Environment).
			Msg("viewer backend running")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := provider.Watch(gCtx); err != nil {
			logging.Error().Err(err).Msg("config watcher stopped, reloads disabled")
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logging.Info().Msg("shutdown signal received, draining requests")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), provider.Current().Server.ShutdownTimeout)
		defer cancel()

		httpErr := srv.Shutdown(shutdownCtx)
		poolErr := pool.Shutdown(shutdownCtx)
		return errors.Join(httpErr, poolErr)
	})

	if err := g.Wait(); err != nil {
		logging.Fatal().Err(err).Msg("forced shutdown")
	}
	logging.Info().Msg("server stopped cleanly")
}
