package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"helmsman/cmd/orchestrator/config"
	"helmsman/internal/engine"
	"helmsman/internal/observability"
	"helmsman/internal/realtime"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()
	log := newLogger()

	if err := run(ctx, log); err != nil {
		log.Fatal().Err(err).Msg("orchestrator error")
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if raw := strings.TrimSpace(os.Getenv("LOG_LEVEL")); raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

func run(ctx context.Context, log zerolog.Logger) error {
	cfg, err := config.LoadOrchestrator()
	if err != nil {
		return err
	}
	obsCfg, err := config.LoadObservability()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	hub := realtime.NewHub()
	go hub.Run(ctx)

	svc, cleanup, err := engine.Build(ctx, engine.BuildConfig{
		DatabaseURL:   cfg.DatabaseURL,
		RedisURL:      cfg.RedisURL,
		ServiceAddrs:  cfg.ServiceAddrs,
		MaxConcurrent: cfg.MaxConcurrent,
		LeaseTTL:      cfg.LeaseTTL,
		Metrics:       metrics,
		Events:        hub,
	}, log)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.DefinitionsDir != "" {
		count, err := svc.LoadDefinitions(ctx, cfg.DefinitionsDir)
		if err != nil {
			return err
		}
		log.Info().Int("count", count).Str("dir", cfg.DefinitionsDir).Msg("workflow definitions loaded")
	}

	// Relaunch whatever a previous process left unfinished before accepting
	// new work.
	if count, err := svc.Recover(ctx); err != nil {
		log.Warn().Err(err).Msg("recovery scan failed")
	} else if count > 0 {
		log.Info().Int("count", count).Msg("resumed incomplete sagas")
	}

	mux := http.NewServeMux()
	registerAPI(mux, svc, log)
	mux.Handle("/metrics", observability.Handler(metrics))
	mux.Handle("/feed", realtime.Handler(hub))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:    obsCfg.Addr,
		Handler: mux,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info().Str("addr", obsCfg.Addr).Msg("orchestrator running")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := svc.Drain(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("drain timed out, leaving in-flight sagas to recovery")
	}
	return nil
}
