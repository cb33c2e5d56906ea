// The broker service runs the token budget broker standalone, so several
// worker processes can share one per-minute quota over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/neuralnoy/lokutor-workers/internal/app"
	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Service.Name == "lokutor-worker" {
		cfg.Service.Name = "broker-service"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := app.InitObservability(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init observability")
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(shCtx)
	}()

	b := broker.New(cfg.Broker.TokensPerMinute, broker.Options{ReservationTTL: cfg.Broker.ReservationTTL})
	b.StartSweep(ctx)
	if err := b.RegisterMetrics(); err != nil {
		log.Warn().Err(err).Msg("broker metrics registration failed")
	}

	srv := &http.Server{
		Addr:              cfg.Broker.Listen,
		Handler:           b.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
	}()

	log.Info().
		Str("listen", cfg.Broker.Listen).
		Int("tokens_per_minute", cfg.Broker.TokensPerMinute).
		Msg("broker service starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("broker service exited")
	}
	log.Info().Msg("broker service stopped")
}
