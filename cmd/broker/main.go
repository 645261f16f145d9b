package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/VoiceAgent/internal/broker"
	"github.com/dkeye/VoiceAgent/internal/config"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	if err := cfg.ValidateBroker(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, /session will fail")
	}
	if cfg.TurnDomain == "" || cfg.TurnAPIKey == "" {
		log.Warn().Msg("TURN_DOMAIN/TURN_API_KEY not set, /turn will fail")
	}

	r := broker.SetupRouter(cfg, broker.NewUpstream(cfg, nil))
	addr := fmt.Sprintf(":%d", cfg.BrokerPort)

	srv := &http.Server{
		Addr:    addr,
		Handler: broker.Handler(r),
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Broker started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Broker exited gracefully")
}
