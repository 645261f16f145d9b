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

	"github.com/dkeye/VoiceAgent/internal/adapters/collab"
	"github.com/dkeye/VoiceAgent/internal/adapters/device"
	router "github.com/dkeye/VoiceAgent/internal/adapters/http"
	"github.com/dkeye/VoiceAgent/internal/adapters/rtc"
	sigadapter "github.com/dkeye/VoiceAgent/internal/adapters/signal"
	"github.com/dkeye/VoiceAgent/internal/app/session"
	"github.com/dkeye/VoiceAgent/internal/config"
	"github.com/dkeye/VoiceAgent/internal/core"
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
	if err := cfg.ValidateClient(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	devices := device.NewDesktop(device.Options{Playback: cfg.Playback})
	defer devices.Close()

	platform := core.Platform{
		Media:      devices,
		Collab:     collab.New(cfg.BrokerURL, cfg.RequestTimeout),
		Negotiator: sigadapter.NewHTTPNegotiator(cfg.RealtimeURL, cfg.Model, cfg.RequestTimeout),
		NewPeer: rtc.NewPeerFactory(rtc.Options{
			GatherTimeout: cfg.GatherTimeout,
			PionLevel:     zerolog.WarnLevel,
		}),
	}

	tap := sigadapter.NewEventTap(cfg.ReadLimit)
	sess := session.New(platform, session.Options{ChannelLabel: cfg.ChannelLabel, Observer: tap})
	tap.Bind(sess)

	r := router.SetupRouter(ctx, cfg, sess, tap)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Voice client control API started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	autoStarted := make(chan struct{})
	if cfg.AutoStart {
		go func() {
			defer close(autoStarted)
			if err := sess.Start(ctx); err != nil {
				log.Error().Err(err).Msg("auto start failed")
			}
		}()
	} else {
		close(autoStarted)
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdown(sess, srv, autoStarted)
	log.Info().Msg("Client exited gracefully")
}

type stopper interface{ Stop() }

type drainer interface {
	Shutdown(ctx context.Context) error
}

// shutdown returns only once no start can still be touching the audio devices,
// which are closed by the caller afterwards.
func shutdown(sess stopper, srv drainer, autoStarted <-chan struct{}) {
	sess.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	<-autoStarted
	sess.Stop()
}
