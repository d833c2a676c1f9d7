package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/voidframe/roomserver/internal/adminhttp"
	"github.com/voidframe/roomserver/internal/config"
	"github.com/voidframe/roomserver/internal/driver"
	"github.com/voidframe/roomserver/internal/matchmaker"
	"github.com/voidframe/roomserver/internal/presence"
	"github.com/voidframe/roomserver/internal/room"
	"github.com/voidframe/roomserver/internal/serializer"
	"github.com/voidframe/roomserver/internal/stats"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
	}

	pres, err := newPresence(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize presence backend")
	}

	drv := newDriver(cfg, pres)
	st := stats.New(pres, drv, cfg.ProcessID)

	mm, err := matchmaker.New(cfg.ProcessID, pres, drv, st)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize matchmaker")
	}
	mm.DevMode = cfg.DevMode
	mm.HealthChecks = cfg.HealthChecks

	defineHandlers(mm, cfg)

	r := adminhttp.SetupRouter(cfg, st, mm)
	srv := &http.Server{Addr: cfg.AdminAddr, Handler: r}

	go func() {
		log.Info().Str("addr", cfg.AdminAddr).Str("processId", cfg.ProcessID).Msg("room server admin surface started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownWindow)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
	if err := mm.GracefullyShutdown(cfg.GracefulShutdownWindow); err != nil {
		log.Error().Err(err).Msg("matchmaker shutdown error")
	}
	log.Info().Msg("server exited gracefully")
}

func newPresence(cfg *config.Config) (presence.Presence, error) {
	if cfg.PresenceBackend == "nats" {
		return presence.NewNATS(presence.NATSConfig{URL: cfg.NatsURL, Bucket: "roomserver_presence"})
	}
	return presence.NewLocal(), nil
}

func newDriver(cfg *config.Config, p presence.Presence) driver.Driver {
	if cfg.DriverBackend == "distributed" {
		return driver.NewDistributed(p)
	}
	return driver.NewLocal()
}

// defineHandlers registers the room types this process can host. A single
// "lobby" handler is registered as a minimal, realistic example exercising
// the full stack end to end; concrete game-room handlers are the caller's
// responsibility and out of this repo's scope.
func defineHandlers(mm *matchmaker.Matchmaker, cfg *config.Config) {
	mm.Define(&room.Handler{
		RoomName:               "lobby",
		Factory:                room.New,
		MaxClients:             16,
		AutoDispose:            room.Bool(true),
		PatchRateMS:            cfg.DefaultPatchRateMS,
		SeatReservationSeconds: cfg.DefaultSeatReservationSeconds,
		Serializer:             func() serializer.Serializer { return serializer.NewJSONDelta() },
		Hooks: room.Hooks{
			OnCreate: func(r *room.Room, options map[string]any) error {
				r.SetState(map[string]any{"occupants": 0})
				return nil
			},
			OnJoin: func(r *room.Room, c *room.Client, options map[string]any, auth any) error {
				log.Info().Str("module", "lobby").Str("sessionId", c.SessionID).Msg("joined lobby")
				return nil
			},
		},
	})
}
