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

	router "github.com/SabbirMurad/fanari-backend/internal/adapters/http"
	"github.com/SabbirMurad/fanari-backend/internal/app/lobby"
	"github.com/SabbirMurad/fanari-backend/internal/auth"
	"github.com/SabbirMurad/fanari-backend/internal/config"
	"github.com/SabbirMurad/fanari-backend/internal/storage"
	"github.com/SabbirMurad/fanari-backend/internal/storage/memory"
	mongostore "github.com/SabbirMurad/fanari-backend/internal/storage/mongo"
)

const mongoConnectTimeout = 10 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	var store storage.Store
	if cfg.MongoURI != "" {
		connectCtx, connectCancel := context.WithTimeout(ctx, mongoConnectTimeout)
		ms, err := mongostore.New(connectCtx, cfg.MongoURI, cfg.MongoDB)
		connectCancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mongo")
		}
		defer func() {
			closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer closeCancel()
			if err := ms.Close(closeCtx); err != nil {
				log.Error().Err(err).Msg("mongo disconnect")
			}
		}()
		store = ms
	} else {
		log.Warn().Msg("no mongo_uri configured, using in-memory store")
		store = memory.New()
	}

	lb := lobby.New(store)
	go lb.Run(ctx)

	r := router.SetupRouter(ctx, cfg, router.Deps{
		Lobby:    lb,
		Verifier: auth.NewJWTVerifier(cfg.Secret),
		Store:    store,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("fanari realtime server started")
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
	log.Info().Msg("Server exited gracefully")
}
