// main is the entry point of the Allied Intel application.
// It initializes the configuration, logger, database, GeoIP provider, snapshot scheduler and starts the HTTP server.
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
	"github.com/woozymasta/alliedintel/internal/cache"
	"github.com/woozymasta/alliedintel/internal/config"
	"github.com/woozymasta/alliedintel/internal/fake"
	"github.com/woozymasta/alliedintel/internal/geoip"
	"github.com/woozymasta/alliedintel/internal/history"
	"github.com/woozymasta/alliedintel/internal/logger"
	"github.com/woozymasta/alliedintel/internal/maintenance"
	"github.com/woozymasta/alliedintel/internal/networks"
	"github.com/woozymasta/alliedintel/internal/resolver"
	"github.com/woozymasta/alliedintel/internal/server"
	"github.com/woozymasta/alliedintel/internal/snapshot"
	"github.com/woozymasta/alliedintel/internal/storage"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Msg("Starting allied intel service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// GeoIP
	var geoProvider *geoip.Provider
	if !cfg.GeoIP.Disabled {
		log.Info().Msg("Checking GeoIP database...")
		if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
			log.Error().Err(err).Msg("Failed to download GeoIP database")
		}

		p, err := geoip.Open(cfg.GeoIP.Path)
		if err != nil {
			log.Error().Err(err).Msg("Failed to open GeoIP database, country fallback disabled")
		} else {
			geoProvider = p
			defer func() {
				if err := geoProvider.Close(); err != nil {
					log.Error().Err(err).Msg("Error closing GeoIP provider")
				}
			}()
		}
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	if counts, err := store.Counts(ctx); err == nil {
		log.Info().
			Int64("servers", counts.Servers).
			Int64("snapshots", counts.Snapshots).
			Int64("players", counts.Players).
			Msg("Database opened")
	}

	// Upstream and pipeline
	responses := cache.New(cfg.Cache.TTL)
	log.Info().Dur("ttl", responses.TTL()).Str("base_url", cfg.Upstream.BaseURL).Msg("Upstream client configured")
	upstream := networks.New(cfg.Upstream, responses)
	pipeline := snapshot.New(upstream, store, snapshot.Options{
		Countries: geoProvider,
		PageSize:  cfg.Snapshot.MaxResults,
		Workers:   cfg.Snapshot.Workers,
	})

	// data generation or database maintenance
	if cfg.Storage.GenerateCount > 0 {
		fake.GenerateData(ctx, store, cfg.Storage.GenerateCount)
		return
	} else if maintenance.Run(ctx, cfg, store, pipeline) {
		return
	}

	// Scheduler
	scheduler := snapshot.NewScheduler(pipeline, cfg.Snapshot.Interval, cfg.Snapshot.InitialDelay)
	if cfg.Snapshot.Disabled {
		log.Warn().Msg("Snapshot scheduler disabled")
	} else {
		scheduler.Start(ctx)
	}

	// Init server
	srvHandler := server.New(upstream, pipeline, history.NewService(store, resolver.New(resolver.WithTimeout(cfg.Server.ResolveTimeout)), nil), cfg)

	httpServer := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           srvHandler.Run(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful Shutdown
	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	srvHandler.Close()

	// Wait for the running sweep
	scheduler.Stop()

	log.Info().Msg("Server exited")
}
