package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matchpulse/predictor/internal/audit"
	"github.com/matchpulse/predictor/internal/batch"
	"github.com/matchpulse/predictor/internal/config"
	"github.com/matchpulse/predictor/internal/database"
	"github.com/matchpulse/predictor/internal/news"
	"github.com/matchpulse/predictor/internal/server"
	"github.com/matchpulse/predictor/internal/tuner"
)

const newsSyncInterval = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(lvl).With().Timestamp().Logger()

	db, err := database.New(database.ConnectionParams{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		DBName:   cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := db.EnsureActiveVersion(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure active algorithm version")
	}

	integrator := news.NewIntegrator(db)
	auditLogger := audit.New(db)
	orchestrator := batch.New(db, integrator, auditLogger, batch.Config{
		Workers:      cfg.BatchWorkers,
		Staleness:    time.Duration(cfg.StalenessHours) * time.Hour,
		MatchTimeout: cfg.MatchTimeout,
	})
	tn := tuner.New(db, cfg.MinTuningSample)

	srv := server.New(db, orchestrator, auditLogger, tn, server.Config{
		CronSecret:   cfg.CronSecret,
		DaysAhead:    cfg.DaysAhead,
		TuningWindow: time.Duration(cfg.TuningWindowDays) * 24 * time.Hour,
	})

	if cfg.NewsAPIURL != "" {
		client := news.NewClient(news.ClientOptions{
			BaseURL: cfg.NewsAPIURL,
			APIKey:  cfg.NewsAPIKey,
		})
		go syncNews(ctx, client, db)
	} else {
		log.Warn().Msg("NEWS_API_URL not set, news sync disabled")
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Router(),
	}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown failed")
	}
}

// syncNews pulls classified events from the provider on a fixed interval
// until the context is cancelled.
func syncNews(ctx context.Context, client *news.Client, db *database.DB) {
	since := time.Now().Add(-newsSyncInterval)
	ticker := time.NewTicker(newsSyncInterval)
	defer ticker.Stop()

	for {
		count, err := client.Sync(ctx, db, since)
		if err != nil {
			log.Error().Err(err).Msg("news sync failed")
		} else {
			since = time.Now()
			if count > 0 {
				log.Info().Int("count", count).Msg("news events synced")
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
