package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matchpulse/predictor/internal/audit"
	"github.com/matchpulse/predictor/internal/batch"
	"github.com/matchpulse/predictor/internal/config"
	"github.com/matchpulse/predictor/internal/database"
	"github.com/matchpulse/predictor/internal/news"
	"github.com/matchpulse/predictor/models"
)

func main() {
	homeTeamID := flag.String("home", "", "home team id")
	awayTeamID := flag.String("away", "", "away team id")
	flag.Parse()

	if *homeTeamID == "" || *awayTeamID == "" {
		fmt.Fprintln(os.Stderr, "usage: quickpredict -home <team-id> -away <team-id>")
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := db.EnsureActiveVersion(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure active algorithm version")
	}

	orchestrator := batch.New(db, news.NewIntegrator(db), audit.New(db), batch.Config{})

	prediction, calcID, err := orchestrator.QuickPredict(ctx, *homeTeamID, *awayTeamID, models.SourceQuickPredict)
	if err != nil {
		log.Fatal().Err(err).Msg("quick predict failed")
	}

	fmt.Printf("%s vs %s\n", *homeTeamID, *awayTeamID)
	fmt.Printf("  home win: %d%%  draw: %d%%  away win: %d%%\n",
		prediction.HomeWinProbability, prediction.DrawProbability, prediction.AwayWinProbability)
	fmt.Printf("  predicted score: %d-%d (confidence %d%%)\n",
		prediction.PredictedHomeScore, prediction.PredictedAwayScore, prediction.Confidence)
	for _, f := range prediction.Factors {
		fmt.Printf("  factor %-16s %+6.1f  %s\n", f.Code, f.Magnitude, f.Description)
	}
	fmt.Printf("  calculation: %s\n", calcID)
}
