package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/matchpulse/predictor/internal/audit"
	"github.com/matchpulse/predictor/internal/engine"
	"github.com/matchpulse/predictor/internal/news"
	"github.com/matchpulse/predictor/models"
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	models.TeamStore
	models.MatchStore
	models.PredictionStore
	models.VersionStore
	models.RunStore
}

// Config bounds one batch run.
type Config struct {
	Workers      int
	Staleness    time.Duration
	MatchTimeout time.Duration
}

// Orchestrator walks upcoming matches and decides per match whether to
// create, refresh or skip a prediction.
type Orchestrator struct {
	store  Store
	news   *news.Integrator
	audit  *audit.Logger
	logger zerolog.Logger

	workers      int
	staleness    time.Duration
	matchTimeout time.Duration
	now          func() time.Time
}

// New creates an orchestrator. Zero config fields fall back to defaults.
func New(store Store, integrator *news.Integrator, auditLogger *audit.Logger, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 4
	}
	if cfg.Staleness == 0 {
		cfg.Staleness = 24 * time.Hour
	}
	if cfg.MatchTimeout == 0 {
		cfg.MatchTimeout = 15 * time.Second
	}
	return &Orchestrator{
		store:        store,
		news:         integrator,
		audit:        auditLogger,
		logger:       log.With().Str("component", "batch").Logger(),
		workers:      cfg.Workers,
		staleness:    cfg.Staleness,
		matchTimeout: cfg.MatchTimeout,
		now:          time.Now,
	}
}

// Options parameterise one run.
type Options struct {
	DaysAhead   int
	ForceUpdate bool
	RunType     models.RunType
	// AlgorithmVersionID pins the run to a specific version; empty means
	// the active one.
	AlgorithmVersionID string
}

type matchResult int

const (
	resultSkipped matchResult = iota
	resultNew
	resultUpdated
)

// GenerateDailyPredictions processes every match with kickoff inside the
// window. The algorithm version is snapshotted once so all matches in the
// run see a consistent weight vector. A single bad match never aborts the
// run; its error lands in the run record instead.
func (o *Orchestrator) GenerateDailyPredictions(ctx context.Context, opts Options) (*models.PredictionRun, error) {
	started := o.now()

	version, err := o.resolveVersion(ctx, opts.AlgorithmVersionID)
	if err != nil {
		return nil, err
	}

	from := started
	to := started.Add(time.Duration(opts.DaysAhead) * 24 * time.Hour)
	matches, err := o.store.ListMatchesBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list matches in window: %w", err)
	}

	run := &models.PredictionRun{
		ID:                 uuid.NewString(),
		Type:               opts.RunType,
		DaysAhead:          opts.DaysAhead,
		ForceUpdate:        opts.ForceUpdate,
		AlgorithmVersionID: version.ID,
		StartedAt:          started,
	}

	source := models.SourceCron
	if opts.RunType == models.RunManual {
		source = models.SourceManual
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)

	for i := range matches {
		match := matches[i]
		g.Go(func() error {
			result, err := o.processMatch(gctx, match, version, opts.ForceUpdate, source)

			mu.Lock()
			defer mu.Unlock()
			run.TotalProcessed++
			switch {
			case err != nil:
				run.FailedPredictions++
				run.Errors = append(run.Errors, fmt.Sprintf("match %s: %v", match.ID, err))
			case result == resultNew:
				run.NewPredictions++
			case result == resultUpdated:
				run.UpdatedPredictions++
			}
			return nil
		})
	}
	_ = g.Wait()

	run.DurationMs = o.now().Sub(started).Milliseconds()

	if err := o.store.InsertRun(ctx, run); err != nil {
		// Counts are still reported to the caller; only the record is lost.
		o.logger.Error().Err(err).Str("run_id", run.ID).Msg("prediction run not persisted")
		o.audit.LogError(ctx, "storage", "run_insert_failed", err.Error(), map[string]string{"run_id": run.ID})
	}

	o.logger.Info().
		Str("run_id", run.ID).
		Int("total", run.TotalProcessed).
		Int("new", run.NewPredictions).
		Int("updated", run.UpdatedPredictions).
		Int("failed", run.FailedPredictions).
		Msg("prediction run finished")
	return run, nil
}

func (o *Orchestrator) resolveVersion(ctx context.Context, versionID string) (*models.AlgorithmVersion, error) {
	if versionID != "" {
		v, err := o.store.GetVersion(ctx, versionID)
		if err != nil {
			return nil, fmt.Errorf("resolve algorithm version %s: %w", versionID, err)
		}
		return v, nil
	}
	v, err := o.store.ActiveVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active algorithm version: %w", err)
	}
	return v, nil
}

// processMatch applies the create/refresh/skip policy for one match. Each
// match gets its own timeout so one slow external call cannot stall the run.
func (o *Orchestrator) processMatch(ctx context.Context, match models.Match, version *models.AlgorithmVersion, force bool, source models.RequestSource) (matchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.matchTimeout)
	defer cancel()

	existing, err := o.store.GetPredictionByMatch(ctx, match.ID)
	if err != nil {
		return resultSkipped, fmt.Errorf("load existing prediction: %w", err)
	}

	asOf := o.now()
	homeEvents, err := o.news.EventsForTeam(ctx, match.HomeTeamID, asOf)
	if err != nil {
		return resultSkipped, err
	}
	awayEvents, err := o.news.EventsForTeam(ctx, match.AwayTeamID, asOf)
	if err != nil {
		return resultSkipped, err
	}
	events := append(homeEvents, awayEvents...)

	if existing != nil && !force && !o.needsRefresh(existing, version, events) {
		return resultSkipped, nil
	}

	home, err := o.store.GetTeam(ctx, match.HomeTeamID)
	if err != nil {
		return resultSkipped, fmt.Errorf("load home team %s: %w", match.HomeTeamID, err)
	}
	away, err := o.store.GetTeam(ctx, match.AwayTeamID)
	if err != nil {
		return resultSkipped, fmt.Errorf("load away team %s: %w", match.AwayTeamID, err)
	}

	engineStart := time.Now()
	prediction, inter, err := engine.Predict(home, away, engine.MatchContext{
		MatchID: match.ID,
		League:  match.League,
		Kickoff: match.Kickoff,
	}, version, events)
	if err != nil {
		return resultSkipped, fmt.Errorf("predict: %w", err)
	}

	now := o.now()
	if existing != nil {
		prediction.ID = existing.ID
		prediction.CreatedAt = existing.CreatedAt
	} else {
		prediction.ID = uuid.NewString()
		prediction.CreatedAt = now
	}
	prediction.UpdatedAt = now

	if err := o.store.UpsertPrediction(ctx, prediction); err != nil {
		return resultSkipped, fmt.Errorf("store prediction: %w", err)
	}

	o.audit.LogCalculation(ctx, audit.Entry{
		MatchID: match.ID,
		Input: models.CalculationInput{
			HomeTeam:   *home,
			AwayTeam:   *away,
			League:     match.League,
			Kickoff:    match.Kickoff,
			NewsEvents: events,
		},
		Prediction:         *prediction,
		Intermediate:       *inter,
		AlgorithmVersionID: version.ID,
		Duration:           time.Since(engineStart),
		Source:             source,
	})

	if existing != nil {
		return resultUpdated, nil
	}
	return resultNew, nil
}

// needsRefresh decides whether a stored prediction is still trustworthy.
func (o *Orchestrator) needsRefresh(existing *models.Prediction, version *models.AlgorithmVersion, events []models.NewsEvent) bool {
	if existing.AlgorithmVersionID != version.ID {
		return true
	}
	if o.now().Sub(existing.UpdatedAt) > o.staleness {
		return true
	}
	return news.ChangedSince(events, existing.UpdatedAt)
}

// QuickPredict runs the engine for an ad-hoc pairing without touching the
// stored prediction for any real fixture. The calculation is still audited,
// under a synthetic match id.
func (o *Orchestrator) QuickPredict(ctx context.Context, homeTeamID, awayTeamID string, source models.RequestSource) (*models.Prediction, string, error) {
	version, err := o.store.ActiveVersion(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("resolve active algorithm version: %w", err)
	}

	home, err := o.store.GetTeam(ctx, homeTeamID)
	if err != nil {
		return nil, "", fmt.Errorf("load home team %s: %w", homeTeamID, err)
	}
	away, err := o.store.GetTeam(ctx, awayTeamID)
	if err != nil {
		return nil, "", fmt.Errorf("load away team %s: %w", awayTeamID, err)
	}

	asOf := o.now()
	homeEvents, err := o.news.EventsForTeam(ctx, homeTeamID, asOf)
	if err != nil {
		return nil, "", err
	}
	awayEvents, err := o.news.EventsForTeam(ctx, awayTeamID, asOf)
	if err != nil {
		return nil, "", err
	}
	events := append(homeEvents, awayEvents...)

	matchID := "adhoc-" + uuid.NewString()
	engineStart := time.Now()
	prediction, inter, err := engine.Predict(home, away, engine.MatchContext{
		MatchID: matchID,
		League:  home.League,
		Kickoff: asOf,
	}, version, events)
	if err != nil {
		return nil, "", fmt.Errorf("predict: %w", err)
	}
	prediction.ID = uuid.NewString()
	prediction.CreatedAt = asOf
	prediction.UpdatedAt = asOf

	calcID := o.audit.LogCalculation(ctx, audit.Entry{
		MatchID: matchID,
		Input: models.CalculationInput{
			HomeTeam:   *home,
			AwayTeam:   *away,
			League:     home.League,
			Kickoff:    asOf,
			NewsEvents: events,
		},
		Prediction:         *prediction,
		Intermediate:       *inter,
		AlgorithmVersionID: version.ID,
		Duration:           time.Since(engineStart),
		Source:             source,
	})

	return prediction, calcID, nil
}
