package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matchpulse/predictor/models"
)

// Store is the persistence surface the logger needs.
type Store interface {
	models.CalculationStore
	models.MatchStore
	models.ErrorStore
}

// Logger records prediction attempts and grades them once results are in.
type Logger struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a calculation logger.
func New(store Store) *Logger {
	return &Logger{
		store:  store,
		logger: log.With().Str("component", "audit").Logger(),
		now:    time.Now,
	}
}

// Entry is the snapshot of one prediction attempt.
type Entry struct {
	MatchID            string
	Input              models.CalculationInput
	Prediction         models.Prediction
	Intermediate       models.Intermediate
	AlgorithmVersionID string
	Duration           time.Duration
	Source             models.RequestSource
}

// LogCalculation persists an immutable snapshot of a prediction attempt and
// returns the calculation id. A storage failure is downgraded to an error
// record plus a warning; it never fails the caller's prediction flow.
func (l *Logger) LogCalculation(ctx context.Context, e Entry) string {
	calc := &models.Calculation{
		ID:                 uuid.NewString(),
		MatchID:            e.MatchID,
		Input:              e.Input,
		Output:             e.Prediction,
		Intermediate:       e.Intermediate,
		AlgorithmVersionID: e.AlgorithmVersionID,
		DurationMs:         e.Duration.Milliseconds(),
		Source:             e.Source,
		CreatedAt:          l.now(),
	}

	if err := l.store.InsertCalculation(ctx, calc); err != nil {
		l.logger.Warn().Err(err).Str("match_id", e.MatchID).Msg("calculation snapshot not persisted")
		l.LogError(ctx, "storage", "calc_insert_failed", err.Error(), map[string]string{
			"match_id":       e.MatchID,
			"calculation_id": calc.ID,
		})
	}
	return calc.ID
}

// EvaluateCalculation grades a calculation against the actual scoreline.
// Re-evaluating an already-graded calculation is a no-op, not an error,
// since batch sweeps can observe the same row more than once.
func (l *Logger) EvaluateCalculation(ctx context.Context, calculationID string, actualHome, actualAway int) error {
	calc, err := l.store.GetCalculation(ctx, calculationID)
	if err != nil {
		return fmt.Errorf("load calculation %s: %w", calculationID, err)
	}
	if calc.Evaluated() {
		return nil
	}

	predicted := models.MatchOutcome(calc.Output.PredictedHomeScore, calc.Output.PredictedAwayScore)
	actual := models.MatchOutcome(actualHome, actualAway)

	switch {
	case calc.Output.PredictedHomeScore == actualHome && calc.Output.PredictedAwayScore == actualAway:
		calc.ResultType = models.ResultExactScore
	case predicted == actual:
		calc.ResultType = models.ResultCorrectOutcome
	default:
		calc.ResultType = models.ResultIncorrect
	}

	correct := calc.ResultType != models.ResultIncorrect
	now := l.now()
	calc.WasCorrect = &correct
	calc.ActualHomeScore = &actualHome
	calc.ActualAwayScore = &actualAway
	calc.EvaluatedAt = &now

	if err := l.store.UpdateCalculationEvaluation(ctx, calc); err != nil {
		return fmt.Errorf("store evaluation for %s: %w", calculationID, err)
	}

	l.logger.Debug().
		Str("calculation_id", calculationID).
		Str("result_type", string(calc.ResultType)).
		Msg("calculation evaluated")
	return nil
}

// EvaluateFinishedMatches sweeps unevaluated calculations and grades every
// one whose match has finished with both scores known. Per-row failures are
// recorded and skipped.
func (l *Logger) EvaluateFinishedMatches(ctx context.Context) (int, error) {
	pending, err := l.store.ListUnevaluatedCalculations(ctx, 500)
	if err != nil {
		return 0, fmt.Errorf("list unevaluated calculations: %w", err)
	}

	evaluated := 0
	for i := range pending {
		calc := &pending[i]
		match, err := l.store.GetMatch(ctx, calc.MatchID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue // ad-hoc calculation with a synthetic match id
			}
			l.LogError(ctx, "storage", "match_lookup_failed", err.Error(), map[string]string{
				"calculation_id": calc.ID,
				"match_id":       calc.MatchID,
			})
			continue
		}
		if match.Status != models.MatchFinished || match.HomeScore == nil || match.AwayScore == nil {
			continue
		}
		if err := l.EvaluateCalculation(ctx, calc.ID, *match.HomeScore, *match.AwayScore); err != nil {
			l.LogError(ctx, "evaluation", "evaluate_failed", err.Error(), map[string]string{
				"calculation_id": calc.ID,
			})
			continue
		}
		evaluated++
	}
	return evaluated, nil
}

// LogError appends a diagnostic record. It never returns an error; a failed
// write only produces a log line.
func (l *Logger) LogError(ctx context.Context, kind, code, message string, context map[string]string) {
	rec := &models.ErrorRecord{
		ID:        uuid.NewString(),
		Kind:      kind,
		Code:      code,
		Message:   message,
		Context:   context,
		CreatedAt: l.now(),
	}
	if err := l.store.InsertError(ctx, rec); err != nil {
		l.logger.Error().Err(err).Str("code", code).Msg("error record not persisted")
	}
}
