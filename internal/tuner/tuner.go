package tuner

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/matchpulse/predictor/models"
)

const (
	// Maximum relative weight change per tuning cycle. Bounding the step
	// keeps one noisy week of results from swinging the model.
	tuningStep = 0.10

	// Reported factor analysis is capped for callers.
	maxFactorReport = 5

	// Ceiling on the advertised improvement; the estimate stays
	// deliberately conservative.
	maxExpectedImprovement = 5.0
)

// Per-factor weight bounds. The tuner can only move weights inside these.
var weightBounds = map[string][2]float64{
	models.FactorQualityGap:    {0.10, 2.00},
	models.FactorFormGap:       {0.05, 1.50},
	models.FactorHomeAdvantage: {0.00, 15.0},
	models.FactorNewsImpact:    {0.10, 3.00},
}

// Store is the persistence surface the tuner needs.
type Store interface {
	models.CalculationStore
	models.VersionStore
}

// Tuner mines evaluated calculations and publishes adjusted weight vectors.
type Tuner struct {
	store     Store
	logger    zerolog.Logger
	group     singleflight.Group
	minSample int
	now       func() time.Time
}

// New creates a tuner. minSample is the smallest evaluation sample it will
// tune from; below that it declines and reports no change.
func New(store Store, minSample int) *Tuner {
	if minSample < 1 {
		minSample = 20
	}
	return &Tuner{
		store:     store,
		logger:    log.With().Str("component", "tuner").Logger(),
		minSample: minSample,
		now:       time.Now,
	}
}

// AutoTune runs one tuning cycle over the evaluation window. Cycles are
// single-flight: a second invocation while one is in progress joins the
// running cycle instead of racing it to publish.
func (t *Tuner) AutoTune(ctx context.Context, window time.Duration) (*models.TuningReport, error) {
	v, err, _ := t.group.Do("autotune", func() (interface{}, error) {
		return t.run(ctx, window)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.TuningReport), nil
}

type factorStats struct {
	hits   int
	misses int
}

func (t *Tuner) run(ctx context.Context, window time.Duration) (*models.TuningReport, error) {
	active, err := t.store.ActiveVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve active algorithm version: %w", err)
	}

	since := t.now().Add(-window)
	calcs, err := t.store.ListEvaluatedCalculations(ctx, active.ID, since)
	if err != nil {
		return nil, fmt.Errorf("list evaluated calculations: %w", err)
	}

	report := &models.TuningReport{SampleSize: len(calcs)}

	correct := 0
	stats := map[string]*factorStats{}
	for i := range calcs {
		calc := &calcs[i]
		wasCorrect := calc.ResultType != models.ResultIncorrect
		if wasCorrect {
			correct++
		}
		for _, code := range factorCodes(calc) {
			s, ok := stats[code]
			if !ok {
				s = &factorStats{}
				stats[code] = s
			}
			if wasCorrect {
				s.hits++
			} else {
				s.misses++
			}
		}
	}
	if len(calcs) > 0 {
		report.OldAccuracy = float64(correct) / float64(len(calcs))
	}
	report.FactorAnalysis = factorAnalysis(stats)

	if len(calcs) < t.minSample {
		// Too little signal to tune from; publishing would be noise.
		report.Improvements = []string{fmt.Sprintf(
			"insufficient evaluation sample (%d of %d required); weights unchanged",
			len(calcs), t.minSample)}
		t.logger.Info().Int("sample", len(calcs)).Msg("tuning declined, sample too small")
		return report, nil
	}

	newWeights, improvements := adjustWeights(active.Weights, report.FactorAnalysis)
	report.Improvements = improvements
	report.ExpectedImprovement = expectedImprovement(report.FactorAnalysis, len(improvements))

	// Even a no-change cycle publishes a fresh version for traceability.
	parentID := active.ID
	newVersion := &models.AlgorithmVersion{
		ID:                  uuid.NewString(),
		Label:               fmt.Sprintf("auto-tuned %s", t.now().Format("2006-01-02")),
		Weights:             newWeights,
		ParentID:            &parentID,
		ExpectedImprovement: report.ExpectedImprovement,
		CreatedAt:           t.now(),
	}
	if err := t.store.PublishVersion(ctx, newVersion); err != nil {
		return nil, fmt.Errorf("publish algorithm version: %w", err)
	}
	report.NewVersion = newVersion

	t.logger.Info().
		Int("version", newVersion.Number).
		Float64("old_accuracy", report.OldAccuracy).
		Float64("expected_improvement", report.ExpectedImprovement).
		Msg("published tuned algorithm version")
	return report, nil
}

// factorCodes returns the distinct factor codes present on a calculation.
func factorCodes(calc *models.Calculation) []string {
	seen := map[string]bool{}
	var codes []string
	for _, f := range calc.Output.Factors {
		if !seen[f.Code] {
			seen[f.Code] = true
			codes = append(codes, f.Code)
		}
	}
	return codes
}

// factorAnalysis turns hit/miss counts into ranked correlations.
func factorAnalysis(stats map[string]*factorStats) []models.FactorCorrelation {
	out := make([]models.FactorCorrelation, 0, len(stats))
	for code, s := range stats {
		n := s.hits + s.misses
		if n == 0 {
			continue
		}
		out = append(out, models.FactorCorrelation{
			Factor:      code,
			Correlation: float64(s.hits-s.misses) / float64(n),
			Samples:     n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Correlation > out[j].Correlation
	})
	if len(out) > maxFactorReport {
		out = out[:maxFactorReport]
	}
	return out
}

// adjustWeights nudges each factor's weight along its correlation, bounded
// per cycle and clamped to the factor's allowed range.
func adjustWeights(weights models.ModelWeights, analysis []models.FactorCorrelation) (models.ModelWeights, []string) {
	var improvements []string
	for _, fc := range analysis {
		old := weightFor(&weights, fc.Factor)
		if old == nil {
			continue
		}
		bounds := weightBounds[fc.Factor]
		oldValue := *old
		newValue := clamp(oldValue*(1.0+tuningStep*fc.Correlation), bounds[0], bounds[1])
		if math.Abs(newValue-oldValue) < 1e-9 {
			continue
		}
		*old = newValue
		improvements = append(improvements, fmt.Sprintf(
			"%s weight %.3f -> %.3f (%+.1f%%)",
			fc.Factor, oldValue, newValue, (newValue/oldValue-1.0)*100.0))
	}
	return weights, improvements
}

// weightFor maps a factor code onto its named weight field; unknown codes
// are never adjusted.
func weightFor(w *models.ModelWeights, code string) *float64 {
	switch code {
	case models.FactorQualityGap:
		return &w.Quality
	case models.FactorFormGap:
		return &w.Form
	case models.FactorHomeAdvantage:
		return &w.HomeAdvantage
	case models.FactorNewsImpact:
		return &w.NewsImpact
	default:
		return nil
	}
}

// expectedImprovement is a conservative extrapolation from positive factor
// correlations. It is never negative; a cycle with nothing to change
// advertises zero.
func expectedImprovement(analysis []models.FactorCorrelation, changed int) float64 {
	if changed == 0 {
		return 0
	}
	var positive float64
	for _, fc := range analysis {
		if fc.Correlation > 0 {
			positive += fc.Correlation
		}
	}
	return math.Min(maxExpectedImprovement, positive*2.5)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
