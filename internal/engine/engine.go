package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/matchpulse/predictor/internal/news"
	"github.com/matchpulse/predictor/internal/scoring"
	"github.com/matchpulse/predictor/models"
)

// Model constants. The draw share peaks at drawFloor+drawPeak when the
// adjusted differential is zero, which makes the draw the largest of the
// three probabilities by construction for even matchups.
const (
	drawFloor = 10.0
	drawPeak  = 30.0
	drawSigma = 50.0
	logisticK = 25.0

	// Accumulated news adjustments per team are clamped to this magnitude.
	newsAdjustmentCap = 12.0

	// Gaps below this don't earn an explanatory factor.
	gapMateriality = 8.0

	// Differential points per unit of score tilt on expected goals.
	scoreTiltScale = 250.0
)

var (
	ErrMissingTeam    = errors.New("engine: home and away teams are required")
	ErrMissingVersion = errors.New("engine: algorithm version is required")
)

// MatchContext carries the non-team inputs of a prediction.
type MatchContext struct {
	MatchID string
	League  string
	Kickoff time.Time
}

// Predict computes outcome probabilities, a predicted score, a confidence
// value and ranked explanatory factors for one matchup. It is a pure
// function of its arguments: news events arrive as an explicit list and the
// weight vector is snapshotted in the supplied version.
func Predict(home, away *models.Team, mc MatchContext, version *models.AlgorithmVersion, events []models.NewsEvent) (*models.Prediction, *models.Intermediate, error) {
	if home == nil || away == nil {
		return nil, nil, ErrMissingTeam
	}
	if version == nil {
		return nil, nil, ErrMissingVersion
	}
	w := version.Weights

	inter := &models.Intermediate{
		HomeQuality: scoring.TeamQuality(home.Stats),
		AwayQuality: scoring.TeamQuality(away.Stats),
		HomeForm:    scoring.FormScore(home.Form),
		AwayForm:    scoring.FormScore(away.Form),
	}
	inter.QualityGap = inter.HomeQuality - inter.AwayQuality
	inter.FormGap = inter.HomeForm - inter.AwayForm
	inter.HomeNewsAdjustment, inter.AwayNewsAdjustment = newsAdjustments(home.ID, away.ID, events)

	// Raw home-advantage differential: positive favours the home side.
	diff := w.Quality*inter.QualityGap +
		w.Form*inter.FormGap +
		w.HomeAdvantage +
		w.NewsImpact*(inter.HomeNewsAdjustment-inter.AwayNewsAdjustment)
	inter.RawDifferential = diff

	homeProb, drawProb, awayProb := probabilities(diff)

	predHome, predAway := predictedScore(home.Stats, away.Stats, diff)

	p := &models.Prediction{
		MatchID:            mc.MatchID,
		HomeWinProbability: homeProb,
		DrawProbability:    drawProb,
		AwayWinProbability: awayProb,
		PredictedHomeScore: predHome,
		PredictedAwayScore: predAway,
		Confidence:         confidence(homeProb, drawProb, awayProb),
		Factors:            buildFactors(home, away, w, inter, events),
		AlgorithmVersionID: version.ID,
	}
	return p, inter, nil
}

// newsAdjustments accumulates signed impacts per side, clamped so a pile of
// minor stories cannot outweigh the rest of the model.
func newsAdjustments(homeID, awayID string, events []models.NewsEvent) (float64, float64) {
	var homeAdj, awayAdj float64
	for _, e := range events {
		switch e.TeamID {
		case homeID:
			homeAdj += news.ImpactMagnitude(e)
		case awayID:
			awayAdj += news.ImpactMagnitude(e)
		}
	}
	return clamp(homeAdj, -newsAdjustmentCap, newsAdjustmentCap),
		clamp(awayAdj, -newsAdjustmentCap, newsAdjustmentCap)
}

// probabilities squashes the differential into three integer percentages
// summing to exactly 100. The draw share is a Gaussian bump centred at zero
// differential; the remainder splits between home and away by a logistic.
func probabilities(diff float64) (home, draw, away int) {
	drawF := drawFloor + drawPeak*math.Exp(-(diff/drawSigma)*(diff/drawSigma))
	homeShare := 1.0 / (1.0 + math.Exp(-diff/logisticK))
	homeF := (100.0 - drawF) * homeShare
	awayF := 100.0 - drawF - homeF

	floats := []float64{homeF, drawF, awayF}
	ints := make([]int, 3)
	sum := 0
	for i, f := range floats {
		ints[i] = int(math.Round(f))
		sum += ints[i]
	}

	// Rounding residual goes to the largest share to preserve the invariant.
	if residual := 100 - sum; residual != 0 {
		largest := 0
		for i := 1; i < 3; i++ {
			if floats[i] > floats[largest] {
				largest = i
			}
		}
		ints[largest] += residual
	}
	return ints[0], ints[1], ints[2]
}

// predictedScore blends each side's scoring and conceding averages, tilted
// by the differential, rounded to non-negative integers.
func predictedScore(home, away models.TeamStats, diff float64) (int, int) {
	tilt := clamp(diff, -125, 125) / scoreTiltScale

	expHome := (scoring.AverageGoalsScored(home) + scoring.AverageGoalsConceded(away)) / 2.0 * (1.0 + tilt)
	expAway := (scoring.AverageGoalsScored(away) + scoring.AverageGoalsConceded(home)) / 2.0 * (1.0 - tilt)

	return int(math.Max(0, math.Round(expHome))), int(math.Max(0, math.Round(expAway)))
}

// confidence grows with the spread between the top probability and the
// runner-up, bounded to [50,100] since a three-way outcome always carries
// residual uncertainty.
func confidence(home, draw, away int) int {
	probs := []int{home, draw, away}
	sort.Sort(sort.Reverse(sort.IntSlice(probs)))
	conf := 50 + (probs[0] - probs[1])
	if conf > 100 {
		conf = 100
	}
	return conf
}

func buildFactors(home, away *models.Team, w models.ModelWeights, inter *models.Intermediate, events []models.NewsEvent) []models.Factor {
	var factors []models.Factor

	if math.Abs(inter.QualityGap) >= gapMateriality {
		factors = append(factors, gapFactor(
			models.FactorQualityGap,
			fmt.Sprintf("%s hold the stronger overall squad quality (%.0f vs %.0f)",
				favoured(home, away, inter.QualityGap), inter.HomeQuality, inter.AwayQuality),
			w.Quality*inter.QualityGap,
		))
	}

	if math.Abs(inter.FormGap) >= gapMateriality {
		factors = append(factors, gapFactor(
			models.FactorFormGap,
			fmt.Sprintf("%s arrive in better recent form (%.0f vs %.0f)",
				favoured(home, away, inter.FormGap), inter.HomeForm, inter.AwayForm),
			w.Form*inter.FormGap,
		))
	}

	factors = append(factors, models.Factor{
		Code:        models.FactorHomeAdvantage,
		Description: fmt.Sprintf("Home-field advantage for %s", home.Name),
		Impact:      models.ImpactPositive,
		Magnitude:   w.HomeAdvantage,
	})

	for _, e := range events {
		impact := news.ImpactMagnitude(e)
		if impact == 0 {
			continue
		}
		// Contribution relative to the home side.
		contribution := impact
		team := home
		if e.TeamID == away.ID {
			contribution = -impact
			team = away
		} else if e.TeamID != home.ID {
			continue
		}
		factors = append(factors, models.Factor{
			Code:        models.FactorNewsImpact,
			Description: fmt.Sprintf("%s news for %s: %s", e.Category, team.Name, eventSummary(e)),
			Impact:      impactTag(contribution),
			Magnitude:   math.Abs(w.NewsImpact * contribution),
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Magnitude > factors[j].Magnitude
	})
	return factors
}

func gapFactor(code, description string, signedMagnitude float64) models.Factor {
	return models.Factor{
		Code:        code,
		Description: description,
		Impact:      impactTag(signedMagnitude),
		Magnitude:   math.Abs(signedMagnitude),
	}
}

func favoured(home, away *models.Team, gap float64) string {
	if gap >= 0 {
		return home.Name
	}
	return away.Name
}

func eventSummary(e models.NewsEvent) string {
	if e.Headline != "" {
		return e.Headline
	}
	return fmt.Sprintf("%s %s report", e.Severity, e.Category)
}

func impactTag(contribution float64) models.Impact {
	switch {
	case contribution > 0:
		return models.ImpactPositive
	case contribution < 0:
		return models.ImpactNegative
	default:
		return models.ImpactNeutral
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
