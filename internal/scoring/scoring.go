package scoring

import (
	"math"

	"github.com/matchpulse/predictor/models"
)

// Both scores live on a 0-100 scale with 50 as the neutral midpoint.
const neutralScore = 50.0

// TeamQuality derives a quality score from aggregate season stats: win rate,
// goal difference per match and clean-sheet rate, each capped to its band.
// Teams with no recorded matches sit at the neutral midpoint.
func TeamQuality(stats models.TeamStats) float64 {
	played := stats.Played()
	if played == 0 {
		return neutralScore
	}

	winRate := float64(stats.Wins) / float64(played)
	goalDiffPerMatch := float64(stats.GoalsScored-stats.GoalsConceded) / float64(played)
	cleanSheetRate := float64(stats.CleanSheets) / float64(played)

	// Goal difference of +/-2 per match saturates its band.
	goalDiffNorm := clamp01((goalDiffPerMatch + 2.0) / 4.0)

	score := winRate*50.0 + goalDiffNorm*30.0 + cleanSheetRate*20.0
	return clamp(score, 0, 100)
}

// FormScore is a recency-weighted read of the form sequence, most recent
// result last and weighted highest. An empty sequence is neutral, never an
// error.
func FormScore(form []models.FormResult) float64 {
	if len(form) == 0 {
		return neutralScore
	}

	var weighted, totalWeight float64
	for i, result := range form {
		weight := float64(i + 1) // oldest 1, newest len(form)
		weighted += resultValue(result) * weight
		totalWeight += weight
	}

	return clamp(weighted/totalWeight*100.0, 0, 100)
}

func resultValue(r models.FormResult) float64 {
	switch r {
	case models.FormWin:
		return 1.0
	case models.FormDraw:
		return 0.5
	default:
		return 0.0
	}
}

// AverageGoalsScored returns goals scored per match, falling back to a
// league-typical figure when no matches are recorded.
func AverageGoalsScored(stats models.TeamStats) float64 {
	played := stats.Played()
	if played == 0 {
		return 1.3
	}
	return float64(stats.GoalsScored) / float64(played)
}

// AverageGoalsConceded returns goals conceded per match with the same
// fallback as AverageGoalsScored.
func AverageGoalsConceded(stats models.TeamStats) float64 {
	played := stats.Played()
	if played == 0 {
		return 1.3
	}
	return float64(stats.GoalsConceded) / float64(played)
}

func clamp01(v float64) float64 {
	return clamp(v, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
