package scoring

import (
	"testing"

	"github.com/matchpulse/predictor/models"
)

func TestTeamQuality(t *testing.T) {
	tests := []struct {
		name  string
		stats models.TeamStats
		want  func(score float64) bool
	}{
		{
			name:  "no matches played is neutral",
			stats: models.TeamStats{},
			want:  func(s float64) bool { return s == 50.0 },
		},
		{
			name: "dominant team scores high",
			stats: models.TeamStats{
				Wins: 18, Draws: 2, Losses: 0,
				GoalsScored: 55, GoalsConceded: 10, CleanSheets: 12,
			},
			want: func(s float64) bool { return s > 80.0 },
		},
		{
			name: "struggling team scores low",
			stats: models.TeamStats{
				Wins: 1, Draws: 3, Losses: 16,
				GoalsScored: 8, GoalsConceded: 45, CleanSheets: 1,
			},
			want: func(s float64) bool { return s < 25.0 },
		},
		{
			name: "even record sits near the middle",
			stats: models.TeamStats{
				Wins: 7, Draws: 6, Losses: 7,
				GoalsScored: 25, GoalsConceded: 25, CleanSheets: 5,
			},
			want: func(s float64) bool { return s > 35.0 && s < 65.0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TeamQuality(tt.stats)
			if got < 0 || got > 100 {
				t.Fatalf("TeamQuality() = %v, out of [0,100]", got)
			}
			if !tt.want(got) {
				t.Errorf("TeamQuality() = %v, outside expected band", got)
			}
		})
	}
}

func TestFormScoreEmptyIsNeutral(t *testing.T) {
	if got := FormScore(nil); got != 50.0 {
		t.Errorf("FormScore(nil) = %v, want 50", got)
	}
	if got := FormScore([]models.FormResult{}); got != 50.0 {
		t.Errorf("FormScore(empty) = %v, want 50", got)
	}
}

func TestFormScoreRecencyBias(t *testing.T) {
	// Same multiset of results; wins at the recent end must score higher.
	recentWins := []models.FormResult{
		models.FormLoss, models.FormLoss, models.FormWin, models.FormWin, models.FormWin,
	}
	recentLosses := []models.FormResult{
		models.FormWin, models.FormWin, models.FormWin, models.FormLoss, models.FormLoss,
	}
	if FormScore(recentWins) <= FormScore(recentLosses) {
		t.Errorf("recent wins %v should outscore recent losses %v",
			FormScore(recentWins), FormScore(recentLosses))
	}
}

// Replacing any L with a W at the same position must never lower the score.
func TestFormScoreMonotonicInWins(t *testing.T) {
	base := []models.FormResult{
		models.FormLoss, models.FormDraw, models.FormLoss, models.FormWin, models.FormLoss,
	}
	baseScore := FormScore(base)

	for i, r := range base {
		if r != models.FormLoss {
			continue
		}
		upgraded := make([]models.FormResult, len(base))
		copy(upgraded, base)
		upgraded[i] = models.FormWin

		if got := FormScore(upgraded); got <= baseScore {
			t.Errorf("upgrading position %d L->W gave %v, want > %v", i, got, baseScore)
		}
	}
}

func TestFormScoreBounds(t *testing.T) {
	allWins := []models.FormResult{models.FormWin, models.FormWin, models.FormWin}
	allLosses := []models.FormResult{models.FormLoss, models.FormLoss, models.FormLoss}

	if got := FormScore(allWins); got != 100.0 {
		t.Errorf("all wins = %v, want 100", got)
	}
	if got := FormScore(allLosses); got != 0.0 {
		t.Errorf("all losses = %v, want 0", got)
	}
}

func TestAverageGoals(t *testing.T) {
	stats := models.TeamStats{Wins: 5, Draws: 3, Losses: 2, GoalsScored: 20, GoalsConceded: 10}
	if got := AverageGoalsScored(stats); got != 2.0 {
		t.Errorf("AverageGoalsScored = %v, want 2.0", got)
	}
	if got := AverageGoalsConceded(stats); got != 1.0 {
		t.Errorf("AverageGoalsConceded = %v, want 1.0", got)
	}
	if got := AverageGoalsScored(models.TeamStats{}); got != 1.3 {
		t.Errorf("AverageGoalsScored(empty) = %v, want fallback 1.3", got)
	}
}
