package models

import (
	"time"
)

// MatchStatus is the lifecycle state of a fixture.
type MatchStatus string

const (
	MatchScheduled MatchStatus = "scheduled"
	MatchLive      MatchStatus = "live"
	MatchFinished  MatchStatus = "finished"
)

// FormResult is a single entry in a team's recent form sequence.
type FormResult string

const (
	FormWin  FormResult = "W"
	FormDraw FormResult = "D"
	FormLoss FormResult = "L"
)

// TeamStats holds a team's aggregate season statistics. The optional fields
// may be zero when the ingestion source does not supply them.
type TeamStats struct {
	Wins          int     `json:"wins"`
	Draws         int     `json:"draws"`
	Losses        int     `json:"losses"`
	GoalsScored   int     `json:"goals_scored"`
	GoalsConceded int     `json:"goals_conceded"`
	CleanSheets   int     `json:"clean_sheets"`
	Possession    float64 `json:"possession,omitempty"`
	ShotsOnTarget float64 `json:"shots_on_target,omitempty"`
	PassAccuracy  float64 `json:"pass_accuracy,omitempty"`
}

// Played returns the number of matches covered by the stats.
func (s TeamStats) Played() int {
	return s.Wins + s.Draws + s.Losses
}

// Team is read-only to the prediction core; ingestion owns mutation.
type Team struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	League string       `json:"league"`
	Stats  TeamStats    `json:"stats"`
	Form   []FormResult `json:"form"` // most recent last, bounded length
}

// Match is a fixture between two teams. Scores are nil until known.
type Match struct {
	ID         string      `json:"id"`
	League     string      `json:"league"`
	HomeTeamID string      `json:"home_team_id"`
	AwayTeamID string      `json:"away_team_id"`
	Kickoff    time.Time   `json:"kickoff"`
	Status     MatchStatus `json:"status"`
	HomeScore  *int        `json:"home_score,omitempty"`
	AwayScore  *int        `json:"away_score,omitempty"`
}

// Impact tags a factor's direction relative to the home side.
type Impact string

const (
	ImpactPositive Impact = "positive"
	ImpactNegative Impact = "negative"
	ImpactNeutral  Impact = "neutral"
)

// Factor codes, one per enumerated model signal. The tuner only ever adjusts
// weights for these codes.
const (
	FactorQualityGap    = "quality_gap"
	FactorFormGap       = "form_gap"
	FactorHomeAdvantage = "home_advantage"
	FactorNewsImpact    = "news_impact"
)

// Factor is a human-readable explanation entry on a prediction.
type Factor struct {
	Code        string  `json:"code"`
	Description string  `json:"description"`
	Impact      Impact  `json:"impact"`
	Magnitude   float64 `json:"magnitude"`
}

// Prediction is the engine output for one match. The three probabilities are
// integer percentages and always sum to exactly 100.
type Prediction struct {
	ID                 string    `json:"id"`
	MatchID            string    `json:"match_id"`
	HomeWinProbability int       `json:"home_win_probability"`
	DrawProbability    int       `json:"draw_probability"`
	AwayWinProbability int       `json:"away_win_probability"`
	PredictedHomeScore int       `json:"predicted_home_score"`
	PredictedAwayScore int       `json:"predicted_away_score"`
	Confidence         int       `json:"confidence"` // 50-100
	Factors            []Factor  `json:"factors"`
	AlgorithmVersionID string    `json:"algorithm_version_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RequestSource identifies what triggered a calculation.
type RequestSource string

const (
	SourceCron         RequestSource = "cron"
	SourceManual       RequestSource = "manual"
	SourceAPI          RequestSource = "api"
	SourceQuickPredict RequestSource = "quick-predict"
)

// Outcome is a match result direction by sign of goal difference.
type Outcome string

const (
	OutcomeHome Outcome = "home"
	OutcomeDraw Outcome = "draw"
	OutcomeAway Outcome = "away"
)

// MatchOutcome maps a scoreline to its outcome direction.
func MatchOutcome(home, away int) Outcome {
	switch {
	case home > away:
		return OutcomeHome
	case home < away:
		return OutcomeAway
	default:
		return OutcomeDraw
	}
}

// ResultType classifies a graded prediction.
type ResultType string

const (
	ResultExactScore     ResultType = "exact_score"
	ResultCorrectOutcome ResultType = "correct_outcome"
	ResultIncorrect      ResultType = "incorrect"
)

// Intermediate holds the engine's working values, persisted with every
// calculation so tuning can correlate signals with outcomes later.
type Intermediate struct {
	HomeQuality        float64 `json:"home_quality"`
	AwayQuality        float64 `json:"away_quality"`
	HomeForm           float64 `json:"home_form"`
	AwayForm           float64 `json:"away_form"`
	QualityGap         float64 `json:"quality_gap"`
	FormGap            float64 `json:"form_gap"`
	HomeNewsAdjustment float64 `json:"home_news_adjustment"`
	AwayNewsAdjustment float64 `json:"away_news_adjustment"`
	RawDifferential    float64 `json:"raw_differential"`
}

// CalculationInput snapshots everything the engine saw.
type CalculationInput struct {
	HomeTeam   Team        `json:"home_team"`
	AwayTeam   Team        `json:"away_team"`
	League     string      `json:"league"`
	Kickoff    time.Time   `json:"kickoff"`
	NewsEvents []NewsEvent `json:"news_events,omitempty"`
}

// Calculation is the immutable audit record of one prediction attempt.
// Only the evaluation fields are written after creation.
type Calculation struct {
	ID                 string           `json:"id"`
	MatchID            string           `json:"match_id"` // synthetic for ad-hoc requests
	Input              CalculationInput `json:"input"`
	Output             Prediction       `json:"output"`
	Intermediate       Intermediate     `json:"intermediate"`
	AlgorithmVersionID string           `json:"algorithm_version_id"`
	DurationMs         int64            `json:"duration_ms"`
	Source             RequestSource    `json:"source"`
	CreatedAt          time.Time        `json:"created_at"`

	EvaluatedAt     *time.Time `json:"evaluated_at,omitempty"`
	ActualHomeScore *int       `json:"actual_home_score,omitempty"`
	ActualAwayScore *int       `json:"actual_away_score,omitempty"`
	WasCorrect      *bool      `json:"was_correct,omitempty"`
	ResultType      ResultType `json:"result_type,omitempty"`
}

// Evaluated reports whether the calculation has been graded.
func (c *Calculation) Evaluated() bool {
	return c.EvaluatedAt != nil
}

// ModelWeights is the named coefficient vector consumed by the engine.
// Keeping it a struct (not a map) means tuning can only ever touch the
// enumerated factors.
type ModelWeights struct {
	Quality       float64 `json:"quality"`
	Form          float64 `json:"form"`
	HomeAdvantage float64 `json:"home_advantage"`
	NewsImpact    float64 `json:"news_impact"`
}

// DefaultWeights is the seed vector for version 1.
func DefaultWeights() ModelWeights {
	return ModelWeights{
		Quality:       0.50,
		Form:          0.30,
		HomeAdvantage: 6.0,
		NewsImpact:    1.0,
	}
}

// VersionState is the lifecycle state of an algorithm version.
type VersionState string

const (
	VersionActive     VersionState = "active"
	VersionSuperseded VersionState = "superseded"
)

// AlgorithmVersion is one published weight configuration. Exactly one
// version is active at any time.
type AlgorithmVersion struct {
	ID                  string       `json:"id"`
	Number              int          `json:"number"`
	Label               string       `json:"label"`
	Weights             ModelWeights `json:"weights"`
	ParentID            *string      `json:"parent_id,omitempty"`
	State               VersionState `json:"state"`
	ExpectedImprovement float64      `json:"expected_improvement"`
	CreatedAt           time.Time    `json:"created_at"`
}

// RunType identifies how a batch run was triggered.
type RunType string

const (
	RunDaily  RunType = "daily"
	RunManual RunType = "manual"
)

// PredictionRun is the append-only record of one batch invocation.
type PredictionRun struct {
	ID                 string    `json:"id"`
	Type               RunType   `json:"type"`
	DaysAhead          int       `json:"days_ahead"`
	ForceUpdate        bool      `json:"force_update"`
	TotalProcessed     int       `json:"total_processed"`
	NewPredictions     int       `json:"new_predictions"`
	UpdatedPredictions int       `json:"updated_predictions"`
	FailedPredictions  int       `json:"failed_predictions"`
	DurationMs         int64     `json:"duration_ms"`
	AlgorithmVersionID string    `json:"algorithm_version_id"`
	Errors             []string  `json:"errors,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	StartedAt          time.Time `json:"started_at"`
}

// NewsCategory classifies a news event.
type NewsCategory string

const (
	NewsInjury     NewsCategory = "injury"
	NewsSuspension NewsCategory = "suspension"
	NewsManagerial NewsCategory = "managerial"
	NewsTransfer   NewsCategory = "transfer"
	NewsOther      NewsCategory = "other"
)

// NewsSeverity grades how much an event should move the model.
type NewsSeverity string

const (
	SeverityMinor    NewsSeverity = "minor"
	SeverityModerate NewsSeverity = "moderate"
	SeverityMajor    NewsSeverity = "major"
)

// NewsEvent is an already-classified, team-scoped event. The core never
// mutates these; classification happens upstream.
type NewsEvent struct {
	ID         string       `json:"id"`
	TeamID     string       `json:"team_id"`
	Category   NewsCategory `json:"category"`
	Severity   NewsSeverity `json:"severity"`
	Direction  Impact       `json:"direction"`
	DetectedAt time.Time    `json:"detected_at"`
	Headline   string       `json:"headline,omitempty"`
}

// ErrorRecord is an append-only diagnostic entry.
type ErrorRecord struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Context   map[string]string `json:"context,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// FactorCorrelation is one row of tuning factor analysis.
type FactorCorrelation struct {
	Factor      string  `json:"factor"`
	Correlation float64 `json:"correlation"` // -1..1
	Samples     int     `json:"samples"`
}

// TuningReport is the outcome of one tuning cycle. NewVersion is nil when
// the tuner declined to publish (insufficient sample).
type TuningReport struct {
	NewVersion          *AlgorithmVersion   `json:"new_version,omitempty"`
	OldAccuracy         float64             `json:"old_accuracy"`
	ExpectedImprovement float64             `json:"expected_improvement"`
	SampleSize          int                 `json:"sample_size"`
	Improvements        []string            `json:"improvements"`
	FactorAnalysis      []FactorCorrelation `json:"factor_analysis"`
}
