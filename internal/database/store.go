package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/matchpulse/predictor/models"
)

// GetTeam retrieves a team by id.
func (db *DB) GetTeam(ctx context.Context, id string) (*models.Team, error) {
	var (
		team      models.Team
		statsJSON []byte
		form      string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, league, stats, form
		FROM teams
		WHERE id = $1
	`, id).Scan(&team.ID, &team.Name, &team.League, &statsJSON, &form)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("team %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	if err := json.Unmarshal(statsJSON, &team.Stats); err != nil {
		return nil, fmt.Errorf("decode team stats: %w", err)
	}
	team.Form = parseForm(form)
	return &team, nil
}

// GetMatch retrieves a match by id.
func (db *DB) GetMatch(ctx context.Context, id string) (*models.Match, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, league, home_team_id, away_team_id, kickoff, status, home_score, away_score
		FROM matches
		WHERE id = $1
	`, id)
	match, err := scanMatch(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("match %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return match, nil
}

// ListMatchesBetween returns scheduled matches with kickoff in [from, to).
func (db *DB) ListMatchesBetween(ctx context.Context, from, to time.Time) ([]models.Match, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, league, home_team_id, away_team_id, kickoff, status, home_score, away_score
		FROM matches
		WHERE kickoff >= $1 AND kickoff < $2 AND status = $3
		ORDER BY kickoff
	`, from, to, models.MatchScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []models.Match
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *match)
	}
	return matches, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		match                models.Match
		homeScore, awayScore sql.NullInt64
	)
	err := row.Scan(&match.ID, &match.League, &match.HomeTeamID, &match.AwayTeamID,
		&match.Kickoff, &match.Status, &homeScore, &awayScore)
	if err != nil {
		return nil, err
	}
	if homeScore.Valid {
		v := int(homeScore.Int64)
		match.HomeScore = &v
	}
	if awayScore.Valid {
		v := int(awayScore.Int64)
		match.AwayScore = &v
	}
	return &match, nil
}

// GetPredictionByMatch returns nil without error when no prediction exists.
func (db *DB) GetPredictionByMatch(ctx context.Context, matchID string) (*models.Prediction, error) {
	var (
		p           models.Prediction
		factorsJSON []byte
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, match_id, home_win_probability, draw_probability, away_win_probability,
			predicted_home_score, predicted_away_score, confidence, factors,
			algorithm_version_id, created_at, updated_at
		FROM predictions
		WHERE match_id = $1
	`, matchID).Scan(&p.ID, &p.MatchID, &p.HomeWinProbability, &p.DrawProbability,
		&p.AwayWinProbability, &p.PredictedHomeScore, &p.PredictedAwayScore,
		&p.Confidence, &factorsJSON, &p.AlgorithmVersionID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(factorsJSON, &p.Factors); err != nil {
		return nil, fmt.Errorf("decode prediction factors: %w", err)
	}
	return &p, nil
}

// UpsertPrediction inserts or replaces the prediction for a match.
func (db *DB) UpsertPrediction(ctx context.Context, p *models.Prediction) error {
	factorsJSON, err := json.Marshal(p.Factors)
	if err != nil {
		return fmt.Errorf("encode prediction factors: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO predictions (
			id, match_id, home_win_probability, draw_probability, away_win_probability,
			predicted_home_score, predicted_away_score, confidence, factors,
			algorithm_version_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (match_id)
		DO UPDATE SET
			home_win_probability = EXCLUDED.home_win_probability,
			draw_probability = EXCLUDED.draw_probability,
			away_win_probability = EXCLUDED.away_win_probability,
			predicted_home_score = EXCLUDED.predicted_home_score,
			predicted_away_score = EXCLUDED.predicted_away_score,
			confidence = EXCLUDED.confidence,
			factors = EXCLUDED.factors,
			algorithm_version_id = EXCLUDED.algorithm_version_id,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.MatchID, p.HomeWinProbability, p.DrawProbability, p.AwayWinProbability,
		p.PredictedHomeScore, p.PredictedAwayScore, p.Confidence, factorsJSON,
		p.AlgorithmVersionID, p.CreatedAt, p.UpdatedAt)
	return err
}

// InsertCalculation persists a calculation snapshot.
func (db *DB) InsertCalculation(ctx context.Context, c *models.Calculation) error {
	inputJSON, err := json.Marshal(c.Input)
	if err != nil {
		return fmt.Errorf("encode calculation input: %w", err)
	}
	outputJSON, err := json.Marshal(c.Output)
	if err != nil {
		return fmt.Errorf("encode calculation output: %w", err)
	}
	interJSON, err := json.Marshal(c.Intermediate)
	if err != nil {
		return fmt.Errorf("encode calculation intermediate: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO calculations (
			id, match_id, input, output, intermediate,
			algorithm_version_id, duration_ms, source, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.MatchID, inputJSON, outputJSON, interJSON,
		c.AlgorithmVersionID, c.DurationMs, c.Source, c.CreatedAt)
	return err
}

// GetCalculation retrieves a calculation by id.
func (db *DB) GetCalculation(ctx context.Context, id string) (*models.Calculation, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, match_id, input, output, intermediate, algorithm_version_id,
			duration_ms, source, created_at, evaluated_at,
			actual_home_score, actual_away_score, was_correct, result_type
		FROM calculations
		WHERE id = $1
	`, id)
	calc, err := scanCalculation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("calculation %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return calc, nil
}

func scanCalculation(row rowScanner) (*models.Calculation, error) {
	var (
		c                      models.Calculation
		inputJSON, outputJSON  []byte
		interJSON              []byte
		evaluatedAt            sql.NullTime
		actualHome, actualAway sql.NullInt64
		wasCorrect             sql.NullBool
		resultType             sql.NullString
	)
	err := row.Scan(&c.ID, &c.MatchID, &inputJSON, &outputJSON, &interJSON,
		&c.AlgorithmVersionID, &c.DurationMs, &c.Source, &c.CreatedAt, &evaluatedAt,
		&actualHome, &actualAway, &wasCorrect, &resultType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(inputJSON, &c.Input); err != nil {
		return nil, fmt.Errorf("decode calculation input: %w", err)
	}
	if err := json.Unmarshal(outputJSON, &c.Output); err != nil {
		return nil, fmt.Errorf("decode calculation output: %w", err)
	}
	if err := json.Unmarshal(interJSON, &c.Intermediate); err != nil {
		return nil, fmt.Errorf("decode calculation intermediate: %w", err)
	}
	if evaluatedAt.Valid {
		c.EvaluatedAt = &evaluatedAt.Time
	}
	if actualHome.Valid {
		v := int(actualHome.Int64)
		c.ActualHomeScore = &v
	}
	if actualAway.Valid {
		v := int(actualAway.Int64)
		c.ActualAwayScore = &v
	}
	if wasCorrect.Valid {
		c.WasCorrect = &wasCorrect.Bool
	}
	if resultType.Valid {
		c.ResultType = models.ResultType(resultType.String)
	}
	return &c, nil
}

// UpdateCalculationEvaluation writes the evaluation fields. The guard on
// evaluated_at keeps concurrent sweeps from grading the same row twice.
func (db *DB) UpdateCalculationEvaluation(ctx context.Context, c *models.Calculation) error {
	_, err := db.ExecContext(ctx, `
		UPDATE calculations
		SET evaluated_at = $1, actual_home_score = $2, actual_away_score = $3,
			was_correct = $4, result_type = $5
		WHERE id = $6 AND evaluated_at IS NULL
	`, c.EvaluatedAt, c.ActualHomeScore, c.ActualAwayScore, c.WasCorrect, c.ResultType, c.ID)
	return err
}

// ListUnevaluatedCalculations returns ungraded calculations, oldest first.
func (db *DB) ListUnevaluatedCalculations(ctx context.Context, limit int) ([]models.Calculation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, match_id, input, output, intermediate, algorithm_version_id,
			duration_ms, source, created_at, evaluated_at,
			actual_home_score, actual_away_score, was_correct, result_type
		FROM calculations
		WHERE evaluated_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalculations(rows)
}

// ListEvaluatedCalculations returns calculations for a version graded at or
// after `since`.
func (db *DB) ListEvaluatedCalculations(ctx context.Context, algorithmVersionID string, since time.Time) ([]models.Calculation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, match_id, input, output, intermediate, algorithm_version_id,
			duration_ms, source, created_at, evaluated_at,
			actual_home_score, actual_away_score, was_correct, result_type
		FROM calculations
		WHERE algorithm_version_id = $1 AND evaluated_at >= $2
		ORDER BY evaluated_at
	`, algorithmVersionID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalculations(rows)
}

func collectCalculations(rows *sql.Rows) ([]models.Calculation, error) {
	var calcs []models.Calculation
	for rows.Next() {
		calc, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		calcs = append(calcs, *calc)
	}
	return calcs, rows.Err()
}

// ActiveVersion returns the single active algorithm version.
func (db *DB) ActiveVersion(ctx context.Context) (*models.AlgorithmVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, number, label, weights, parent_id, state, expected_improvement, created_at
		FROM algorithm_versions
		WHERE state = $1
	`, models.VersionActive)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNoActiveVersion
		}
		return nil, err
	}
	return v, nil
}

// GetVersion retrieves an algorithm version by id.
func (db *DB) GetVersion(ctx context.Context, id string) (*models.AlgorithmVersion, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, number, label, weights, parent_id, state, expected_improvement, created_at
		FROM algorithm_versions
		WHERE id = $1
	`, id)
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("algorithm version %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return v, nil
}

func scanVersion(row rowScanner) (*models.AlgorithmVersion, error) {
	var (
		v           models.AlgorithmVersion
		weightsJSON []byte
		parentID    sql.NullString
	)
	err := row.Scan(&v.ID, &v.Number, &v.Label, &weightsJSON, &parentID,
		&v.State, &v.ExpectedImprovement, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(weightsJSON, &v.Weights); err != nil {
		return nil, fmt.Errorf("decode version weights: %w", err)
	}
	if parentID.Valid {
		v.ParentID = &parentID.String
	}
	return &v, nil
}

// PublishVersion supersedes the current active version and activates v in
// one transaction, assigning the next version number. Readers never observe
// a half-published state.
func (db *DB) PublishVersion(ctx context.Context, v *models.AlgorithmVersion) error {
	weightsJSON, err := json.Marshal(v.Weights)
	if err != nil {
		return fmt.Errorf("encode version weights: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(number), 0) + 1 FROM algorithm_versions
	`).Scan(&v.Number); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `
		UPDATE algorithm_versions SET state = $1 WHERE state = $2
	`, models.VersionSuperseded, models.VersionActive); err != nil {
		return err
	}

	v.State = models.VersionActive
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO algorithm_versions (
			id, number, label, weights, parent_id, state, expected_improvement, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, v.ID, v.Number, v.Label, weightsJSON, v.ParentID, v.State,
		v.ExpectedImprovement, v.CreatedAt); err != nil {
		return err
	}

	return tx.Commit()
}

// EnsureActiveVersion publishes the default weight vector as version 1 when
// storage has no active version yet.
func (db *DB) EnsureActiveVersion(ctx context.Context) (*models.AlgorithmVersion, error) {
	v, err := db.ActiveVersion(ctx)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, models.ErrNoActiveVersion) {
		return nil, err
	}

	seed := &models.AlgorithmVersion{
		ID:        uuid.NewString(),
		Label:     "baseline",
		Weights:   models.DefaultWeights(),
		CreatedAt: time.Now(),
	}
	if err := db.PublishVersion(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed baseline version: %w", err)
	}
	db.logger.Info().Msg("seeded baseline algorithm version")
	return seed, nil
}

// InsertRun persists a prediction run record.
func (db *DB) InsertRun(ctx context.Context, r *models.PredictionRun) error {
	errorsJSON, err := json.Marshal(r.Errors)
	if err != nil {
		return fmt.Errorf("encode run errors: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO prediction_runs (
			id, run_type, days_ahead, force_update, total_processed,
			new_predictions, updated_predictions, failed_predictions,
			duration_ms, algorithm_version_id, errors, notes, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, r.ID, r.Type, r.DaysAhead, r.ForceUpdate, r.TotalProcessed,
		r.NewPredictions, r.UpdatedPredictions, r.FailedPredictions,
		r.DurationMs, r.AlgorithmVersionID, errorsJSON, r.Notes, r.StartedAt)
	return err
}

// ListTeamEvents returns a team's events detected at or before asOf.
func (db *DB) ListTeamEvents(ctx context.Context, teamID string, asOf time.Time) ([]models.NewsEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, team_id, category, severity, direction, detected_at, headline
		FROM news_events
		WHERE team_id = $1 AND detected_at <= $2
		ORDER BY detected_at
	`, teamID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.NewsEvent
	for rows.Next() {
		var e models.NewsEvent
		if err := rows.Scan(&e.ID, &e.TeamID, &e.Category, &e.Severity,
			&e.Direction, &e.DetectedAt, &e.Headline); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// InsertNewsEvents stores classified events, ignoring ids already present.
func (db *DB) InsertNewsEvents(ctx context.Context, events []models.NewsEvent) error {
	for _, e := range events {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO news_events (id, team_id, category, severity, direction, detected_at, headline)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (id) DO NOTHING
		`, e.ID, e.TeamID, e.Category, e.Severity, e.Direction, e.DetectedAt, e.Headline); err != nil {
			return err
		}
	}
	return nil
}

// InsertError appends a diagnostic record.
func (db *DB) InsertError(ctx context.Context, e *models.ErrorRecord) error {
	contextJSON, err := json.Marshal(e.Context)
	if err != nil {
		return fmt.Errorf("encode error context: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO error_log (id, kind, code, message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.Kind, e.Code, e.Message, contextJSON, e.CreatedAt)
	return err
}

// parseForm decodes a compact form string like "WDLWW", most recent last.
func parseForm(s string) []models.FormResult {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	form := make([]models.FormResult, 0, len(s))
	for _, r := range s {
		switch r {
		case 'W':
			form = append(form, models.FormWin)
		case 'D':
			form = append(form, models.FormDraw)
		case 'L':
			form = append(form, models.FormLoss)
		}
	}
	return form
}
