package models

import (
	"context"
	"time"
)

// Storage interfaces are kept narrow so components depend only on what they
// use; the Postgres adapter in internal/database implements all of them.

type TeamStore interface {
	GetTeam(ctx context.Context, id string) (*Team, error)
}

type MatchStore interface {
	GetMatch(ctx context.Context, id string) (*Match, error)
	// ListMatchesBetween returns matches with kickoff in [from, to).
	ListMatchesBetween(ctx context.Context, from, to time.Time) ([]Match, error)
}

type PredictionStore interface {
	// GetPredictionByMatch returns nil without error when no prediction exists.
	GetPredictionByMatch(ctx context.Context, matchID string) (*Prediction, error)
	UpsertPrediction(ctx context.Context, p *Prediction) error
}

type CalculationStore interface {
	InsertCalculation(ctx context.Context, c *Calculation) error
	GetCalculation(ctx context.Context, id string) (*Calculation, error)
	// UpdateCalculationEvaluation writes only the evaluation fields.
	UpdateCalculationEvaluation(ctx context.Context, c *Calculation) error
	ListUnevaluatedCalculations(ctx context.Context, limit int) ([]Calculation, error)
	ListEvaluatedCalculations(ctx context.Context, algorithmVersionID string, since time.Time) ([]Calculation, error)
}

type VersionStore interface {
	// ActiveVersion returns ErrNoActiveVersion when none is flagged active.
	ActiveVersion(ctx context.Context) (*AlgorithmVersion, error)
	GetVersion(ctx context.Context, id string) (*AlgorithmVersion, error)
	// PublishVersion atomically supersedes the current active version and
	// activates v, assigning the next version number.
	PublishVersion(ctx context.Context, v *AlgorithmVersion) error
}

type RunStore interface {
	InsertRun(ctx context.Context, r *PredictionRun) error
}

type NewsStore interface {
	// ListTeamEvents returns events for the team detected at or before asOf.
	ListTeamEvents(ctx context.Context, teamID string, asOf time.Time) ([]NewsEvent, error)
	InsertNewsEvents(ctx context.Context, events []NewsEvent) error
}

type ErrorStore interface {
	InsertError(ctx context.Context, e *ErrorRecord) error
}

// Storage is the full persistence surface.
type Storage interface {
	TeamStore
	MatchStore
	PredictionStore
	CalculationStore
	VersionStore
	RunStore
	NewsStore
	ErrorStore
}
