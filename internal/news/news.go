package news

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/matchpulse/predictor/models"
)

// Integrator supplies classified news events to the prediction flow.
// Classification of raw text happens upstream; this only reads.
type Integrator struct {
	store  models.NewsStore
	logger zerolog.Logger
}

// NewIntegrator creates a news integrator backed by the given store.
func NewIntegrator(store models.NewsStore) *Integrator {
	return &Integrator{
		store:  store,
		logger: log.With().Str("component", "news_integrator").Logger(),
	}
}

// EventsForTeam returns the events visible for a team as of the given time.
func (i *Integrator) EventsForTeam(ctx context.Context, teamID string, asOf time.Time) ([]models.NewsEvent, error) {
	events, err := i.store.ListTeamEvents(ctx, teamID, asOf)
	if err != nil {
		return nil, fmt.Errorf("list news events for team %s: %w", teamID, err)
	}
	return events, nil
}

// ImpactMagnitude maps an event's severity and direction to a signed score
// nudge for the owning team. Neutral events contribute nothing.
func ImpactMagnitude(e models.NewsEvent) float64 {
	var magnitude float64
	switch e.Severity {
	case models.SeverityMajor:
		magnitude = 7.0
	case models.SeverityModerate:
		magnitude = 4.0
	case models.SeverityMinor:
		magnitude = 2.0
	default:
		magnitude = 2.0
	}

	switch e.Direction {
	case models.ImpactNegative:
		return -magnitude
	case models.ImpactPositive:
		return magnitude
	default:
		return 0
	}
}

// ChangedSince reports whether any event is newer than the given time. This
// is the refresh trigger for stored predictions: any event detected after
// the prediction was produced counts as a change.
func ChangedSince(events []models.NewsEvent, since time.Time) bool {
	for _, e := range events {
		if e.DetectedAt.After(since) {
			return true
		}
	}
	return false
}
