package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/matchpulse/predictor/internal/audit"
	"github.com/matchpulse/predictor/internal/news"
	"github.com/matchpulse/predictor/models"
)

// fakeStore implements batch.Store, audit.Store and models.NewsStore so one
// fixture backs the whole pipeline under test.
type fakeStore struct {
	mu sync.Mutex

	teams       map[string]*models.Team
	matches     []models.Match
	predictions map[string]*models.Prediction // by match id
	calcs       map[string]*models.Calculation
	runs        []*models.PredictionRun
	events      map[string][]models.NewsEvent // by team id
	errRecords  []*models.ErrorRecord
	active      *models.AlgorithmVersion
	versions    map[string]*models.AlgorithmVersion
}

func newFakeStore() *fakeStore {
	active := &models.AlgorithmVersion{
		ID: "v1", Number: 1, Label: "v1.0",
		Weights: models.DefaultWeights(), State: models.VersionActive,
	}
	return &fakeStore{
		teams:       map[string]*models.Team{},
		predictions: map[string]*models.Prediction{},
		calcs:       map[string]*models.Calculation{},
		events:      map[string][]models.NewsEvent{},
		active:      active,
		versions:    map[string]*models.AlgorithmVersion{"v1": active},
	}
}

func (f *fakeStore) GetTeam(_ context.Context, id string) (*models.Team, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.teams[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return t, nil
}

func (f *fakeStore) GetMatch(_ context.Context, id string) (*models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.matches {
		if f.matches[i].ID == id {
			return &f.matches[i], nil
		}
	}
	return nil, models.ErrNotFound
}

func (f *fakeStore) ListMatchesBetween(_ context.Context, from, to time.Time) ([]models.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Match
	for _, m := range f.matches {
		if !m.Kickoff.Before(from) && m.Kickoff.Before(to) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) GetPredictionByMatch(_ context.Context, matchID string) (*models.Prediction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.predictions[matchID]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (f *fakeStore) UpsertPrediction(_ context.Context, p *models.Prediction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.predictions[p.MatchID] = &cp
	return nil
}

func (f *fakeStore) InsertCalculation(_ context.Context, c *models.Calculation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.calcs[c.ID] = &cp
	return nil
}

func (f *fakeStore) GetCalculation(_ context.Context, id string) (*models.Calculation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calcs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeStore) UpdateCalculationEvaluation(_ context.Context, c *models.Calculation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.calcs[c.ID] = &cp
	return nil
}

func (f *fakeStore) ListUnevaluatedCalculations(_ context.Context, limit int) ([]models.Calculation, error) {
	return nil, nil
}

func (f *fakeStore) ListEvaluatedCalculations(_ context.Context, versionID string, since time.Time) ([]models.Calculation, error) {
	return nil, nil
}

func (f *fakeStore) ActiveVersion(_ context.Context) (*models.AlgorithmVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		return nil, models.ErrNoActiveVersion
	}
	return f.active, nil
}

func (f *fakeStore) GetVersion(_ context.Context, id string) (*models.AlgorithmVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.versions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return v, nil
}

func (f *fakeStore) PublishVersion(_ context.Context, v *models.AlgorithmVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active.State = models.VersionSuperseded
	v.State = models.VersionActive
	f.active = v
	f.versions[v.ID] = v
	return nil
}

func (f *fakeStore) InsertRun(_ context.Context, r *models.PredictionRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeStore) ListTeamEvents(_ context.Context, teamID string, asOf time.Time) ([]models.NewsEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NewsEvent
	for _, e := range f.events[teamID] {
		if !e.DetectedAt.After(asOf) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertNewsEvents(_ context.Context, events []models.NewsEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range events {
		f.events[e.TeamID] = append(f.events[e.TeamID], e)
	}
	return nil
}

func (f *fakeStore) InsertError(_ context.Context, e *models.ErrorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errRecords = append(f.errRecords, e)
	return nil
}

func (f *fakeStore) calcCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calcs)
}

func seedTeam(f *fakeStore, id string) {
	f.teams[id] = &models.Team{
		ID: id, Name: "Team " + id, League: "premier-league",
		Stats: models.TeamStats{Wins: 8, Draws: 6, Losses: 6, GoalsScored: 28, GoalsConceded: 24, CleanSheets: 6},
		Form:  []models.FormResult{models.FormWin, models.FormDraw, models.FormLoss, models.FormWin, models.FormDraw},
	}
}

func seedMatch(f *fakeStore, id, home, away string, kickoff time.Time) {
	f.matches = append(f.matches, models.Match{
		ID: id, League: "premier-league",
		HomeTeamID: home, AwayTeamID: away,
		Kickoff: kickoff, Status: models.MatchScheduled,
	})
}

func newOrchestrator(f *fakeStore) *Orchestrator {
	return New(f, news.NewIntegrator(f), audit.New(f), Config{Workers: 2})
}

func TestGenerateDailyPredictionsNewMatches(t *testing.T) {
	f := newFakeStore()
	kickoff := time.Now().Add(24 * time.Hour)
	for i := 0; i < 3; i++ {
		home, away := string(rune('a'+2*i)), string(rune('b'+2*i))
		seedTeam(f, home)
		seedTeam(f, away)
		seedMatch(f, "m"+string(rune('0'+i)), home, away, kickoff)
	}

	run, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{
		DaysAhead: 7, RunType: models.RunDaily,
	})
	if err != nil {
		t.Fatalf("GenerateDailyPredictions() error = %v", err)
	}

	if run.TotalProcessed != 3 || run.NewPredictions != 3 || run.FailedPredictions != 0 {
		t.Errorf("run counts = %+v, want 3 processed, 3 new, 0 failed", run)
	}
	if len(f.predictions) != 3 {
		t.Errorf("stored %d predictions, want 3", len(f.predictions))
	}
	if f.calcCount() != 3 {
		t.Errorf("stored %d calculations, want 3", f.calcCount())
	}
	if len(f.runs) != 1 {
		t.Fatalf("stored %d run records, want 1", len(f.runs))
	}
	if f.runs[0].AlgorithmVersionID != "v1" {
		t.Errorf("run version = %s, want v1", f.runs[0].AlgorithmVersionID)
	}
}

func TestGenerateDailyPredictionsResilientToBadMatch(t *testing.T) {
	f := newFakeStore()
	kickoff := time.Now().Add(24 * time.Hour)
	for i := 0; i < 10; i++ {
		home := "h" + string(rune('0'+i))
		away := "a" + string(rune('0'+i))
		seedTeam(f, home)
		if i != 4 { // match #5 has a missing away team
			seedTeam(f, away)
		}
		seedMatch(f, "m"+string(rune('0'+i)), home, away, kickoff)
	}

	run, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{
		DaysAhead: 7, RunType: models.RunDaily,
	})
	if err != nil {
		t.Fatalf("GenerateDailyPredictions() error = %v", err)
	}

	if run.TotalProcessed != 10 {
		t.Errorf("total processed = %d, want 10", run.TotalProcessed)
	}
	if run.FailedPredictions != 1 {
		t.Errorf("failed = %d, want 1", run.FailedPredictions)
	}
	if run.NewPredictions != 9 {
		t.Errorf("new = %d, want 9", run.NewPredictions)
	}
	if len(run.Errors) != 1 {
		t.Fatalf("errors = %v, want exactly one entry", run.Errors)
	}
	if len(f.predictions) != 9 {
		t.Errorf("stored %d predictions, want 9", len(f.predictions))
	}
}

func TestFreshPredictionIsLeftUntouched(t *testing.T) {
	f := newFakeStore()
	seedTeam(f, "h")
	seedTeam(f, "a")
	seedMatch(f, "m1", "h", "a", time.Now().Add(24*time.Hour))

	orch := newOrchestrator(f)
	first, err := orch.GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err != nil {
		t.Fatalf("first run error = %v", err)
	}
	if first.NewPredictions != 1 {
		t.Fatalf("first run new = %d, want 1", first.NewPredictions)
	}
	calcsAfterFirst := f.calcCount()
	stored := *f.predictions["m1"]

	second, err := orch.GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if second.TotalProcessed != 1 || second.NewPredictions != 0 || second.UpdatedPredictions != 0 {
		t.Errorf("second run = %+v, want pure skip", second)
	}
	if f.calcCount() != calcsAfterFirst {
		t.Errorf("skip wrote a new calculation: %d -> %d", calcsAfterFirst, f.calcCount())
	}
	if !f.predictions["m1"].UpdatedAt.Equal(stored.UpdatedAt) {
		t.Error("skip modified the stored prediction")
	}
}

func TestStalePredictionIsRefreshed(t *testing.T) {
	f := newFakeStore()
	seedTeam(f, "h")
	seedTeam(f, "a")
	seedMatch(f, "m1", "h", "a", time.Now().Add(24*time.Hour))

	stale := time.Now().Add(-25 * time.Hour)
	f.predictions["m1"] = &models.Prediction{
		ID: "p1", MatchID: "m1", AlgorithmVersionID: "v1",
		HomeWinProbability: 34, DrawProbability: 33, AwayWinProbability: 33,
		Confidence: 51, CreatedAt: stale, UpdatedAt: stale,
	}

	run, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err != nil {
		t.Fatalf("GenerateDailyPredictions() error = %v", err)
	}
	if run.UpdatedPredictions != 1 {
		t.Errorf("updated = %d, want 1 (staleness refresh)", run.UpdatedPredictions)
	}
	if p := f.predictions["m1"]; p.ID != "p1" || !p.CreatedAt.Equal(stale) {
		t.Error("refresh must keep the prediction identity and created_at")
	}
}

func TestVersionChangeTriggersRefresh(t *testing.T) {
	f := newFakeStore()
	seedTeam(f, "h")
	seedTeam(f, "a")
	seedMatch(f, "m1", "h", "a", time.Now().Add(24*time.Hour))

	now := time.Now()
	f.predictions["m1"] = &models.Prediction{
		ID: "p1", MatchID: "m1", AlgorithmVersionID: "v0-old",
		CreatedAt: now, UpdatedAt: now,
	}

	run, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err != nil {
		t.Fatalf("GenerateDailyPredictions() error = %v", err)
	}
	if run.UpdatedPredictions != 1 {
		t.Errorf("updated = %d, want 1 (version change refresh)", run.UpdatedPredictions)
	}
	if f.predictions["m1"].AlgorithmVersionID != "v1" {
		t.Errorf("prediction version = %s, want v1", f.predictions["m1"].AlgorithmVersionID)
	}
}

func TestNewsChangeTriggersRefresh(t *testing.T) {
	f := newFakeStore()
	seedTeam(f, "h")
	seedTeam(f, "a")
	seedMatch(f, "m1", "h", "a", time.Now().Add(24*time.Hour))

	predTime := time.Now().Add(-2 * time.Hour)
	f.predictions["m1"] = &models.Prediction{
		ID: "p1", MatchID: "m1", AlgorithmVersionID: "v1",
		CreatedAt: predTime, UpdatedAt: predTime,
	}
	// Event detected after the stored prediction was produced.
	f.events["h"] = []models.NewsEvent{{
		ID: "n1", TeamID: "h", Category: models.NewsInjury,
		Severity: models.SeverityMajor, Direction: models.ImpactNegative,
		DetectedAt: time.Now().Add(-1 * time.Hour),
	}}

	run, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err != nil {
		t.Fatalf("GenerateDailyPredictions() error = %v", err)
	}
	if run.UpdatedPredictions != 1 {
		t.Errorf("updated = %d, want 1 (news change refresh)", run.UpdatedPredictions)
	}
}

func TestRunFailsToStartWithoutActiveVersion(t *testing.T) {
	f := newFakeStore()
	f.active = nil

	_, err := newOrchestrator(f).GenerateDailyPredictions(context.Background(), Options{DaysAhead: 7, RunType: models.RunDaily})
	if err == nil {
		t.Fatal("expected run-start failure without an active version")
	}
	if len(f.runs) != 0 {
		t.Error("no run record should be written when the run cannot start")
	}
}

func TestQuickPredict(t *testing.T) {
	f := newFakeStore()
	seedTeam(f, "h")
	seedTeam(f, "a")

	p, calcID, err := newOrchestrator(f).QuickPredict(context.Background(), "h", "a", models.SourceQuickPredict)
	if err != nil {
		t.Fatalf("QuickPredict() error = %v", err)
	}
	if sum := p.HomeWinProbability + p.DrawProbability + p.AwayWinProbability; sum != 100 {
		t.Errorf("probability sum = %d, want 100", sum)
	}
	calc, err := f.GetCalculation(context.Background(), calcID)
	if err != nil {
		t.Fatalf("calculation not stored: %v", err)
	}
	if calc.Source != models.SourceQuickPredict {
		t.Errorf("calculation source = %s, want quick-predict", calc.Source)
	}
	if len(f.predictions) != 0 {
		t.Error("quick predict must not store a match prediction")
	}
}
