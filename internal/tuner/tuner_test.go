package tuner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matchpulse/predictor/models"
)

type fakeStore struct {
	mu        sync.Mutex
	calcs     []models.Calculation
	active    *models.AlgorithmVersion
	published []*models.AlgorithmVersion

	listDelay time.Duration
	listCalls int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		active: &models.AlgorithmVersion{
			ID: "v1", Number: 1, Label: "v1.0",
			Weights: models.DefaultWeights(), State: models.VersionActive,
		},
	}
}

func (f *fakeStore) InsertCalculation(_ context.Context, c *models.Calculation) error { return nil }

func (f *fakeStore) GetCalculation(_ context.Context, id string) (*models.Calculation, error) {
	return nil, models.ErrNotFound
}

func (f *fakeStore) UpdateCalculationEvaluation(_ context.Context, c *models.Calculation) error {
	return nil
}

func (f *fakeStore) ListUnevaluatedCalculations(_ context.Context, limit int) ([]models.Calculation, error) {
	return nil, nil
}

func (f *fakeStore) ListEvaluatedCalculations(_ context.Context, versionID string, since time.Time) ([]models.Calculation, error) {
	atomic.AddInt32(&f.listCalls, 1)
	if f.listDelay > 0 {
		time.Sleep(f.listDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Calculation
	for _, c := range f.calcs {
		if c.AlgorithmVersionID == versionID {
			out = append(out, c)
		}
	}
	return out, nil
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
	return nil, models.ErrNotFound
}

func (f *fakeStore) PublishVersion(_ context.Context, v *models.AlgorithmVersion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	v.Number = f.active.Number + 1
	v.State = models.VersionActive
	f.active.State = models.VersionSuperseded
	f.active = v
	f.published = append(f.published, v)
	return nil
}

// addCalc appends an evaluated calculation carrying the given factor codes.
func addCalc(f *fakeStore, correct bool, codes ...string) {
	resultType := models.ResultIncorrect
	if correct {
		resultType = models.ResultCorrectOutcome
	}
	now := time.Now()
	var factors []models.Factor
	for _, code := range codes {
		factors = append(factors, models.Factor{Code: code, Magnitude: 10, Impact: models.ImpactPositive})
	}
	f.calcs = append(f.calcs, models.Calculation{
		ID:                 "c" + string(rune('0'+len(f.calcs))),
		AlgorithmVersionID: "v1",
		Output:             models.Prediction{Factors: factors},
		ResultType:         resultType,
		WasCorrect:         &correct,
		EvaluatedAt:        &now,
	})
}

func TestAutoTuneDeclinesOnSmallSample(t *testing.T) {
	f := newFakeStore()
	for i := 0; i < 5; i++ {
		addCalc(f, true, models.FactorQualityGap)
	}

	report, err := New(f, 20).AutoTune(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("AutoTune() error = %v", err)
	}
	if report.NewVersion != nil {
		t.Error("tuner must not publish from an insufficient sample")
	}
	if len(f.published) != 0 {
		t.Errorf("published %d versions, want 0", len(f.published))
	}
	if report.SampleSize != 5 {
		t.Errorf("sample size = %d, want 5", report.SampleSize)
	}
	if len(report.Improvements) == 0 {
		t.Error("report should explain the declined cycle")
	}
}

func TestAutoTuneZeroCorrelationDoesNotIncreaseWeight(t *testing.T) {
	f := newFakeStore()
	// quality_gap fires on every calculation, half correct, half not:
	// correlation is exactly zero.
	for i := 0; i < 15; i++ {
		addCalc(f, true, models.FactorQualityGap, models.FactorHomeAdvantage)
	}
	for i := 0; i < 15; i++ {
		addCalc(f, false, models.FactorQualityGap)
	}

	oldQuality := f.active.Weights.Quality
	report, err := New(f, 20).AutoTune(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("AutoTune() error = %v", err)
	}
	if report.NewVersion == nil {
		t.Fatal("expected a published version")
	}
	if report.NewVersion.Weights.Quality > oldQuality {
		t.Errorf("zero-correlation factor weight increased: %v -> %v",
			oldQuality, report.NewVersion.Weights.Quality)
	}
}

func TestAutoTunePositiveCorrelationBoundedStep(t *testing.T) {
	f := newFakeStore()
	// form_gap correlates perfectly with correctness.
	for i := 0; i < 20; i++ {
		addCalc(f, true, models.FactorFormGap)
	}
	for i := 0; i < 10; i++ {
		addCalc(f, false, models.FactorQualityGap)
	}

	oldForm := f.active.Weights.Form
	oldQuality := f.active.Weights.Quality
	report, err := New(f, 20).AutoTune(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("AutoTune() error = %v", err)
	}
	if report.NewVersion == nil {
		t.Fatal("expected a published version")
	}

	newForm := report.NewVersion.Weights.Form
	if newForm <= oldForm {
		t.Errorf("positively correlated factor weight did not increase: %v -> %v", oldForm, newForm)
	}
	if newForm > oldForm*(1.0+tuningStep)+1e-9 {
		t.Errorf("weight step %v -> %v exceeds bound of %.0f%%", oldForm, newForm, tuningStep*100)
	}

	// quality_gap only ever fired on incorrect predictions; it must shrink.
	if report.NewVersion.Weights.Quality >= oldQuality {
		t.Errorf("negatively correlated factor weight did not decrease: %v -> %v",
			oldQuality, report.NewVersion.Weights.Quality)
	}
	if report.ExpectedImprovement < 0 {
		t.Errorf("expected improvement %v must never be negative", report.ExpectedImprovement)
	}
	if len(report.Improvements) == 0 {
		t.Error("changed weights must be listed in improvements")
	}
}

func TestAutoTunePublishesTraceableVersion(t *testing.T) {
	f := newFakeStore()
	for i := 0; i < 25; i++ {
		addCalc(f, i%2 == 0, models.FactorHomeAdvantage, models.FactorQualityGap)
	}

	report, err := New(f, 20).AutoTune(context.Background(), 7*24*time.Hour)
	if err != nil {
		t.Fatalf("AutoTune() error = %v", err)
	}
	v := report.NewVersion
	if v == nil {
		t.Fatal("expected a published version")
	}
	if v.Number != 2 {
		t.Errorf("version number = %d, want 2", v.Number)
	}
	if v.ParentID == nil || *v.ParentID != "v1" {
		t.Errorf("parent id = %v, want v1", v.ParentID)
	}
	if v.State != models.VersionActive {
		t.Errorf("new version state = %s, want active", v.State)
	}
	if f.active != v {
		t.Error("published version is not the active one")
	}
}

func TestAutoTuneSingleFlight(t *testing.T) {
	f := newFakeStore()
	f.listDelay = 100 * time.Millisecond
	for i := 0; i < 25; i++ {
		addCalc(f, true, models.FactorFormGap)
	}

	tn := New(f, 20)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tn.AutoTune(context.Background(), 7*24*time.Hour); err != nil {
				t.Errorf("AutoTune() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&f.listCalls); got != 1 {
		t.Errorf("concurrent invocations ran %d cycles, want 1 shared", got)
	}
	if len(f.published) != 1 {
		t.Errorf("published %d versions, want 1", len(f.published))
	}
}
