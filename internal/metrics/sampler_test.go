package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

type stubSource struct {
	values map[model.Series]float64
	err    error
}

func (s *stubSource) Query(ctx context.Context, target string, series model.Series, from, to time.Time) ([]model.Sample, error) {
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.values[series]
	if !ok {
		return nil, nil
	}
	return []model.Sample{{Series: series, Timestamp: to, Value: v}}, nil
}

func samplerConfig() config.MetricsConfig {
	return config.MetricsConfig{
		Window:           time.Minute,
		FetchTimeout:     time.Second,
		DegradedAfter:    3,
		BaselineLookback: time.Hour,
	}
}

func TestSampleCollectsAllSeries(t *testing.T) {
	src := &stubSource{values: map[model.Series]float64{
		model.SeriesCPU:              42,
		model.SeriesMemory:           61,
		model.SeriesErrorCount:       2,
		model.SeriesLatencyP95:       0.4,
		model.SeriesUnhealthyTargets: 0,
	}}
	s := NewSampler(src, model.Epoch{ID: "ep", Target: "svc", StartedAt: time.Now()}, samplerConfig(), nil)
	snap := s.Sample(context.Background())
	if snap.Degraded {
		t.Fatalf("healthy backend reported degraded")
	}
	for _, series := range model.AllSeries() {
		st, ok := snap.Stats[series]
		if !ok || !st.Present {
			t.Fatalf("series %s missing from snapshot", series)
		}
	}
	if got := snap.Stats[model.SeriesCPU].Latest; got != 42 {
		t.Fatalf("cpu latest = %v, want 42", got)
	}
}

func TestMissingSeriesIsGapNotZero(t *testing.T) {
	src := &stubSource{values: map[model.Series]float64{
		model.SeriesCPU: 42,
	}}
	s := NewSampler(src, model.Epoch{ID: "ep", Target: "svc", StartedAt: time.Now()}, samplerConfig(), nil)
	snap := s.Sample(context.Background())
	st := snap.Stats[model.SeriesErrorCount]
	if st.Present {
		t.Fatalf("series without data must not be present")
	}
	if st.Gaps != 1 {
		t.Fatalf("gaps = %d, want 1", st.Gaps)
	}
	if snap.Degraded {
		t.Fatalf("partial data must not count toward degradation")
	}
}

func TestDegradedAfterConsecutiveTotalFailures(t *testing.T) {
	src := &stubSource{err: errors.New("connection refused")}
	s := NewSampler(src, model.Epoch{ID: "ep", Target: "svc", StartedAt: time.Now()}, samplerConfig(), nil)
	for i := 0; i < 2; i++ {
		if snap := s.Sample(context.Background()); snap.Degraded {
			t.Fatalf("degraded after only %d failures", i+1)
		}
	}
	if snap := s.Sample(context.Background()); !snap.Degraded {
		t.Fatalf("not degraded after 3 total failures")
	}

	// One successful cycle clears the failure streak.
	src.err = nil
	src.values = map[model.Series]float64{model.SeriesCPU: 40}
	if snap := s.Sample(context.Background()); snap.Degraded {
		t.Fatalf("still degraded after backend recovered")
	}
}

func TestCaptureBaseline(t *testing.T) {
	src := &stubSource{values: map[model.Series]float64{
		model.SeriesCPU:        35,
		model.SeriesLatencyP95: 0.25,
	}}
	s := NewSampler(src, model.Epoch{ID: "ep", Target: "svc", StartedAt: time.Now()}, samplerConfig(), nil)
	s.CaptureBaseline(context.Background())
	snap := s.Sample(context.Background())
	if snap.Baseline == nil {
		t.Fatalf("baseline not captured")
	}
	if got := snap.Baseline[model.SeriesCPU]; got != 35 {
		t.Fatalf("cpu baseline = %v, want 35", got)
	}
	if _, ok := snap.Baseline[model.SeriesErrorCount]; ok {
		t.Fatalf("series with no history must be absent from baseline")
	}
}
