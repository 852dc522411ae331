package metrics

import (
	"context"
	"log/slog"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// Sampler maintains the sliding windows for one epoch. It is not safe for
// concurrent use; each epoch's evaluation loop owns exactly one sampler and
// calls Sample strictly sequentially.
type Sampler struct {
	source   Source
	epoch    model.Epoch
	cfg      config.MetricsConfig
	logger   *slog.Logger
	windows  map[model.Series]*SeriesWindow
	baseline map[model.Series]float64
	failures int
	lastTo   time.Time
}

func NewSampler(source Source, epoch model.Epoch, cfg config.MetricsConfig, logger *slog.Logger) *Sampler {
	windows := make(map[model.Series]*SeriesWindow, len(model.AllSeries()))
	for _, series := range model.AllSeries() {
		windows[series] = NewSeriesWindow(cfg.Window)
	}
	return &Sampler{
		source:  source,
		epoch:   epoch,
		cfg:     cfg,
		logger:  logger,
		windows: windows,
		lastTo:  epoch.StartedAt,
	}
}

// CaptureBaseline records the pre-deployment level of each series so later
// assessments can reason about relative movement. Best effort: a series
// with no history is simply absent from the baseline.
func (s *Sampler) CaptureBaseline(ctx context.Context) {
	from := s.epoch.StartedAt.Add(-s.cfg.BaselineLookback)
	baseline := make(map[model.Series]float64)
	for _, series := range model.AllSeries() {
		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		samples, err := s.source.Query(fetchCtx, s.epoch.Target, series, from, s.epoch.StartedAt)
		cancel()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("baseline fetch failed", "epoch", s.epoch.ID, "series", series, "err", err)
			}
			continue
		}
		if len(samples) == 0 {
			continue
		}
		baseline[series] = samples[len(samples)-1].Value
	}
	if len(baseline) > 0 {
		s.baseline = baseline
	}
}

// Sample fetches the latest values for every configured series and returns
// the updated window snapshot. A backend error on one series is logged and
// recorded as a gap for that cycle; only a cycle where every series fails
// counts toward the degraded escalation.
func (s *Sampler) Sample(ctx context.Context) model.Snapshot {
	now := time.Now().UTC()
	from := s.lastTo
	allFailed := true
	for _, series := range model.AllSeries() {
		window := s.windows[series]
		window.Evict(now.Add(-s.cfg.Window))

		fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		samples, err := s.source.Query(fetchCtx, s.epoch.Target, series, from, now)
		cancel()
		if err != nil {
			if s.logger != nil {
				s.logger.Warn("metrics fetch failed", "epoch", s.epoch.ID, "series", series, "err", err)
			}
			window.MarkGap()
			continue
		}
		allFailed = false
		if len(samples) == 0 {
			window.MarkGap()
			continue
		}
		for _, sample := range samples {
			window.Add(sample)
		}
	}
	s.lastTo = now

	if allFailed {
		s.failures++
	} else {
		s.failures = 0
	}
	degraded := s.failures >= s.cfg.DegradedAfter
	if degraded && s.logger != nil {
		s.logger.Warn("metrics backend degraded", "epoch", s.epoch.ID, "consecutive_failures", s.failures)
	}

	stats := make(map[model.Series]model.SeriesStats, len(s.windows))
	for series, window := range s.windows {
		stats[series] = window.Stats()
	}
	return model.Snapshot{
		EpochID:  s.epoch.ID,
		TakenAt:  now,
		Stats:    stats,
		Baseline: s.baseline,
		Degraded: degraded,
	}
}
