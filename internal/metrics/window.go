package metrics

import (
	"time"

	"deployguard/internal/model"
)

// SeriesWindow is a bounded, time-ordered buffer for one series. Oldest
// entries are evicted as the window slides; gaps are counted separately so
// an absent series never reads as zero.
type SeriesWindow struct {
	duration time.Duration
	samples  []model.Sample
	head     int
	sum      float64
	gaps     int
}

func NewSeriesWindow(duration time.Duration) *SeriesWindow {
	return &SeriesWindow{
		duration: duration,
		samples:  make([]model.Sample, 0, 64),
	}
}

func (w *SeriesWindow) Add(s model.Sample) {
	w.samples = append(w.samples, s)
	w.sum += s.Value
	w.gaps = 0
}

// MarkGap records a cycle where the backend had no data for this series.
func (w *SeriesWindow) MarkGap() {
	w.gaps++
}

func (w *SeriesWindow) Evict(cutoff time.Time) {
	for w.head < len(w.samples) {
		s := w.samples[w.head]
		if !s.Timestamp.Before(cutoff) {
			break
		}
		w.sum -= s.Value
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.samples) {
		w.samples = append([]model.Sample{}, w.samples[w.head:]...)
		w.head = 0
	}
}

func (w *SeriesWindow) Stats() model.SeriesStats {
	n := len(w.samples) - w.head
	if n <= 0 {
		return model.SeriesStats{Gaps: w.gaps, Present: false}
	}
	max := w.samples[w.head].Value
	for i := w.head + 1; i < len(w.samples); i++ {
		if w.samples[i].Value > max {
			max = w.samples[i].Value
		}
	}
	return model.SeriesStats{
		Latest:  w.samples[len(w.samples)-1].Value,
		Max:     max,
		Sum:     w.sum,
		Count:   n,
		Gaps:    w.gaps,
		Present: true,
	}
}
