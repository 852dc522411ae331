package assess

import (
	"fmt"
	"sort"
	"strings"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

type ContextType string

const (
	ContextMetricWindow ContextType = "metric-window"
	ContextPRDiff       ContextType = "pr-diff"
	ContextTestResults  ContextType = "test-results"
)

// Payload carries one assessment context. Exactly one of the context
// sections is populated, selected by Type.
type Payload struct {
	Type       ContextType
	Thresholds config.ThresholdsConfig

	// metric-window
	Snapshot *model.Snapshot
	Breaches []string

	// pr-diff
	Diff         string
	ChangedFiles []string

	// test-results
	TestOutput string
}

const verdictSchema = `Respond in JSON:
{
  "risk_level": "LOW|MEDIUM|HIGH|CRITICAL",
  "recommended_action": "CONTINUE|CANARY|ROLLBACK",
  "rationale": "string",
  "confidence": 0.85
}`

// BuildPrompt renders a bounded prompt for the analysis service. Free-form
// context (diffs, logs) is truncated head-first to maxLen; structured
// metric context is compact enough to never need it.
func BuildPrompt(p Payload, maxLen int) string {
	var prompt string
	switch p.Type {
	case ContextPRDiff:
		prompt = fmt.Sprintf(`Analyze this code diff for deployment risk.

Changed files: %s

Diff:
%s

%s`, strings.Join(p.ChangedFiles, ", "), truncate(p.Diff, maxLen), verdictSchema)
	case ContextTestResults:
		prompt = fmt.Sprintf(`Analyze these test results for deployment risk.

Test output:
%s

%s`, truncate(p.TestOutput, maxLen), verdictSchema)
	default:
		prompt = metricPrompt(p)
	}
	return truncate(prompt, maxLen+len(verdictSchema)+512)
}

func metricPrompt(p Payload) string {
	var b strings.Builder
	b.WriteString("Analyze these live deployment metrics for anomalies.\n\nCurrent window:\n")
	if p.Snapshot != nil {
		for _, series := range sortedSeries(p.Snapshot.Stats) {
			st := p.Snapshot.Stats[series]
			if !st.Present {
				fmt.Fprintf(&b, "- %s: no data (%d missed cycles)\n", series, st.Gaps)
				continue
			}
			line := fmt.Sprintf("- %s: latest=%.2f max=%.2f samples=%d", series, st.Latest, st.Max, st.Count)
			if base, ok := p.Snapshot.Baseline[series]; ok {
				line += fmt.Sprintf(" baseline=%.2f delta=%+.2f", base, st.Latest-base)
			}
			b.WriteString(line + "\n")
		}
		if p.Snapshot.Degraded {
			b.WriteString("Note: the metrics backend is currently unreachable; treat window contents as stale.\n")
		}
	}
	fmt.Fprintf(&b, `
Thresholds:
- cpu_percent > %.0f
- memory_percent > %.0f
- error_count > %.0f in window
- latency_p95_seconds > %.1f
- unhealthy_targets > %.0f

Breached now: %s

%s`,
		p.Thresholds.CPUPercent,
		p.Thresholds.MemoryPercent,
		p.Thresholds.ErrorCount,
		p.Thresholds.LatencySeconds,
		p.Thresholds.UnhealthyTargets,
		breachList(p.Breaches),
		verdictSchema)
	return b.String()
}

func breachList(breaches []string) string {
	if len(breaches) == 0 {
		return "none"
	}
	return strings.Join(breaches, ", ")
}

func sortedSeries(stats map[model.Series]model.SeriesStats) []model.Series {
	out := make([]model.Series, 0, len(stats))
	for series := range stats {
		out = append(out, series)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "\n[truncated]"
}
