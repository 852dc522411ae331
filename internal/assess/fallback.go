package assess

import (
	"fmt"
	"strings"

	"deployguard/internal/model"
)

// Fallback computes a deterministic verdict when the analysis service
// cannot produce one. The rules are intentionally conservative: the engine
// discounts verdict-derived triggers for FALLBACK verdicts, so this only
// needs to be a sane advisory summary.
func Fallback(p Payload) model.RiskVerdict {
	switch p.Type {
	case ContextPRDiff:
		return fallbackDiff(p)
	case ContextTestResults:
		return fallbackTests(p)
	default:
		return fallbackMetrics(p)
	}
}

func fallbackMetrics(p Payload) model.RiskVerdict {
	n := len(p.Breaches)
	v := model.RiskVerdict{Source: model.SourceFallback, Confidence: 0.5}
	switch {
	case n == 0:
		v.Level = model.RiskLow
		v.Action = model.RecommendContinue
		v.Rationale = "no thresholds breached"
	case n == 1:
		v.Level = model.RiskMedium
		v.Action = model.RecommendContinue
		v.Rationale = "single threshold breached: " + p.Breaches[0]
	case n == 2:
		v.Level = model.RiskHigh
		v.Action = model.RecommendCanary
		v.Rationale = "multiple thresholds breached: " + strings.Join(p.Breaches, ", ")
	default:
		v.Level = model.RiskCritical
		v.Action = model.RecommendRollback
		v.Rationale = "widespread threshold breaches: " + strings.Join(p.Breaches, ", ")
	}
	if p.Snapshot != nil && p.Snapshot.Degraded {
		v.Rationale += " (metrics degraded)"
		if v.Confidence > 0.3 {
			v.Confidence = 0.3
		}
	}
	return v
}

func fallbackDiff(p Payload) model.RiskVerdict {
	lines := strings.Count(p.Diff, "\n")
	level := model.RiskLow
	if lines > 500 || len(p.ChangedFiles) > 20 {
		level = model.RiskHigh
	} else if lines > 100 || len(p.ChangedFiles) > 5 {
		level = model.RiskMedium
	}
	return model.RiskVerdict{
		Level:      level,
		Action:     model.RecommendContinue,
		Rationale:  fmt.Sprintf("heuristic diff sizing: %d lines across %d files", lines, len(p.ChangedFiles)),
		Confidence: 0.4,
		Source:     model.SourceFallback,
	}
}

func fallbackTests(p Payload) model.RiskVerdict {
	failures := strings.Count(p.TestOutput, "FAIL")
	v := model.RiskVerdict{
		Action:     model.RecommendContinue,
		Confidence: 0.4,
		Source:     model.SourceFallback,
	}
	switch {
	case failures == 0:
		v.Level = model.RiskLow
		v.Rationale = "no test failures found in output"
	case failures <= 3:
		v.Level = model.RiskMedium
		v.Rationale = fmt.Sprintf("%d test failures found in output", failures)
	default:
		v.Level = model.RiskHigh
		v.Action = model.RecommendCanary
		v.Rationale = fmt.Sprintf("%d test failures found in output", failures)
	}
	return v
}
