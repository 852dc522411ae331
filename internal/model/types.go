package model

import "time"

type Series string

const (
	SeriesCPU              Series = "cpu_percent"
	SeriesMemory           Series = "memory_percent"
	SeriesErrorCount       Series = "error_count"
	SeriesLatencyP95       Series = "latency_p95_seconds"
	SeriesUnhealthyTargets Series = "unhealthy_targets"
)

func AllSeries() []Series {
	return []Series{
		SeriesCPU,
		SeriesMemory,
		SeriesErrorCount,
		SeriesLatencyP95,
		SeriesUnhealthyTargets,
	}
}

// Epoch identifies one live deployment under observation. Immutable once
// created; the loop it drives ends on rollback or explicit completion.
type Epoch struct {
	ID              string    `json:"id"`
	Target          string    `json:"target"`
	Version         string    `json:"version"`
	PreviousVersion string    `json:"previous_version"`
	StartedAt       time.Time `json:"started_at"`
}

type Sample struct {
	Series    Series    `json:"series"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// SeriesStats summarizes one series' sliding window at a cycle boundary.
// Present is false when no sample has arrived yet; a gap never counts as
// a zero.
type SeriesStats struct {
	Latest  float64 `json:"latest"`
	Max     float64 `json:"max"`
	Sum     float64 `json:"sum"`
	Count   int     `json:"count"`
	Gaps    int     `json:"gaps"`
	Present bool    `json:"present"`
}

type Snapshot struct {
	EpochID  string                 `json:"epoch_id"`
	TakenAt  time.Time              `json:"taken_at"`
	Stats    map[Series]SeriesStats `json:"stats"`
	Baseline map[Series]float64     `json:"baseline,omitempty"`
	Degraded bool                   `json:"degraded"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels for comparisons; unknown levels rank lowest.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

type RecommendedAction string

const (
	RecommendContinue RecommendedAction = "CONTINUE"
	RecommendCanary   RecommendedAction = "CANARY"
	RecommendRollback RecommendedAction = "ROLLBACK"
)

type VerdictSource string

const (
	SourceAI       VerdictSource = "AI"
	SourceFallback VerdictSource = "FALLBACK"
)

// RiskVerdict is one assessment outcome. Produced fresh per evaluation
// cycle, never mutated.
type RiskVerdict struct {
	Level      RiskLevel         `json:"level"`
	Action     RecommendedAction `json:"action"`
	Rationale  string            `json:"rationale"`
	Confidence float64           `json:"confidence"`
	Source     VerdictSource     `json:"source"`
}

type Action string

const (
	ActionContinue Action = "CONTINUE"
	ActionHold     Action = "HOLD"
	ActionRollback Action = "ROLLBACK"
)

// Decision is one entry in an epoch's append-only audit log.
type Decision struct {
	EpochID   string      `json:"epoch_id"`
	Cycle     int         `json:"cycle"`
	Timestamp time.Time   `json:"timestamp"`
	Action    Action      `json:"action"`
	Reason    string      `json:"reason"`
	Breaches  []string    `json:"breaches,omitempty"`
	Verdict   RiskVerdict `json:"verdict"`
	Degraded  bool        `json:"degraded,omitempty"`
}

type RollbackOutcome string

const (
	RollbackSuccess RollbackOutcome = "SUCCESS"
	RollbackFailed  RollbackOutcome = "FAILED"
)

type RollbackRecord struct {
	EpochID     string          `json:"epoch_id"`
	Target      string          `json:"target"`
	Attempts    int             `json:"attempts"`
	Outcome     RollbackOutcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
}

type EpochState string

const (
	StateMonitoring EpochState = "MONITORING"
	StateEvaluating EpochState = "EVALUATING"
	StateTerminated EpochState = "TERMINATED"
)

type EventKind string

const (
	EventDecision   EventKind = "decision"
	EventRollback   EventKind = "rollback"
	EventEscalation EventKind = "escalation"
)

// Event is the structured message pushed to notification sinks.
type Event struct {
	EpochID   string    `json:"epoch_id"`
	Kind      EventKind `json:"kind"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Decision  *Decision `json:"decision,omitempty"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
