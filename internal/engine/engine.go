package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"deployguard/internal/assess"
	"deployguard/internal/config"
	"deployguard/internal/decisions"
	"deployguard/internal/metrics"
	"deployguard/internal/model"
	"deployguard/internal/rollback"
	"deployguard/internal/storage"
)

// Events is the notification edge; satisfied by notify.Notifier.
type Events interface {
	Publish(ev model.Event)
}

// Loop is the evaluation state machine for one epoch. Cycles are strictly
// sequential: cycle N+1 does not start until cycle N's decision is
// appended, so the debounce streak and the audit log are race-free by
// construction.
type Loop struct {
	epoch     model.Epoch
	cfg       *config.Manager
	sampler   *metrics.Sampler
	assessor  *assess.Assessor
	executor  *rollback.Executor
	events    Events
	decisions *decisions.Store
	snapshots *metrics.Store
	store     storage.Store
	logger    *slog.Logger

	mu     sync.Mutex
	state  model.EpochState
	cycle  int
	streak int
}

func NewLoop(
	epoch model.Epoch,
	cfg *config.Manager,
	sampler *metrics.Sampler,
	assessor *assess.Assessor,
	executor *rollback.Executor,
	events Events,
	decisionLog *decisions.Store,
	snapshots *metrics.Store,
	store storage.Store,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		epoch:     epoch,
		cfg:       cfg,
		sampler:   sampler,
		assessor:  assessor,
		executor:  executor,
		events:    events,
		decisions: decisionLog,
		snapshots: snapshots,
		store:     store,
		logger:    logger,
		state:     model.StateMonitoring,
	}
}

func (l *Loop) Epoch() model.Epoch { return l.epoch }

func (l *Loop) State() model.EpochState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Loop) Cycle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cycle
}

// Run drives evaluation cycles until the epoch terminates or ctx is
// cancelled (rollback executed, or the pipeline signalled completion).
func (l *Loop) Run(ctx context.Context) {
	interval := l.cfg.Get().Metrics.Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if l.RunCycle(ctx) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// RunCycle performs one sample → assess → fuse → decide iteration and
// returns true when the epoch has reached its terminal state.
func (l *Loop) RunCycle(ctx context.Context) bool {
	l.mu.Lock()
	if l.state == model.StateTerminated {
		l.mu.Unlock()
		return true
	}
	l.state = model.StateEvaluating
	l.cycle++
	cycle := l.cycle
	l.mu.Unlock()

	cfg := l.cfg.Get()
	snap := l.sampler.Sample(ctx)
	if l.snapshots != nil {
		l.snapshots.Update(snap)
	}
	if l.store != nil {
		if err := l.store.SaveSnapshot(context.Background(), snap); err != nil && l.logger != nil {
			l.logger.Warn("persisting snapshot failed", "epoch", snap.EpochID, "err", err)
		}
	}
	breaches := EvaluateThresholds(snap, cfg.Thresholds)
	verdict := l.assessor.Assess(ctx, assess.Payload{
		Type:       assess.ContextMetricWindow,
		Thresholds: cfg.Thresholds,
		Snapshot:   &snap,
		Breaches:   breaches,
	})

	action, reason := l.fuse(cfg.Fusion, breaches, verdict)
	decision := model.Decision{
		EpochID:   l.epoch.ID,
		Cycle:     cycle,
		Timestamp: time.Now().UTC(),
		Action:    action,
		Reason:    reason,
		Breaches:  breaches,
		Verdict:   verdict,
		Degraded:  snap.Degraded,
	}
	l.append(decision)
	l.notifyDecision(decision, snap)

	if action != model.ActionRollback {
		l.setState(model.StateMonitoring)
		return false
	}

	record, err := l.executor.Execute(l.epoch)
	if err != nil && !errors.Is(err, rollback.ErrAlreadyExecuted) {
		if l.logger != nil {
			l.logger.Error("rollback execution failed", "epoch", l.epoch.ID, "err", err)
		}
	}
	if !errors.Is(err, rollback.ErrAlreadyExecuted) && l.store != nil {
		if serr := l.store.SaveRollback(context.Background(), record); serr != nil && l.logger != nil {
			l.logger.Warn("persisting rollback record failed", "epoch", l.epoch.ID, "err", serr)
		}
	}
	l.setState(model.StateTerminated)
	return true
}

// fuse applies the decision policy: deterministic breach signals together
// with the advisory verdict, then hysteresis on the rollback condition.
// FALLBACK verdicts never contribute a trigger; the engine stays safe on
// deterministic evidence alone when the analysis service is away.
func (l *Loop) fuse(cfg config.FusionConfig, breaches []string, verdict model.RiskVerdict) (model.Action, string) {
	condition, condReason := rollbackCondition(cfg, breaches, verdict)
	if condition {
		l.streak++
		if l.streak >= cfg.DebounceCycles {
			return model.ActionRollback, condReason
		}
		return model.ActionHold, fmt.Sprintf("%s, debounce %d/%d", condReason, l.streak, cfg.DebounceCycles)
	}
	l.streak = 0
	if len(breaches) >= 1 {
		return model.ActionHold, "threshold breach below rollback minimum: " + strings.Join(breaches, ", ")
	}
	if verdict.Source == model.SourceAI && verdict.Level.Rank() >= model.RiskMedium.Rank() {
		return model.ActionHold, strings.ToLower(string(verdict.Level)) + " risk verdict without corroborating breach"
	}
	return model.ActionContinue, "nominal"
}

func rollbackCondition(cfg config.FusionConfig, breaches []string, verdict model.RiskVerdict) (bool, string) {
	if verdict.Source == model.SourceAI {
		if verdict.Level == model.RiskCritical {
			return true, "critical risk verdict"
		}
		minLevel := model.RiskLevel(strings.ToUpper(cfg.VerdictRollbackLevel))
		if verdict.Level.Rank() >= minLevel.Rank() && len(breaches) >= 1 {
			return true, fmt.Sprintf("%s risk verdict corroborated by %d threshold breach(es)", strings.ToLower(string(verdict.Level)), len(breaches))
		}
	}
	if len(breaches) >= cfg.MinBreaches {
		return true, fmt.Sprintf("%d simultaneous threshold breaches", len(breaches))
	}
	return false, ""
}

func (l *Loop) append(d model.Decision) {
	if l.decisions != nil {
		l.decisions.Append(d)
	}
	if l.store != nil {
		if err := l.store.SaveDecision(context.Background(), d); err != nil && l.logger != nil {
			l.logger.Warn("persisting decision failed", "epoch", d.EpochID, "cycle", d.Cycle, "err", err)
		}
	}
	if l.logger != nil {
		l.logger.Info("decision",
			"epoch", d.EpochID,
			"cycle", d.Cycle,
			"action", d.Action,
			"reason", d.Reason,
			"breaches", d.Breaches,
			"verdict", d.Verdict.Level,
			"verdict_source", d.Verdict.Source,
		)
	}
}

func (l *Loop) notifyDecision(d model.Decision, snap model.Snapshot) {
	if l.events == nil || d.Action == model.ActionContinue {
		return
	}
	severity := "WARNING"
	if d.Action == model.ActionRollback {
		severity = "CRITICAL"
	}
	l.events.Publish(model.Event{
		EpochID:   d.EpochID,
		Kind:      model.EventDecision,
		Severity:  severity,
		Message:   fmt.Sprintf("%s: %s", d.Action, d.Reason),
		Decision:  &d,
		Snapshot:  &snap,
		Timestamp: d.Timestamp,
	})
}

func (l *Loop) setState(state model.EpochState) {
	l.mu.Lock()
	l.state = state
	l.mu.Unlock()
}
