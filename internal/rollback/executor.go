package rollback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

var ErrAlreadyExecuted = errors.New("rollback already executed for epoch")

// Events is the escalation edge; satisfied by notify.Notifier.
type Events interface {
	Publish(ev model.Event)
}

// Executor performs at most one successful rollback per epoch. Execution
// always runs to completion once started: the caller's cancellation does
// not abort an in-flight attempt, only the executor's own convergence
// timeout and retry budget bound it.
type Executor struct {
	deployer Deployer
	cfg      config.RollbackConfig
	locks    *TargetLocks
	events   Events
	logger   *slog.Logger

	mu      sync.Mutex
	records map[string]model.RollbackRecord
}

func NewExecutor(deployer Deployer, cfg config.RollbackConfig, events Events, logger *slog.Logger) *Executor {
	return &Executor{
		deployer: deployer,
		cfg:      cfg,
		locks:    NewTargetLocks(),
		events:   events,
		logger:   logger,
		records:  make(map[string]model.RollbackRecord),
	}
}

// Record returns the rollback record for an epoch, if one exists.
func (e *Executor) Record(epochID string) (model.RollbackRecord, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.records[epochID]
	return r, ok
}

// Execute rolls the epoch's target back to its previous version. The
// per-target lock makes concurrent attempts on one target sequential, and
// the per-epoch record makes the second of two racing calls a no-op.
func (e *Executor) Execute(epoch model.Epoch) (model.RollbackRecord, error) {
	lock := e.locks.For(epoch.Target)
	lock.Lock()
	defer lock.Unlock()

	e.mu.Lock()
	if existing, ok := e.records[epoch.ID]; ok {
		e.mu.Unlock()
		return existing, ErrAlreadyExecuted
	}
	e.mu.Unlock()

	// Detached from the loop's context on purpose: a triggered rollback
	// must not be abandoned halfway through a version swap.
	ctx := context.Background()

	var lastErr error
	backoff := e.cfg.Backoff
	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		if e.logger != nil {
			e.logger.Info("executing rollback",
				"epoch", epoch.ID,
				"target", epoch.Target,
				"to_version", epoch.PreviousVersion,
				"attempt", attempt,
			)
		}
		err := e.attempt(ctx, epoch)
		if err == nil {
			record := model.RollbackRecord{
				EpochID:     epoch.ID,
				Target:      epoch.Target,
				Attempts:    attempt,
				Outcome:     model.RollbackSuccess,
				CompletedAt: time.Now().UTC(),
			}
			e.save(record)
			e.publish(epoch, "rollback converged")
			return record, nil
		}
		lastErr = err
		if e.logger != nil {
			e.logger.Warn("rollback attempt failed", "epoch", epoch.ID, "attempt", attempt, "err", err)
		}
		if attempt < e.cfg.Attempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	record := model.RollbackRecord{
		EpochID:     epoch.ID,
		Target:      epoch.Target,
		Attempts:    e.cfg.Attempts,
		Outcome:     model.RollbackFailed,
		Error:       lastErr.Error(),
		CompletedAt: time.Now().UTC(),
	}
	e.save(record)
	e.escalate(epoch, record)
	return record, fmt.Errorf("rollback failed after %d attempts: %w", e.cfg.Attempts, lastErr)
}

func (e *Executor) attempt(ctx context.Context, epoch model.Epoch) error {
	handle, err := e.deployer.RollbackToPrevious(ctx, epoch.Target)
	if err != nil {
		return fmt.Errorf("rollback operation: %w", err)
	}

	deadline := time.Now().Add(e.cfg.ConvergenceTimeout)
	for {
		status, err := e.deployer.PollConvergence(ctx, handle)
		if err != nil {
			return fmt.Errorf("convergence poll: %w", err)
		}
		switch status {
		case ConvergenceConverged:
			healthy, err := e.deployer.HealthyTargetCount(ctx, epoch.Target)
			if err != nil {
				return fmt.Errorf("post-convergence health check: %w", err)
			}
			if healthy <= 0 {
				return errors.New("converged but no healthy targets")
			}
			return nil
		case ConvergenceFailed:
			return errors.New("deployment collaborator reported convergence failure")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("convergence timed out after %s", e.cfg.ConvergenceTimeout)
		}
		time.Sleep(e.cfg.PollInterval)
	}
}

func (e *Executor) save(record model.RollbackRecord) {
	e.mu.Lock()
	e.records[record.EpochID] = record
	e.mu.Unlock()
}

func (e *Executor) publish(epoch model.Epoch, msg string) {
	if e.events == nil {
		return
	}
	e.events.Publish(model.Event{
		EpochID:   epoch.ID,
		Kind:      model.EventRollback,
		Severity:  "INFO",
		Message:   fmt.Sprintf("%s: %s rolled back to %s", msg, epoch.Target, epoch.PreviousVersion),
		Timestamp: time.Now().UTC(),
	})
}

func (e *Executor) escalate(epoch model.Epoch, record model.RollbackRecord) {
	if e.logger != nil {
		e.logger.Error("rollback exhausted, manual intervention required",
			"epoch", epoch.ID,
			"target", epoch.Target,
			"attempts", record.Attempts,
			"err", record.Error,
		)
	}
	if e.events == nil {
		return
	}
	e.events.Publish(model.Event{
		EpochID:   epoch.ID,
		Kind:      model.EventEscalation,
		Severity:  "CRITICAL",
		Message:   fmt.Sprintf("rollback of %s failed after %d attempts, manual intervention required: %s", epoch.Target, record.Attempts, record.Error),
		Timestamp: time.Now().UTC(),
	})
}
