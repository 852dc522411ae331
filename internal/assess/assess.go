package assess

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// Assessor turns one context payload into a RiskVerdict. The analysis
// service is advisory only: every path out of Assess returns a verdict,
// degrading to the deterministic fallback rather than blocking or failing.
// A single weighted semaphore caps in-flight service calls across all
// epochs.
type Assessor struct {
	client Client
	cfg    config.AssessorConfig
	sem    *semaphore.Weighted
	logger *slog.Logger
}

func New(client Client, cfg config.AssessorConfig, logger *slog.Logger) *Assessor {
	return &Assessor{
		client: client,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		logger: logger,
	}
}

func (a *Assessor) Assess(ctx context.Context, p Payload) model.RiskVerdict {
	if !a.cfg.Enabled || a.client == nil {
		return Fallback(p)
	}
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return Fallback(p)
	}
	defer a.sem.Release(1)

	prompt := BuildPrompt(p, a.cfg.MaxPromptLen)
	backoff := a.cfg.Backoff
	for attempt := 1; attempt <= a.cfg.Attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
		raw, err := a.client.Generate(callCtx, prompt, a.cfg.MaxTokens)
		cancel()
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("assessment call failed", "context", p.Type, "attempt", attempt, "err", err)
			}
			if ctx.Err() != nil || attempt == a.cfg.Attempts {
				break
			}
			if !sleep(ctx, backoff) {
				break
			}
			backoff *= 2
			continue
		}
		verdict, err := ParseVerdict(raw)
		if err != nil {
			if a.logger != nil {
				a.logger.Warn("unparseable verdict, using fallback", "context", p.Type, "err", err)
			}
			break
		}
		return verdict
	}
	return Fallback(p)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
