package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"deployguard/internal/assess"
	"deployguard/internal/config"
	"deployguard/internal/decisions"
	"deployguard/internal/metrics"
	"deployguard/internal/model"
	"deployguard/internal/rollback"
	"deployguard/internal/storage"
)

var ErrUnknownEpoch = errors.New("unknown epoch")

// Controller owns the evaluation loops. Epochs run independently; the
// only coordination between them is the assessor's shared call cap and
// the executor's per-target locks.
type Controller struct {
	cfg       *config.Manager
	source    metrics.Source
	assessor  *assess.Assessor
	executor  *rollback.Executor
	events    Events
	decisions *decisions.Store
	snapshots *metrics.Store
	store     storage.Store
	logger    *slog.Logger

	mu    sync.Mutex
	loops map[string]*activeLoop
	wg    sync.WaitGroup
}

type activeLoop struct {
	loop   *Loop
	cancel context.CancelFunc
}

type EpochStatus struct {
	Epoch    model.Epoch           `json:"epoch"`
	State    model.EpochState      `json:"state"`
	Cycle    int                   `json:"cycle"`
	Rollback *model.RollbackRecord `json:"rollback,omitempty"`
}

func NewController(
	cfg *config.Manager,
	source metrics.Source,
	assessor *assess.Assessor,
	executor *rollback.Executor,
	events Events,
	decisionLog *decisions.Store,
	snapshots *metrics.Store,
	store storage.Store,
	logger *slog.Logger,
) *Controller {
	return &Controller{
		cfg:       cfg,
		source:    source,
		assessor:  assessor,
		executor:  executor,
		events:    events,
		decisions: decisionLog,
		snapshots: snapshots,
		store:     store,
		logger:    logger,
		loops:     make(map[string]*activeLoop),
	}
}

// StartEpoch begins monitoring a freshly deployed version. The baseline is
// captured before the first cycle so assessments can compare against
// pre-deployment levels.
func (c *Controller) StartEpoch(ctx context.Context, epoch model.Epoch) (model.Epoch, error) {
	if epoch.Target == "" {
		return model.Epoch{}, errors.New("epoch target required")
	}
	if epoch.PreviousVersion == "" {
		return model.Epoch{}, errors.New("epoch previous version required: nothing to roll back to")
	}
	if epoch.ID == "" {
		epoch.ID = uuid.NewString()
	}
	if epoch.StartedAt.IsZero() {
		epoch.StartedAt = time.Now().UTC()
	}

	sampler := metrics.NewSampler(c.source, epoch, c.cfg.Get().Metrics, c.logger)
	sampler.CaptureBaseline(ctx)

	loop := NewLoop(epoch, c.cfg, sampler, c.assessor, c.executor, c.events, c.decisions, c.snapshots, c.store, c.logger)
	// The loop must outlive the caller; an epoch started from an HTTP
	// handler keeps running after the request context ends.
	loopCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if _, exists := c.loops[epoch.ID]; exists {
		c.mu.Unlock()
		cancel()
		return model.Epoch{}, errors.New("epoch already monitored")
	}
	c.loops[epoch.ID] = &activeLoop{loop: loop, cancel: cancel}
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Info("epoch monitoring started",
			"epoch", epoch.ID,
			"target", epoch.Target,
			"version", epoch.Version,
			"previous_version", epoch.PreviousVersion,
		)
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		loop.Run(loopCtx)
		if c.logger != nil {
			c.logger.Info("epoch monitoring stopped", "epoch", epoch.ID, "state", loop.State())
		}
	}()
	return epoch, nil
}

// Complete is the pipeline's "deployed fine, stop watching" signal.
func (c *Controller) Complete(epochID string) error {
	c.mu.Lock()
	active, ok := c.loops[epochID]
	if ok {
		delete(c.loops, epochID)
	}
	c.mu.Unlock()
	if !ok {
		return ErrUnknownEpoch
	}
	active.cancel()
	return nil
}

func (c *Controller) Status(epochID string) (EpochStatus, bool) {
	c.mu.Lock()
	active, ok := c.loops[epochID]
	c.mu.Unlock()
	if !ok {
		return EpochStatus{}, false
	}
	return c.status(active.loop), true
}

func (c *Controller) Epochs() []EpochStatus {
	c.mu.Lock()
	actives := make([]*activeLoop, 0, len(c.loops))
	for _, a := range c.loops {
		actives = append(actives, a)
	}
	c.mu.Unlock()
	out := make([]EpochStatus, 0, len(actives))
	for _, a := range actives {
		out = append(out, c.status(a.loop))
	}
	return out
}

func (c *Controller) status(loop *Loop) EpochStatus {
	st := EpochStatus{
		Epoch: loop.Epoch(),
		State: loop.State(),
		Cycle: loop.Cycle(),
	}
	if record, ok := c.executor.Record(loop.Epoch().ID); ok {
		st.Rollback = &record
	}
	return st
}

// StopAll cancels every loop and waits for them to drain. In-flight
// rollback attempts still run to completion inside the executor.
func (c *Controller) StopAll() {
	c.mu.Lock()
	for id, active := range c.loops {
		active.cancel()
		delete(c.loops, id)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
