package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deployguard/internal/assess"
	"deployguard/internal/config"
	"deployguard/internal/decisions"
	"deployguard/internal/metrics"
	"deployguard/internal/model"
	"deployguard/internal/rollback"
)

type scriptEntry struct {
	value float64
	gap   bool
	err   bool
}

// scriptedSource replays one entry per cycle per series; the last entry
// repeats once the script runs out.
type scriptedSource struct {
	mu    sync.Mutex
	calls map[model.Series]int
	plan  map[model.Series][]scriptEntry
}

func newScriptedSource() *scriptedSource {
	return &scriptedSource{
		calls: make(map[model.Series]int),
		plan:  make(map[model.Series][]scriptEntry),
	}
}

func (s *scriptedSource) set(series model.Series, entries ...scriptEntry) {
	s.plan[series] = entries
}

func values(vs ...float64) []scriptEntry {
	out := make([]scriptEntry, 0, len(vs))
	for _, v := range vs {
		out = append(out, scriptEntry{value: v})
	}
	return out
}

func (s *scriptedSource) Query(ctx context.Context, target string, series model.Series, from, to time.Time) ([]model.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls[series]
	s.calls[series]++
	plan := s.plan[series]
	if len(plan) == 0 {
		return nil, nil
	}
	if i >= len(plan) {
		i = len(plan) - 1
	}
	e := plan[i]
	if e.err {
		return nil, errors.New("backend unavailable")
	}
	if e.gap {
		return nil, nil
	}
	return []model.Sample{{Series: series, Timestamp: to, Value: e.value}}, nil
}

type fakeDeployer struct {
	mu        sync.Mutex
	rollbacks int
	fail      bool
}

func (d *fakeDeployer) HealthyTargetCount(ctx context.Context, target string) (int, error) {
	return 2, nil
}

func (d *fakeDeployer) RollbackToPrevious(ctx context.Context, target string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rollbacks++
	if d.fail {
		return "", errors.New("controller rejected rollback")
	}
	return "rb-1", nil
}

func (d *fakeDeployer) PollConvergence(ctx context.Context, handle string) (rollback.ConvergenceStatus, error) {
	return rollback.ConvergenceConverged, nil
}

func (d *fakeDeployer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rollbacks
}

type captureEvents struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureEvents) Publish(ev model.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
}

func (c *scriptedClient) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	i := c.calls
	c.calls++
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	if i < len(c.errs) && c.errs[i] != nil {
		return "", c.errs[i]
	}
	return c.responses[i], nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Metrics.Interval = 10 * time.Millisecond
	cfg.Metrics.Window = time.Minute
	cfg.Metrics.FetchTimeout = time.Second
	cfg.Assessor.Enabled = false
	cfg.Assessor.Attempts = 1
	cfg.Assessor.Timeout = 50 * time.Millisecond
	cfg.Assessor.Backoff = time.Millisecond
	cfg.Rollback.Attempts = 1
	cfg.Rollback.Backoff = time.Millisecond
	cfg.Rollback.ConvergenceTimeout = time.Second
	cfg.Rollback.PollInterval = time.Millisecond
	return cfg
}

func testEpoch() model.Epoch {
	return model.Epoch{
		ID:              "ep-1",
		Target:          "checkout-service",
		Version:         "v2.1.0",
		PreviousVersion: "v2.0.3",
		StartedAt:       time.Now().UTC(),
	}
}

func newLoopForTest(cfg *config.Config, source metrics.Source, client assess.Client) (*Loop, *fakeDeployer, *decisions.Store, *captureEvents) {
	epoch := testEpoch()
	manager := config.NewStaticManager(cfg)
	sampler := metrics.NewSampler(source, epoch, cfg.Metrics, nil)
	assessor := assess.New(client, cfg.Assessor, nil)
	deployer := &fakeDeployer{}
	events := &captureEvents{}
	executor := rollback.NewExecutor(deployer, cfg.Rollback, events, nil)
	decisionLog := decisions.NewStore(100)
	loop := NewLoop(epoch, manager, sampler, assessor, executor, events, decisionLog, metrics.NewStore(10), nil, nil)
	return loop, deployer, decisionLog, events
}

func nominal(src *scriptedSource) {
	src.set(model.SeriesCPU, values(40, 40, 40, 40)...)
	src.set(model.SeriesMemory, values(50, 50, 50, 50)...)
	src.set(model.SeriesErrorCount, values(0, 0, 0, 0)...)
	src.set(model.SeriesLatencyP95, values(0.3, 0.3, 0.3, 0.3)...)
	src.set(model.SeriesUnhealthyTargets, values(0, 0, 0, 0)...)
}

func TestNominalMetricsContinue(t *testing.T) {
	src := newScriptedSource()
	nominal(src)
	loop, deployer, decisionLog, _ := newLoopForTest(testConfig(), src, nil)

	for i := 0; i < 3; i++ {
		if done := loop.RunCycle(context.Background()); done {
			t.Fatalf("cycle %d unexpectedly terminal", i+1)
		}
	}
	for _, d := range decisionLog.ForEpoch("ep-1") {
		if d.Action != model.ActionContinue {
			t.Fatalf("cycle %d: got %s, want CONTINUE (%s)", d.Cycle, d.Action, d.Reason)
		}
	}
	if deployer.count() != 0 {
		t.Fatalf("rollback executed on nominal metrics")
	}
}

func TestTransientSpikeNeverRollsBack(t *testing.T) {
	src := newScriptedSource()
	nominal(src)
	src.set(model.SeriesCPU, values(95, 40, 40)...)
	src.set(model.SeriesMemory, values(92, 50, 50)...)
	loop, deployer, decisionLog, _ := newLoopForTest(testConfig(), src, nil)

	for i := 0; i < 3; i++ {
		loop.RunCycle(context.Background())
	}
	list := decisionLog.ForEpoch("ep-1")
	if len(list) != 3 {
		t.Fatalf("got %d decisions, want 3", len(list))
	}
	if list[0].Action != model.ActionHold {
		t.Fatalf("spike cycle: got %s, want HOLD", list[0].Action)
	}
	for _, d := range list {
		if d.Action == model.ActionRollback {
			t.Fatalf("transient spike rolled back at cycle %d", d.Cycle)
		}
	}
	if deployer.count() != 0 {
		t.Fatalf("deployer invoked for a transient spike")
	}
	if loop.State() == model.StateTerminated {
		t.Fatalf("epoch terminated after metrics recovered")
	}
}

func TestSustainedBreachesRollBackOnce(t *testing.T) {
	src := newScriptedSource()
	nominal(src)
	src.set(model.SeriesCPU, values(95, 96)...)
	src.set(model.SeriesMemory, values(90, 91)...)
	loop, deployer, decisionLog, _ := newLoopForTest(testConfig(), src, nil)

	if done := loop.RunCycle(context.Background()); done {
		t.Fatalf("terminated one cycle before the debounce allows")
	}
	if done := loop.RunCycle(context.Background()); !done {
		t.Fatalf("sustained breaches did not terminate the epoch")
	}

	list := decisionLog.ForEpoch("ep-1")
	if list[0].Action != model.ActionHold {
		t.Fatalf("cycle 1: got %s, want HOLD", list[0].Action)
	}
	if list[1].Action != model.ActionRollback {
		t.Fatalf("cycle 2: got %s, want ROLLBACK", list[1].Action)
	}
	if deployer.count() != 1 {
		t.Fatalf("got %d rollback calls, want 1", deployer.count())
	}
	if loop.State() != model.StateTerminated {
		t.Fatalf("got state %s, want TERMINATED", loop.State())
	}

	// Terminal epochs do not evaluate again.
	if done := loop.RunCycle(context.Background()); !done {
		t.Fatalf("terminal loop reported not done")
	}
	if got := len(decisionLog.ForEpoch("ep-1")); got != 2 {
		t.Fatalf("terminal loop appended a decision, got %d", got)
	}
	if deployer.count() != 1 {
		t.Fatalf("terminal loop re-executed the rollback")
	}
}

func TestSingleBreachHoldsWithoutRollback(t *testing.T) {
	src := newScriptedSource()
	nominal(src)
	src.set(model.SeriesMemory, values(90, 90, 90, 90)...)
	loop, deployer, decisionLog, _ := newLoopForTest(testConfig(), src, nil)

	for i := 0; i < 4; i++ {
		loop.RunCycle(context.Background())
	}
	for _, d := range decisionLog.ForEpoch("ep-1") {
		if d.Action != model.ActionHold {
			t.Fatalf("cycle %d: got %s, want HOLD (%s)", d.Cycle, d.Action, d.Reason)
		}
		if d.Verdict.Source != model.SourceFallback {
			t.Fatalf("assessor disabled but verdict source is %s", d.Verdict.Source)
		}
	}
	if deployer.count() != 0 {
		t.Fatalf("single sustained breach must not trigger rollback")
	}
}

func TestFallbackVerdictNeverTriggersRollbackAlone(t *testing.T) {
	cfg := testConfig()
	cfg.Fusion.MinBreaches = 5
	src := newScriptedSource()
	nominal(src)
	// Three simultaneous breaches push the fallback to CRITICAL, but a
	// FALLBACK verdict is advisory only.
	src.set(model.SeriesCPU, values(95, 95, 95)...)
	src.set(model.SeriesMemory, values(90, 90, 90)...)
	src.set(model.SeriesLatencyP95, values(3.5, 3.5, 3.5)...)
	loop, deployer, decisionLog, _ := newLoopForTest(cfg, src, nil)

	for i := 0; i < 3; i++ {
		loop.RunCycle(context.Background())
	}
	for _, d := range decisionLog.ForEpoch("ep-1") {
		if d.Verdict.Level != model.RiskCritical {
			t.Fatalf("cycle %d: fallback level %s, want CRITICAL", d.Cycle, d.Verdict.Level)
		}
		if d.Action == model.ActionRollback {
			t.Fatalf("fallback verdict triggered rollback at cycle %d", d.Cycle)
		}
	}
	if deployer.count() != 0 {
		t.Fatalf("deployer invoked on fallback verdict alone")
	}
}

func TestCriticalAIVerdictRollsBackAfterDebounce(t *testing.T) {
	cfg := testConfig()
	cfg.Assessor.Enabled = true
	src := newScriptedSource()
	nominal(src)
	client := &scriptedClient{responses: []string{
		`{"risk_level":"CRITICAL","recommended_action":"ROLLBACK","rationale":"error budget exhausted","confidence":0.93}`,
	}}
	loop, deployer, decisionLog, _ := newLoopForTest(cfg, src, client)

	if done := loop.RunCycle(context.Background()); done {
		t.Fatalf("critical verdict bypassed the debounce")
	}
	if done := loop.RunCycle(context.Background()); !done {
		t.Fatalf("persistent critical verdict did not roll back")
	}
	list := decisionLog.ForEpoch("ep-1")
	if list[0].Action != model.ActionHold || list[1].Action != model.ActionRollback {
		t.Fatalf("got %s then %s, want HOLD then ROLLBACK", list[0].Action, list[1].Action)
	}
	if list[1].Verdict.Source != model.SourceAI {
		t.Fatalf("got verdict source %s, want AI", list[1].Verdict.Source)
	}
	if deployer.count() != 1 {
		t.Fatalf("got %d rollback calls, want 1", deployer.count())
	}
}

func TestAIFailureDegradesToFallback(t *testing.T) {
	cfg := testConfig()
	cfg.Assessor.Enabled = true
	src := newScriptedSource()
	nominal(src)
	src.set(model.SeriesMemory, values(90, 90)...)
	client := &scriptedClient{
		responses: []string{""},
		errs:      []error{errors.New("deadline exceeded")},
	}
	loop, deployer, decisionLog, _ := newLoopForTest(cfg, src, client)

	loop.RunCycle(context.Background())
	list := decisionLog.ForEpoch("ep-1")
	if list[0].Action != model.ActionHold {
		t.Fatalf("got %s, want HOLD", list[0].Action)
	}
	if list[0].Verdict.Source != model.SourceFallback {
		t.Fatalf("got verdict source %s, want FALLBACK", list[0].Verdict.Source)
	}
	if deployer.count() != 0 {
		t.Fatalf("single breach with failed assessment must not roll back")
	}
}

func TestBackendOutageIsUnknownHealth(t *testing.T) {
	src := newScriptedSource()
	for _, series := range model.AllSeries() {
		src.set(series, scriptEntry{err: true}, scriptEntry{err: true}, scriptEntry{err: true})
	}
	loop, deployer, decisionLog, _ := newLoopForTest(testConfig(), src, nil)

	for i := 0; i < 3; i++ {
		loop.RunCycle(context.Background())
	}
	list := decisionLog.ForEpoch("ep-1")
	for _, d := range list {
		if len(d.Breaches) != 0 {
			t.Fatalf("cycle %d: missing data produced breaches %v", d.Cycle, d.Breaches)
		}
		if d.Action == model.ActionRollback {
			t.Fatalf("backend outage triggered rollback at cycle %d", d.Cycle)
		}
	}
	if !list[2].Degraded {
		t.Fatalf("three consecutive total fetch failures should mark the epoch degraded")
	}
	if list[0].Degraded {
		t.Fatalf("first failed cycle already marked degraded")
	}
	if deployer.count() != 0 {
		t.Fatalf("deployer invoked during backend outage")
	}
}

func TestControllerLifecycle(t *testing.T) {
	cfg := testConfig()
	src := newScriptedSource()
	nominal(src)
	manager := config.NewStaticManager(cfg)
	assessor := assess.New(nil, cfg.Assessor, nil)
	executor := rollback.NewExecutor(&fakeDeployer{}, cfg.Rollback, nil, nil)
	c := NewController(manager, src, assessor, executor, nil, decisions.NewStore(100), metrics.NewStore(10), nil, nil)
	defer c.StopAll()

	if _, err := c.StartEpoch(context.Background(), model.Epoch{PreviousVersion: "v1"}); err == nil {
		t.Fatalf("epoch without target accepted")
	}
	if _, err := c.StartEpoch(context.Background(), model.Epoch{Target: "svc"}); err == nil {
		t.Fatalf("epoch without previous version accepted")
	}

	epoch, err := c.StartEpoch(context.Background(), model.Epoch{Target: "svc", Version: "v2", PreviousVersion: "v1"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if epoch.ID == "" {
		t.Fatalf("epoch id not assigned")
	}
	if _, ok := c.Status(epoch.ID); !ok {
		t.Fatalf("started epoch missing from status")
	}
	if got := len(c.Epochs()); got != 1 {
		t.Fatalf("epochs = %d, want 1", got)
	}

	if err := c.Complete(epoch.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := c.Complete(epoch.ID); !errors.Is(err, ErrUnknownEpoch) {
		t.Fatalf("double complete err = %v, want ErrUnknownEpoch", err)
	}
}

func TestEvaluateThresholds(t *testing.T) {
	cfg := testConfig()
	snap := model.Snapshot{Stats: map[model.Series]model.SeriesStats{
		model.SeriesCPU:              {Latest: 85, Present: true},
		model.SeriesMemory:           {Latest: 70, Present: true},
		model.SeriesErrorCount:       {Latest: 1, Sum: 14, Present: true},
		model.SeriesLatencyP95:       {Present: false},
		model.SeriesUnhealthyTargets: {Latest: 1, Present: true},
	}}
	breaches := EvaluateThresholds(snap, cfg.Thresholds)
	want := map[string]bool{BreachCPU: true, BreachErrors: true, BreachUnhealthy: true}
	if len(breaches) != len(want) {
		t.Fatalf("got breaches %v, want %v", breaches, want)
	}
	for _, b := range breaches {
		if !want[b] {
			t.Fatalf("unexpected breach %s", b)
		}
	}
}

func TestErrorCountBreachUsesWindowSum(t *testing.T) {
	cfg := testConfig()
	snap := model.Snapshot{Stats: map[model.Series]model.SeriesStats{
		// Each individual sample is below the threshold; the window total
		// is what matters.
		model.SeriesErrorCount: {Latest: 4, Sum: 12, Count: 3, Present: true},
	}}
	breaches := EvaluateThresholds(snap, cfg.Thresholds)
	if len(breaches) != 1 || breaches[0] != BreachErrors {
		t.Fatalf("got %v, want [%s]", breaches, BreachErrors)
	}
}
