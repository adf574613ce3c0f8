// Package coordinator is the top-level ingestion orchestrator: it owns
// the process supervisor, feeds decoder lines through the normalizer,
// applies readings to the device registry, and fans the resulting change
// events out to subscribers.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/abcdqfr/rtl433-ha/component"
	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/metric"
	"github.com/abcdqfr/rtl433-ha/pkg/clock"
	"github.com/abcdqfr/rtl433-ha/pkg/retry"
	"github.com/abcdqfr/rtl433-ha/reading"
	"github.com/abcdqfr/rtl433-ha/registry"
	"github.com/abcdqfr/rtl433-ha/supervisor"
)

// poorStreakLen is how many consecutive poor/unusable readings trigger
// a reception warning for a device.
const poorStreakLen = 5

// Deps holds runtime dependencies for the Coordinator.
type Deps struct {
	Settings Settings
	Metrics  *metric.Metrics
	Logger   *slog.Logger
	Clock    clock.Clock
}

// Coordinator wires supervisor, normalizer, and registry into one
// pipeline. The registry survives reconfiguration; the supervisor is
// rebuilt whenever the decoder command line changes.
type Coordinator struct {
	mu         sync.Mutex
	settings   Settings
	sup        *supervisor.Supervisor
	normalizer *reading.Normalizer
	drainDone  chan struct{}
	runCtx     context.Context
	terminal   error
	startTime  time.Time

	reg *registry.Registry

	subMu sync.RWMutex
	subs  map[string]*Subscription

	rejectLimiter *rate.Limiter
	suppressed    atomic.Int64

	// warnedPoor tracks which identities already got a reception
	// warning, so a persistent streak logs once. Touched only by the
	// drain goroutine.
	warnedPoor map[string]bool

	metrics *metric.Metrics
	logger  *slog.Logger
	clk     clock.Clock

	running   atomic.Bool
	shutdown  chan struct{}
	stopOnce  *sync.Once
	sweepDone chan struct{}

	readingsSeen    atomic.Int64
	rejections      atomic.Int64
	eventsPublished atomic.Int64
	lastErr         atomic.Value // string
	lastActivity    atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Coordinator)(nil)

// New creates a Coordinator. The registry is created here and persists
// across Start/Stop/Reconfigure cycles.
func New(deps Deps) *Coordinator {
	settings := deps.Settings.withDefaults()
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "coordinator")
	}

	c := &Coordinator{
		settings: settings,
		reg: registry.New(registry.Deps{
			DeviceTimeout: settings.DeviceTimeout,
			Clock:         clk,
			Logger:        logger.With("component", "registry"),
		}),
		subs:          make(map[string]*Subscription),
		rejectLimiter: rate.NewLimiter(rate.Every(10*time.Second), 3),
		warnedPoor:    make(map[string]bool),
		metrics:       deps.Metrics,
		logger:        logger,
		clk:           clk,
	}
	c.lastErr.Store("")
	c.lastActivity.Store(time.Time{})
	return c
}

// Registry exposes read access to device state for the host layer.
// Mutation stays inside the pipeline.
func (c *Coordinator) Registry() *registry.Registry {
	return c.reg
}

// Meta returns the component metadata.
func (c *Coordinator) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ingestion-coordinator",
		Type:        "coordinator",
		Description: "drives decoder output through normalization into the device registry",
		Version:     "1.0.0",
	}
}

// Health returns the current health status. The coordinator is healthy
// while the decoder runs and no terminal error has surfaced.
func (c *Coordinator) Health() component.HealthStatus {
	c.mu.Lock()
	sup := c.sup
	terminal := c.terminal
	startTime := c.startTime
	c.mu.Unlock()

	healthy := c.running.Load() && terminal == nil &&
		sup != nil && sup.State() == supervisor.ProcRunning

	var uptime time.Duration
	if !startTime.IsZero() {
		uptime = c.clk.Now().Sub(startTime)
	}
	lastErr, _ := c.lastErr.Load().(string)

	return component.HealthStatus{
		Healthy:    healthy,
		LastCheck:  c.clk.Now(),
		ErrorCount: int(c.rejections.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics.
func (c *Coordinator) DataFlow() component.FlowMetrics {
	c.mu.Lock()
	startTime := c.startTime
	c.mu.Unlock()

	seen := c.readingsSeen.Load()
	rejected := c.rejections.Load()
	lastActivity, _ := c.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if !startTime.IsZero() {
		if uptime := c.clk.Now().Sub(startTime).Seconds(); uptime > 0 {
			perSecond = float64(seen) / uptime
		}
	}
	if total := seen + rejected; total > 0 {
		errorRate = float64(rejected) / float64(total)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the configuration before anything starts.
func (c *Coordinator) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings.Validate()
}

// Start validates settings, launches the supervisor, and begins
// consuming its line stream. Idempotent while running.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}
	if err := c.settings.Validate(); err != nil {
		return err
	}

	c.shutdown = make(chan struct{})
	c.stopOnce = &sync.Once{}
	c.sweepDone = make(chan struct{})
	c.runCtx = ctx
	c.terminal = nil
	c.startTime = c.clk.Now()

	if err := c.startSupervisorLocked(ctx); err != nil {
		return err
	}

	c.running.Store(true)
	c.setStatus(component.StateStarted)

	go c.sweepLoop(c.settings.SweepInterval, c.shutdown, c.sweepDone)

	c.logger.Info("ingestion started",
		"command", c.settings.Command.String(),
		"device_timeout", c.settings.DeviceTimeout,
		"sweep_interval", c.settings.SweepInterval)
	return nil
}

// startSupervisorLocked builds and starts a fresh supervisor plus its
// drain and watch goroutines. Caller holds c.mu.
func (c *Coordinator) startSupervisorLocked(ctx context.Context) error {
	sup := supervisor.New(supervisor.Deps{
		Command: c.settings.Command,
		Restart: c.restartConfig(),
		Metrics: c.metrics,
		Logger:  c.logger.With("component", "supervisor"),
		Clock:   c.clk,
	})
	if err := sup.Initialize(); err != nil {
		return err
	}
	if err := sup.Start(ctx); err != nil {
		return err
	}

	c.sup = sup
	c.normalizer = reading.NewNormalizer(c.settings.Command.Protocols, c.clk)
	c.drainDone = make(chan struct{})

	go c.drain(sup, c.drainDone)
	go c.watch(sup)
	return nil
}

func (c *Coordinator) restartConfig() retry.Config {
	p := c.settings.Restart
	if p == (RestartPolicy{}) {
		return supervisor.DefaultRestartPolicy()
	}
	return retry.Config{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		Multiplier:   2.0,
	}
}

// Reconfigure applies new settings. The decoder restarts only when the
// command line changed; device state in the registry is preserved
// either way.
func (c *Coordinator) Reconfigure(ns Settings) error {
	ns = ns.withDefaults()
	if err := ns.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	sameCommand := c.settings.Command.Equal(ns.Command)
	c.settings = ns
	c.reg.SetTimeout(ns.DeviceTimeout)

	if !c.running.Load() || sameCommand {
		c.mu.Unlock()
		c.logger.Info("reconfigured", "decoder_restart", false)
		return nil
	}

	old := c.sup
	oldDrain := c.drainDone
	runCtx := c.runCtx
	c.mu.Unlock()

	// the drain goroutine takes c.mu per line, so the lock must not be
	// held while the old stream winds down
	if err := old.Stop(DefaultStopTimeout); err != nil {
		c.logger.Warn("old decoder did not stop cleanly", "error", err)
	}
	// readings stay ordered: the old stream is fully applied before the
	// new decoder starts
	<-oldDrain

	c.mu.Lock()
	err := c.startSupervisorLocked(runCtx)
	if err == nil {
		// a fresh decoder clears any earlier terminal failure
		c.terminal = nil
	}
	c.mu.Unlock()

	if err != nil {
		c.fail(nil, err)
		return err
	}
	c.setStatus(component.StateStarted)
	c.logger.Info("reconfigured", "decoder_restart", true, "command", ns.Command.String())
	return nil
}

// Stop shuts down the pipeline: supervisor first, then the sweep timer
// and every subscription. Idempotent.
func (c *Coordinator) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}

	c.mu.Lock()
	sup := c.sup
	drainDone := c.drainDone
	stopOnce := c.stopOnce
	shutdown := c.shutdown
	sweepDone := c.sweepDone
	c.mu.Unlock()

	stopOnce.Do(func() { close(shutdown) })

	var stopErr error
	if sup != nil {
		stopErr = sup.Stop(timeout)
	}

	deadline := c.clk.After(timeout)
	for _, ch := range []<-chan struct{}{drainDone, sweepDone} {
		select {
		case <-ch:
		case <-deadline:
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"coordinator", "Stop", "pipeline shutdown")
		}
	}

	c.subMu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subMu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}

	c.running.Store(false)
	c.setStatus(component.StateStopped)
	c.logger.Info("ingestion stopped")
	return stopErr
}

// Subscribe attaches a new change-event consumer. The returned
// subscription is infinite and cancellable; slow consumers drop their
// own oldest events rather than affecting others.
func (c *Coordinator) Subscribe() *Subscription {
	c.mu.Lock()
	capacity := c.settings.SubscriberBuffer
	c.mu.Unlock()

	sub := newSubscription(capacity,
		func(id string) {
			c.logger.Debug("subscriber event dropped", "subscriber", id)
		},
		func(id string) {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
		})

	c.subMu.Lock()
	c.subs[sub.ID()] = sub
	c.subMu.Unlock()

	c.logger.Debug("subscriber attached", "subscriber", sub.ID())
	return sub
}

// Err returns the terminal error that stopped the feed, or nil.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.terminal
}

// drain applies one supervisor generation's line stream to the
// registry. Exits when the supervisor closes its line channel.
func (c *Coordinator) drain(sup *supervisor.Supervisor, done chan struct{}) {
	defer close(done)
	for line := range sup.Lines() {
		c.processLine(line)
	}
}

// watch surfaces a supervisor generation's terminal error.
func (c *Coordinator) watch(sup *supervisor.Supervisor) {
	for {
		select {
		case f := <-sup.Failures():
			c.lastErr.Store(f.Err.Error())
		case <-sup.Done():
			if err := sup.TerminalErr(); err != nil {
				c.fail(sup, err)
			}
			return
		}
	}
}

func (c *Coordinator) processLine(line string) {
	c.mu.Lock()
	normalizer := c.normalizer
	c.mu.Unlock()

	rd, err := normalizer.Normalize([]byte(line))
	if err != nil {
		c.reject(err, line)
		return
	}

	c.readingsSeen.Add(1)
	c.lastActivity.Store(c.clk.Now())
	if c.metrics != nil {
		c.metrics.ReadingsReceived.Inc()
	}

	start := time.Now()
	ev := c.reg.Upsert(rd)
	if c.metrics != nil {
		c.metrics.UpsertDuration.Observe(time.Since(start).Seconds())
	}
	c.updateDeviceGauges()

	// discovery itself is logged by the registry
	c.trackSignalQuality(ev)

	c.publish(ev)
}

// trackSignalQuality warns once when a device's reception has been
// persistently poor, and rearms once it recovers.
func (c *Coordinator) trackSignalQuality(ev registry.ChangeEvent) {
	if ev.NewState.HasPoorSignalStreak(poorStreakLen) {
		if !c.warnedPoor[ev.Identity] {
			c.warnedPoor[ev.Identity] = true
			c.logger.Warn("persistently poor reception",
				"identity", ev.Identity,
				"quality", ev.NewState.Quality.String(),
				"streak", poorStreakLen)
		}
		return
	}
	delete(c.warnedPoor, ev.Identity)
}

// reject counts a dropped line and logs it at a rate-limited frequency,
// collapsing bursts into periodic summaries. The counter always
// advances; only the log volume is capped.
func (c *Coordinator) reject(err error, line string) {
	reason := rejectReason(err)
	c.rejections.Add(1)
	if c.metrics != nil {
		c.metrics.ReadingsRejected.WithLabelValues(reason).Inc()
	}

	if c.rejectLimiter.Allow() {
		suppressed := c.suppressed.Swap(0)
		c.logger.Warn("reading rejected",
			"reason", reason,
			"error", err,
			"line_length", len(line),
			"suppressed", suppressed)
	} else {
		c.suppressed.Add(1)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, errors.ErrMalformedJSON):
		return "malformed_json"
	case errors.Is(err, errors.ErrMissingIdentity):
		return "missing_identity"
	case errors.Is(err, errors.ErrFilteredOut):
		return "filtered_protocol"
	default:
		return "other"
	}
}

// publish fans one event out to every subscriber.
func (c *Coordinator) publish(ev registry.ChangeEvent) {
	c.eventsPublished.Add(1)
	if c.metrics != nil {
		c.metrics.EventsPublished.WithLabelValues(ev.Kind.String()).Inc()
	}

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, sub := range c.subs {
		sub.deliver(ev)
	}
}

// sweepLoop drives registry availability sweeps on a fixed cadence,
// independent of reading arrival.
func (c *Coordinator) sweepLoop(interval time.Duration, shutdown <-chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := c.clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runSweep()
		case <-shutdown:
			return
		}
	}
}

func (c *Coordinator) runSweep() {
	events := c.reg.Sweep(c.clk.Now())
	for _, ev := range events {
		c.publish(ev)
	}
	if len(events) > 0 {
		c.updateDeviceGauges()
	}
}

func (c *Coordinator) updateDeviceGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.DevicesTracked.Set(float64(c.reg.Len()))
	c.metrics.DevicesAvailable.Set(float64(c.reg.AvailableCount()))
}

func (c *Coordinator) setStatus(st component.State) {
	if c.metrics != nil {
		c.metrics.ComponentStatus.WithLabelValues("coordinator").Set(float64(st))
	}
}

// fail records the terminal error that stopped the feed. Healthy
// devices keep their registry state; only ingestion halts. A non-nil
// from pins the failure to that supervisor generation: a generation
// replaced by Reconfigure cannot fail the coordinator late.
func (c *Coordinator) fail(from *supervisor.Supervisor, err error) {
	c.mu.Lock()
	if from != nil && c.sup != from {
		c.mu.Unlock()
		return
	}
	if c.terminal == nil {
		c.terminal = err
	}
	c.mu.Unlock()

	c.lastErr.Store(err.Error())
	c.setStatus(component.StateFailed)
	c.logger.Error("ingestion feed stopped", "error", err)
}
