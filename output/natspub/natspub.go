// Package natspub publishes device change events onto a NATS subject
// hierarchy, one subject per device identity under a configurable
// prefix.
package natspub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/abcdqfr/rtl433-ha/component"
	"github.com/abcdqfr/rtl433-ha/coordinator"
	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/metric"
	"github.com/abcdqfr/rtl433-ha/pkg/clock"
)

// EventSource is the subscription surface the publisher consumes.
// Satisfied by *coordinator.Coordinator.
type EventSource interface {
	Subscribe() *coordinator.Subscription
}

// Options configures the NATS sink.
type Options struct {
	URL           string
	SubjectPrefix string
	Name          string

	// ConnectTimeout bounds the initial connection. Default 10s.
	ConnectTimeout time.Duration
}

// Deps holds runtime dependencies for the publisher.
type Deps struct {
	Options         Options
	Source          EventSource
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Clock           clock.Clock
}

// Metrics holds the sink's Prometheus metrics.
type Metrics struct {
	eventsPublished prometheus.Counter
	publishErrors   prometheus.Counter
	reconnects      prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtl433",
			Subsystem: "nats",
			Name:      "events_published_total",
			Help:      "Change events published to NATS",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtl433",
			Subsystem: "nats",
			Name:      "publish_errors_total",
			Help:      "NATS publish failures",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtl433",
			Subsystem: "nats",
			Name:      "reconnects_total",
			Help:      "NATS reconnections",
		}),
	}
	_ = registry.Register("nats_sink", "events_published", m.eventsPublished)
	_ = registry.Register("nats_sink", "publish_errors", m.publishErrors)
	_ = registry.Register("nats_sink", "reconnects", m.reconnects)
	return m
}

// Publisher forwards change events to NATS.
type Publisher struct {
	opts    Options
	source  EventSource
	logger  *slog.Logger
	clk     clock.Clock
	metrics *Metrics

	conn *nats.Conn
	sub  *coordinator.Subscription

	running   atomic.Bool
	done      chan struct{}
	stopOnce  *sync.Once
	startTime time.Time

	published    atomic.Int64
	pubErrors    atomic.Int64
	lastErr      atomic.Value // string
	lastActivity atomic.Value // time.Time
}

var _ component.LifecycleComponent = (*Publisher)(nil)

// New creates a NATS publisher.
func New(deps Deps) *Publisher {
	opts := deps.Options
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "rtl433.events"
	}
	if opts.Name == "" {
		opts.Name = "rtl433d"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "nats-sink")
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}

	p := &Publisher{
		opts:    opts,
		source:  deps.Source,
		logger:  logger,
		clk:     clk,
		metrics: newMetrics(deps.MetricsRegistry),
	}
	p.lastErr.Store("")
	p.lastActivity.Store(time.Time{})
	return p
}

// Meta returns the component metadata.
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "nats-sink",
		Type:        "output",
		Description: fmt.Sprintf("publishes change events to %s under %s.", p.opts.URL, p.opts.SubjectPrefix),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (p *Publisher) Health() component.HealthStatus {
	connected := p.conn != nil && p.conn.IsConnected()
	lastErr, _ := p.lastErr.Load().(string)

	var uptime time.Duration
	if !p.startTime.IsZero() {
		uptime = p.clk.Now().Sub(p.startTime)
	}

	return component.HealthStatus{
		Healthy:    p.running.Load() && connected,
		LastCheck:  p.clk.Now(),
		ErrorCount: int(p.pubErrors.Load()),
		LastError:  lastErr,
		Uptime:     uptime,
	}
}

// DataFlow returns the current data flow metrics.
func (p *Publisher) DataFlow() component.FlowMetrics {
	published := p.published.Load()
	pubErrors := p.pubErrors.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var perSecond, errorRate float64
	if !p.startTime.IsZero() {
		if uptime := p.clk.Now().Sub(p.startTime).Seconds(); uptime > 0 {
			perSecond = float64(published) / uptime
		}
	}
	if published > 0 {
		errorRate = float64(pubErrors) / float64(published)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}

// Initialize validates the sink options.
func (p *Publisher) Initialize() error {
	if p.opts.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "nats-sink", "Initialize", "url validation")
	}
	if p.source == nil {
		return errors.WrapInvalid(fmt.Errorf("nil event source"), "nats-sink", "Initialize", "source validation")
	}
	return nil
}

// Start connects to NATS and begins forwarding events.
func (p *Publisher) Start(_ context.Context) error {
	if p.running.Load() {
		return nil
	}

	conn, err := nats.Connect(p.opts.URL,
		nats.Name(p.opts.Name),
		nats.Timeout(p.opts.ConnectTimeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				p.lastErr.Store(err.Error())
				p.logger.Error("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if p.metrics != nil {
				p.metrics.reconnects.Inc()
			}
			p.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return errors.WrapTransient(err, "nats-sink", "Start", "server connection")
	}

	p.conn = conn
	p.sub = p.source.Subscribe()
	p.done = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.startTime = p.clk.Now()
	p.running.Store(true)

	p.logger.Info("nats connected", "url", p.opts.URL)
	go p.forward()
	return nil
}

// Stop detaches from the event feed, flushes, and closes the
// connection.
func (p *Publisher) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}

	p.stopOnce.Do(func() { p.sub.Cancel() })

	select {
	case <-p.done:
	case <-p.clk.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"nats-sink", "Stop", "forwarder shutdown")
	}

	_ = p.conn.FlushTimeout(timeout)
	p.conn.Close()
	p.running.Store(false)
	return nil
}

// forward pumps the subscription into NATS until it is cancelled.
func (p *Publisher) forward() {
	defer close(p.done)

	for ev := range p.sub.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.recordError(err)
			continue
		}

		subject := fmt.Sprintf("%s.%s", p.opts.SubjectPrefix, sanitizeSubject(ev.Identity))
		if err := p.conn.Publish(subject, payload); err != nil {
			p.recordError(err)
			continue
		}

		p.published.Add(1)
		p.lastActivity.Store(p.clk.Now())
		if p.metrics != nil {
			p.metrics.eventsPublished.Inc()
		}
	}
}

func (p *Publisher) recordError(err error) {
	p.pubErrors.Add(1)
	p.lastErr.Store(err.Error())
	if p.metrics != nil {
		p.metrics.publishErrors.Inc()
	}
	p.logger.Warn("nats publish failed", "error", err)
}

// sanitizeSubject makes a device identity usable as a NATS subject
// token.
func sanitizeSubject(identity string) string {
	r := strings.NewReplacer(
		".", "_",
		"*", "_",
		">", "_",
		" ", "_",
	)
	return r.Replace(identity)
}
