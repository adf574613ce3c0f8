// Package mqttpub mirrors device change events onto an MQTT broker,
// one retained topic per device identity. This is the natural feed for
// a Home Assistant style consumer.
package mqttpub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
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

// Options configures the MQTT sink.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool

	// ConnectTimeout bounds the initial broker connection. Default 10s.
	ConnectTimeout time.Duration

	// PublishTimeout bounds each publish acknowledgement. Default 5s.
	PublishTimeout time.Duration
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
	connected       prometheus.Gauge
}

func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtl433",
			Subsystem: "mqtt",
			Name:      "events_published_total",
			Help:      "Change events published to MQTT",
		}),
		publishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rtl433",
			Subsystem: "mqtt",
			Name:      "publish_errors_total",
			Help:      "MQTT publish failures",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rtl433",
			Subsystem: "mqtt",
			Name:      "connected",
			Help:      "Whether the MQTT broker connection is up",
		}),
	}
	_ = registry.Register("mqtt_sink", "events_published", m.eventsPublished)
	_ = registry.Register("mqtt_sink", "publish_errors", m.publishErrors)
	_ = registry.Register("mqtt_sink", "connected", m.connected)
	return m
}

// Publisher forwards change events to MQTT.
type Publisher struct {
	opts    Options
	source  EventSource
	logger  *slog.Logger
	clk     clock.Clock
	metrics *Metrics

	client mqtt.Client
	sub    *coordinator.Subscription

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

// New creates an MQTT publisher.
func New(deps Deps) *Publisher {
	opts := deps.Options
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "rtl433"
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mqtt-sink")
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
		Name:        "mqtt-sink",
		Type:        "output",
		Description: fmt.Sprintf("publishes change events to %s under %s/", p.opts.Broker, p.opts.TopicPrefix),
		Version:     "1.0.0",
	}
}

// Health returns the current health status.
func (p *Publisher) Health() component.HealthStatus {
	connected := p.client != nil && p.client.IsConnectionOpen()
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
	if p.opts.Broker == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "mqtt-sink", "Initialize", "broker validation")
	}
	if p.source == nil {
		return errors.WrapInvalid(fmt.Errorf("nil event source"), "mqtt-sink", "Initialize", "source validation")
	}
	if p.opts.QoS > 2 {
		return errors.WrapInvalid(fmt.Errorf("invalid QoS %d", p.opts.QoS), "mqtt-sink", "Initialize", "qos validation")
	}
	return nil
}

// Start connects to the broker and begins forwarding events.
func (p *Publisher) Start(_ context.Context) error {
	if p.running.Load() {
		return nil
	}

	copts := mqtt.NewClientOptions()
	copts.AddBroker(p.opts.Broker)
	clientID := p.opts.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("rtl433d-%d", p.clk.Now().Unix())
	}
	copts.SetClientID(clientID)
	if p.opts.Username != "" {
		copts.SetUsername(p.opts.Username)
		copts.SetPassword(p.opts.Password)
	}
	copts.SetAutoReconnect(true)
	copts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.lastErr.Store(err.Error())
		if p.metrics != nil {
			p.metrics.connected.Set(0)
		}
		p.logger.Error("mqtt connection lost", "error", err)
	})
	copts.SetOnConnectHandler(func(mqtt.Client) {
		if p.metrics != nil {
			p.metrics.connected.Set(1)
		}
		p.logger.Info("mqtt connected", "broker", p.opts.Broker)
	})

	client := mqtt.NewClient(copts)
	token := client.Connect()
	if !token.WaitTimeout(p.opts.ConnectTimeout) {
		return errors.WrapTransient(errors.ErrNoConnection, "mqtt-sink", "Start", "broker connection timeout")
	}
	if err := token.Error(); err != nil {
		return errors.WrapTransient(err, "mqtt-sink", "Start", "broker connection")
	}

	p.client = client
	p.sub = p.source.Subscribe()
	p.done = make(chan struct{})
	p.stopOnce = &sync.Once{}
	p.startTime = p.clk.Now()
	p.running.Store(true)

	go p.forward()
	return nil
}

// Stop detaches from the event feed and disconnects from the broker.
func (p *Publisher) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}

	p.stopOnce.Do(func() { p.sub.Cancel() })

	select {
	case <-p.done:
	case <-p.clk.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"mqtt-sink", "Stop", "forwarder shutdown")
	}

	p.client.Disconnect(250)
	p.running.Store(false)
	if p.metrics != nil {
		p.metrics.connected.Set(0)
	}
	return nil
}

// forward pumps the subscription into the broker until it is cancelled.
func (p *Publisher) forward() {
	defer close(p.done)

	for ev := range p.sub.Events() {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.recordError(err)
			continue
		}

		topic := fmt.Sprintf("%s/%s", p.opts.TopicPrefix, sanitizeTopic(ev.Identity))
		token := p.client.Publish(topic, p.opts.QoS, p.opts.Retain, payload)
		if !token.WaitTimeout(p.opts.PublishTimeout) {
			p.recordError(fmt.Errorf("publish to %s timed out", topic))
			continue
		}
		if err := token.Error(); err != nil {
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
	p.logger.Warn("mqtt publish failed", "error", err)
}

// sanitizeTopic makes a device identity usable as an MQTT topic level.
func sanitizeTopic(identity string) string {
	r := strings.NewReplacer(
		"/", "_",
		"+", "_",
		"#", "_",
		" ", "_",
	)
	return r.Replace(identity)
}
