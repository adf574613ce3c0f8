// Package metric manages Prometheus metrics for rtl433-ha. A single
// MetricsRegistry owns the Prometheus registry and the core pipeline
// metrics; components register their own metrics through it under a
// per-component service name. A nil registry disables metrics
// everywhere (nil input = nil feature pattern).
package metric
