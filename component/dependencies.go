package component

import (
	"log/slog"

	"github.com/abcdqfr/rtl433-ha/metric"
	"github.com/abcdqfr/rtl433-ha/pkg/clock"
)

// Dependencies provides the external dependencies shared by components.
// Constructors take a component-specific Deps struct embedding what they
// need rather than reaching for globals.
type Dependencies struct {
	MetricsRegistry *metric.MetricsRegistry // can be nil: metrics disabled
	Logger          *slog.Logger            // can be nil: defaults to slog.Default()
	Clock           clock.Clock             // can be nil: defaults to the real clock
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithComponent returns a logger configured with component context
func (d *Dependencies) GetLoggerWithComponent(componentName string) *slog.Logger {
	return d.GetLogger().With("component", componentName)
}

// GetClock returns the configured clock or the real clock.
func (d *Dependencies) GetClock() clock.Clock {
	if d.Clock != nil {
		return d.Clock
	}
	return clock.Real()
}
