package coordinator

import (
	"fmt"
	"time"

	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/supervisor"
)

// Default tunables for the ingestion pipeline.
const (
	DefaultSweepInterval    = 60 * time.Second
	DefaultSubscriberBuffer = 256
	DefaultStopTimeout      = 10 * time.Second
)

// Settings is the effective ingestion configuration. Reconfigure
// compares the Command of the old and new settings to decide whether
// the decoder process must restart.
type Settings struct {
	// Command is the decoder invocation the supervisor manages.
	Command supervisor.Command

	// DeviceTimeout is how long a device may stay quiet before a sweep
	// marks it unavailable. Zero means the registry default (one hour).
	DeviceTimeout time.Duration

	// SweepInterval is the cadence of registry availability sweeps.
	SweepInterval time.Duration

	// SubscriberBuffer is the per-subscriber event buffer capacity.
	SubscriberBuffer int

	// Restart is the supervisor's backoff policy. Zero means the
	// supervisor default.
	Restart RestartPolicy
}

// RestartPolicy mirrors the supervisor restart tunables so callers
// configure the pipeline through one struct.
type RestartPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// withDefaults fills the zero fields.
func (s Settings) withDefaults() Settings {
	if s.SweepInterval <= 0 {
		s.SweepInterval = DefaultSweepInterval
	}
	if s.SubscriberBuffer <= 0 {
		s.SubscriberBuffer = DefaultSubscriberBuffer
	}
	return s
}

// Validate checks the settings before they take effect.
func (s Settings) Validate() error {
	if err := s.Command.Validate(); err != nil {
		return err
	}
	if s.DeviceTimeout < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative device timeout %v", s.DeviceTimeout),
			"coordinator", "Validate", "device timeout validation")
	}
	if s.SweepInterval < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative sweep interval %v", s.SweepInterval),
			"coordinator", "Validate", "sweep interval validation")
	}
	return nil
}
