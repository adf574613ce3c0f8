package supervisor

import (
	"time"

	"github.com/abcdqfr/rtl433-ha/errors"
)

// FailureKind is the discrete failure classification surfaced to the
// host. Values double as the metric label for process failures.
type FailureKind string

const (
	// FailureDeviceNotFound means no SDR device matched the configured
	// index. Not retried; the user must attach or reselect a device.
	FailureDeviceNotFound FailureKind = "device_not_found"

	// FailureDeviceBusy means another process holds the SDR device.
	FailureDeviceBusy FailureKind = "device_busy"

	// FailurePermissionDenied means the device node exists but cannot
	// be opened by this user.
	FailurePermissionDenied FailureKind = "permission_denied"

	// FailureNotInstalled means the decoder binary was not found.
	FailureNotInstalled FailureKind = "not_installed"

	// FailureUnexpectedExit means the decoder exited without a stop
	// request. Retried with backoff.
	FailureUnexpectedExit FailureKind = "unexpected_exit"

	// FailureMaxRetries means the restart ceiling was reached.
	FailureMaxRetries FailureKind = "max_retries_exceeded"
)

// Sentinel returns the sentinel error carrying this kind through the
// error taxonomy.
func (k FailureKind) Sentinel() error {
	switch k {
	case FailureDeviceNotFound:
		return errors.ErrDeviceNotFound
	case FailureDeviceBusy:
		return errors.ErrDeviceBusy
	case FailurePermissionDenied:
		return errors.ErrPermissionDenied
	case FailureNotInstalled:
		return errors.ErrProcessNotInstalled
	case FailureUnexpectedExit:
		return errors.ErrUnexpectedExit
	case FailureMaxRetries:
		return errors.ErrMaxRetriesExceeded
	default:
		return errors.ErrUnexpectedExit
	}
}

// Terminal reports whether this kind stops the restart loop. Lifecycle
// faults need user action; only unexpected exits are worth retrying.
func (k FailureKind) Terminal() bool {
	return k != FailureUnexpectedExit
}

// Failure describes one decoder process failure.
type Failure struct {
	Kind FailureKind
	Err  error
	At   time.Time
}
