// Package registry maintains the in-memory last-known state of every
// device the decoder has seen. It is the single piece of shared mutable
// state in the pipeline: one writer (the ingestion coordinator) applies
// upserts and sweeps under an exclusive lock, while concurrent readers
// receive deep-copied snapshots.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/abcdqfr/rtl433-ha/pkg/clock"
	"github.com/abcdqfr/rtl433-ha/reading"
	"github.com/abcdqfr/rtl433-ha/signalquality"
)

// DefaultDeviceTimeout marks a device unavailable after an hour with no
// accepted readings.
const DefaultDeviceTimeout = time.Hour

// Deps holds runtime dependencies for the registry.
type Deps struct {
	// DeviceTimeout is how long a device may stay quiet before a sweep
	// marks it unavailable. Zero means DefaultDeviceTimeout.
	DeviceTimeout time.Duration

	// Clock supplies the availability evaluation time on upsert. Nil
	// defaults to the real clock.
	Clock clock.Clock

	// Logger may be nil; the registry then logs through slog.Default.
	Logger *slog.Logger
}

// Registry is the identity -> DeviceState mapping. Entries are created
// on first reading and never explicitly destroyed: a quiet device
// transitions to unavailable but its state is retained so it survives
// brief decoder restarts.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]*DeviceState
	timeout time.Duration
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates an empty registry.
func New(deps Deps) *Registry {
	timeout := deps.DeviceTimeout
	if timeout <= 0 {
		timeout = DefaultDeviceTimeout
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}

	return &Registry{
		devices: make(map[string]*DeviceState),
		timeout: timeout,
		clock:   clk,
		logger:  logger,
	}
}

// Upsert merges a reading into the state for its identity and returns
// the resulting ChangeEvent. New measurement keys are added, existing
// keys overwritten, unrelated keys preserved; quality and last_seen are
// updated and available flips to true.
func (r *Registry) Upsert(rd *reading.Reading) ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, known := r.devices[rd.Identity]
	kind := ChangeUpdated
	if !known {
		kind = ChangeDiscovered
		state = &DeviceState{
			Identity:     rd.Identity,
			Model:        rd.Model,
			Channel:      rd.Channel,
			Measurements: make(map[string]reading.Value),
		}
		r.devices[rd.Identity] = state
	}

	var changed []string

	for key, value := range rd.Measurements {
		if prev, ok := state.Measurements[key]; !ok || !prev.Equal(value) {
			changed = append(changed, key)
		}
		state.Measurements[key] = value
	}

	if rd.Protocol != 0 {
		state.Protocol = rd.Protocol
	}
	if rd.Channel != "" {
		state.Channel = rd.Channel
	}

	// A reading without signal metrics classifies as unknown; keep the
	// last known tier in that case so quality doesn't flap on protocols
	// that only attach level data to some packet types.
	if rd.Quality != signalquality.TierUnknown || !known {
		if state.Quality != rd.Quality {
			changed = append(changed, "quality")
		}
		state.Quality = rd.Quality
		state.QualityHistory = append(state.QualityHistory, rd.Quality)
		if len(state.QualityHistory) > qualityHistoryLen {
			state.QualityHistory = state.QualityHistory[len(state.QualityHistory)-qualityHistoryLen:]
		}
	}

	// The availability invariant holds immediately after every upsert,
	// not just after sweeps: a reading whose decoder timestamp is
	// already older than the timeout does not resurrect the device.
	wasAvailable := state.Available
	state.LastSeen = rd.Timestamp
	state.Available = r.clock.Now().Sub(state.LastSeen) <= r.timeout
	if state.Available != wasAvailable {
		changed = append(changed, "available")
	}
	changed = append(changed, "last_seen")

	sort.Strings(changed)

	if kind == ChangeDiscovered {
		r.logger.Info("discovered device",
			"identity", rd.Identity,
			"model", rd.Model,
			"protocol", rd.Protocol,
			"quality", rd.Quality.String(),
			"measurements", measurementKeys(rd.Measurements))
	}

	return ChangeEvent{
		Identity:      rd.Identity,
		Kind:          kind,
		ChangedFields: changed,
		NewState:      state.clone(),
	}
}

// SetTimeout changes the device timeout. Takes effect on the next
// upsert or sweep; used by live reconfiguration.
func (r *Registry) SetTimeout(d time.Duration) {
	if d <= 0 {
		d = DefaultDeviceTimeout
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = d
}

// Sweep flips available to false for every device that has been quiet
// longer than the device timeout, returning one ChangeEvent per newly
// unavailable device. Idempotent: a second sweep with the same now
// produces no events. last_seen is read at evaluation time, so a sweep
// can never override a concurrent upsert's fresher timestamp.
func (r *Registry) Sweep(now time.Time) []ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []ChangeEvent
	for identity, state := range r.devices {
		if !state.Available || now.Sub(state.LastSeen) <= r.timeout {
			continue
		}

		state.Available = false
		events = append(events, ChangeEvent{
			Identity:      identity,
			Kind:          ChangeUnavailable,
			ChangedFields: []string{"available"},
			NewState:      state.clone(),
		})

		r.logger.Info("device unavailable",
			"identity", identity,
			"last_seen", state.LastSeen,
			"timeout", r.timeout)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Identity < events[j].Identity
	})
	return events
}

// Snapshot returns a deep copy of one device's state.
func (r *Registry) Snapshot(identity string) (DeviceState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.devices[identity]
	if !ok {
		return DeviceState{}, false
	}
	return state.clone(), true
}

// All returns deep copies of every device state, keyed by identity.
func (r *Registry) All() map[string]DeviceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]DeviceState, len(r.devices))
	for identity, state := range r.devices {
		out[identity] = state.clone()
	}
	return out
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// AvailableCount returns the number of currently available devices.
func (r *Registry) AvailableCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, state := range r.devices {
		if state.Available {
			n++
		}
	}
	return n
}

func measurementKeys(m map[string]reading.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
