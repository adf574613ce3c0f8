package registry

import (
	"time"

	"github.com/abcdqfr/rtl433-ha/reading"
	"github.com/abcdqfr/rtl433-ha/signalquality"
)

// ChangeKind says why a ChangeEvent was emitted.
type ChangeKind int

const (
	// ChangeDiscovered is the first reading for a new identity
	ChangeDiscovered ChangeKind = iota
	// ChangeUpdated is a subsequent reading for a known identity
	ChangeUpdated
	// ChangeUnavailable is a sweep marking a quiet device unavailable
	ChangeUnavailable
)

// String returns the name used in events and logs.
func (k ChangeKind) String() string {
	switch k {
	case ChangeDiscovered:
		return "discovered"
	case ChangeUpdated:
		return "updated"
	case ChangeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler for JSON events.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ChangeEvent describes what changed in a DeviceState after an upsert or
// sweep. Downstream consumers use ChangedFields to notify only on
// change; NewState is a read-only snapshot safe to retain.
type ChangeEvent struct {
	Identity      string      `json:"identity"`
	Kind          ChangeKind  `json:"kind"`
	ChangedFields []string    `json:"changed_fields"`
	NewState      DeviceState `json:"new_state"`
}

// DeviceState is the aggregated last-known state for one identity.
// Measurements merge across readings: a wind packet never erases a
// previously seen temperature from the same identity.
type DeviceState struct {
	Identity string `json:"identity"`
	Model    string `json:"model,omitempty"`
	Channel  string `json:"channel,omitempty"`
	Protocol int    `json:"protocol,omitempty"`

	Measurements map[string]reading.Value `json:"measurements"`

	Quality signalquality.Tier `json:"quality"`

	// QualityHistory holds the most recent quality tiers, newest last,
	// capped at qualityHistoryLen entries.
	QualityHistory []signalquality.Tier `json:"-"`

	LastSeen  time.Time `json:"last_seen"`
	Available bool      `json:"available"`
}

// qualityHistoryLen bounds the per-device quality history.
const qualityHistoryLen = 10

// HasPoorSignalStreak reports whether the n most recent quality tiers
// are all poor or unusable. Used to warn once reception has degraded
// persistently rather than on every weak packet.
func (s DeviceState) HasPoorSignalStreak(n int) bool {
	if n <= 0 || len(s.QualityHistory) < n {
		return false
	}
	for _, q := range s.QualityHistory[len(s.QualityHistory)-n:] {
		if q != signalquality.TierPoor && q != signalquality.TierUnusable {
			return false
		}
	}
	return true
}

// clone returns a deep copy so callers can never mutate registry-owned
// state through a snapshot.
func (s DeviceState) clone() DeviceState {
	out := s
	out.Measurements = make(map[string]reading.Value, len(s.Measurements))
	for k, v := range s.Measurements {
		out.Measurements[k] = v
	}
	out.QualityHistory = append([]signalquality.Tier(nil), s.QualityHistory...)
	return out
}
