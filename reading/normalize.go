package reading

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/pkg/clock"
	"github.com/abcdqfr/rtl433-ha/pkg/timestamp"
	"github.com/abcdqfr/rtl433-ha/signalquality"
)

// metadataKeys are decoder-assigned record attributes, not measurements.
// They are lifted into typed Reading fields or discarded, never placed
// in the measurement map.
var metadataKeys = map[string]bool{
	"time":     true,
	"model":    true,
	"id":       true,
	"channel":  true,
	"protocol": true,
	"brand":    true,
	"subtype":  true,
	"mic":      true, // integrity check name (CRC/CHECKSUM), not a measurement
	"mod":      true, // modulation name
}

// signalKeys are routed into Reading.Signal rather than the measurement
// map.
var signalKeys = map[string]bool{
	"rssi":  true,
	"snr":   true,
	"noise": true,
}

// Normalizer turns one raw decoder line into a validated Reading. It is
// a pure transform (plus the quality classifier call); rejection reasons
// are returned as sentinel errors, and per-field coercion problems are
// collected as warnings on the Reading instead of failing it.
type Normalizer struct {
	protocolFilter map[int]struct{}
	clock          clock.Clock
}

// NewNormalizer creates a Normalizer. A nil or empty protocolFilter
// admits every protocol. The clock supplies ingestion time when a record
// carries no parseable time field; nil defaults to the real clock.
func NewNormalizer(protocolFilter []int, clk clock.Clock) *Normalizer {
	if clk == nil {
		clk = clock.Real()
	}

	var filter map[int]struct{}
	if len(protocolFilter) > 0 {
		filter = make(map[int]struct{}, len(protocolFilter))
		for _, p := range protocolFilter {
			filter[p] = struct{}{}
		}
	}

	return &Normalizer{protocolFilter: filter, clock: clk}
}

// Normalize parses one decoder JSON line into a Reading.
//
// Returns errors.ErrMalformedJSON when the line is not a JSON object,
// errors.ErrMissingIdentity when neither model nor id is present, and
// errors.ErrFilteredOut when the record's protocol is excluded by the
// configured filter. The decoder occasionally emits protocols outside
// the -R set during startup, so the filter is enforced here as well as
// on the command line.
func (n *Normalizer) Normalize(line []byte) (*Reading, error) {
	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil || raw == nil {
		return nil, errors.ErrMalformedJSON
	}

	model, _ := raw["model"].(string)
	deviceID := formatID(raw["id"])
	if model == "" && deviceID == "" {
		return nil, errors.ErrMissingIdentity
	}

	r := &Reading{
		Model:        model,
		DeviceID:     deviceID,
		Identity:     identityFor(model, deviceID),
		Channel:      formatID(raw["channel"]),
		Measurements: make(map[string]Value),
	}

	if p, ok := asFloat(raw["protocol"]); ok {
		r.Protocol = int(p)
		if n.protocolFilter != nil {
			if _, allowed := n.protocolFilter[r.Protocol]; !allowed {
				return nil, errors.ErrFilteredOut
			}
		}
	}

	if ts, ok := raw["time"].(string); ok {
		if t, parsed := timestamp.Parse(ts); parsed {
			r.Timestamp = t
		}
	}
	if r.Timestamp.IsZero() {
		// Timestamp parsing failure falls back to ingestion time, never
		// rejects the record.
		r.Timestamp = n.clock.Now()
	}

	n.extractSignal(raw, r)
	n.extractMeasurements(raw, r)

	return r, nil
}

// extractSignal pulls the rssi/snr/noise triple out of the raw record
// and computes the quality tier.
func (n *Normalizer) extractSignal(raw map[string]any, r *Reading) {
	var sig Signal
	if v, ok := asFloat(raw["rssi"]); ok {
		sig.RSSI = &v
	}
	if v, ok := asFloat(raw["snr"]); ok {
		sig.SNR = &v
	}
	if v, ok := asFloat(raw["noise"]); ok {
		sig.Noise = &v
	}

	r.Quality = signalquality.Classify(sig.RSSI, sig.SNR, sig.Noise)
	if sig.RSSI != nil || sig.SNR != nil || sig.Noise != nil {
		r.Signal = &sig
	}
}

// extractMeasurements coerces the remaining fields into the typed
// measurement map, applying unit normalization per key. Fields that fail
// coercion are dropped individually and recorded as warnings.
func (n *Normalizer) extractMeasurements(raw map[string]any, r *Reading) {
	for key, value := range raw {
		if metadataKeys[key] || signalKeys[key] || value == nil {
			continue
		}

		// battery_ok arrives as 0/1 or bool depending on protocol.
		if key == "battery_ok" {
			if b, ok := asBool(value); ok {
				r.Measurements[key] = Bool(b)
			} else {
				r.Warnings = append(r.Warnings,
					fmt.Sprintf("%s: cannot coerce %T to bool", key, value))
			}
			continue
		}

		switch v := value.(type) {
		case bool:
			r.Measurements[key] = Bool(v)
		case float64:
			k, converted := normalizeUnit(key, v)
			r.Measurements[k] = Number(round2(converted))
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				k, converted := normalizeUnit(key, f)
				r.Measurements[k] = Number(round2(converted))
			} else {
				r.Warnings = append(r.Warnings,
					fmt.Sprintf("%s: cannot coerce %q to number", key, v))
			}
		default:
			r.Warnings = append(r.Warnings,
				fmt.Sprintf("%s: unsupported value type %T", key, value))
		}
	}
}

// identityFor derives the unique device key. At least one of the inputs
// is non-empty by the time this is called.
func identityFor(model, deviceID string) string {
	switch {
	case model == "":
		return deviceID
	case deviceID == "":
		return model
	default:
		return model + "_" + deviceID
	}
}

// formatID renders the decoder's id/channel field, which may be a JSON
// number or string, as a stable string.
func formatID(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		if id == float64(int64(id)) {
			return strconv.FormatInt(int64(id), 10)
		}
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}

// asFloat coerces JSON numbers and numeric strings to float64.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// asBool coerces booleans and 0/1 numbers.
func asBool(v any) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	default:
		return false, false
	}
}
