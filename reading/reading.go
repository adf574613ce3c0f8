// Package reading defines the normalized telemetry record produced from
// one decoder JSON line, and the normalizer that validates and converts
// raw lines into it.
package reading

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/abcdqfr/rtl433-ha/signalquality"
)

// ValueKind discriminates the type a measurement value carries.
type ValueKind int

const (
	// KindNumber is a float64 measurement (temperature, humidity, ...)
	KindNumber ValueKind = iota
	// KindBool is a boolean measurement (battery_ok, ...)
	KindBool
)

// Value is one measurement value. The measurement map is open-ended
// (rtl_433 supports 200+ protocols with non-overlapping fields), but
// each value still carries a known numeric or boolean type at the point
// of use.
type Value struct {
	kind ValueKind
	num  float64
	b    bool
}

// Number creates a numeric measurement value.
func Number(v float64) Value { return Value{kind: KindNumber, num: v} }

// Bool creates a boolean measurement value.
func Bool(v bool) Value { return Value{kind: KindBool, b: v} }

// Kind returns the type this value carries.
func (v Value) Kind() ValueKind { return v.kind }

// Float returns the numeric value; zero for booleans.
func (v Value) Float() float64 { return v.num }

// Bool returns the boolean value; false for numbers.
func (v Value) Bool() bool { return v.b }

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool { return v == o }

// MarshalJSON renders the value as a bare number or boolean.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindBool {
		return json.Marshal(v.b)
	}
	return json.Marshal(v.num)
}

// String implements fmt.Stringer for logs.
func (v Value) String() string {
	if v.kind == KindBool {
		return fmt.Sprintf("%t", v.b)
	}
	return fmt.Sprintf("%g", v.num)
}

// Signal is the optional RSSI/SNR/noise triple (dBm/dB) the decoder
// attaches when launched with -M level.
type Signal struct {
	RSSI  *float64 `json:"rssi,omitempty"`
	SNR   *float64 `json:"snr,omitempty"`
	Noise *float64 `json:"noise,omitempty"`
}

// Reading is one decoded telemetry event, normalized: identity derived,
// units converted to SI (Celsius, m/s, millibar), values coerced to
// their typed form.
type Reading struct {
	Protocol int    `json:"protocol,omitempty"`
	Model    string `json:"model,omitempty"`
	Channel  string `json:"channel,omitempty"`
	DeviceID string `json:"device_id,omitempty"`

	// Identity is "{model}_{device_id}", the unique key for a physical
	// device as far as the decoder can distinguish. Always non-empty.
	Identity string `json:"identity"`

	// Timestamp is the decoder-reported decode time, or ingestion time
	// when the record carried no parseable time field.
	Timestamp time.Time `json:"timestamp"`

	Measurements map[string]Value `json:"measurements"`

	Signal  *Signal            `json:"signal,omitempty"`
	Quality signalquality.Tier `json:"quality"`

	// Warnings records per-field coercion failures. The offending fields
	// are dropped individually; one bad field never rejects the record.
	Warnings []string `json:"-"`
}
