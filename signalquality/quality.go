// Package signalquality classifies radio reception quality from the
// RSSI/SNR/noise triple reported by the decoder.
package signalquality

// Tier is a reception quality rating. Higher values are better.
// TierUnknown means the decoder reported no signal metrics at all and is
// deliberately distinct from TierUnusable so consumers can tell "bad
// signal" from "no signal data".
type Tier int

const (
	// TierUnknown indicates no signal metrics were reported
	TierUnknown Tier = iota
	// TierUnusable indicates reception too poor to be reliable
	TierUnusable
	// TierPoor indicates marginal reception
	TierPoor
	// TierFair indicates workable reception
	TierFair
	// TierGood indicates solid reception
	TierGood
	// TierExcellent indicates near-ideal reception
	TierExcellent
)

// String returns the lower-case name used in events and logs.
func (t Tier) String() string {
	switch t {
	case TierExcellent:
		return "excellent"
	case TierGood:
		return "good"
	case TierFair:
		return "fair"
	case TierPoor:
		return "poor"
	case TierUnusable:
		return "unusable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so tiers serialize as
// their names in JSON events.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Thresholds observed from rtl_433 -M level output. Each metric is
// bucketed independently; the overall tier is the worst bucket.
const (
	rssiExcellent = -10 // dBm
	rssiGood      = -20
	rssiFair      = -30
	rssiPoor      = -40

	snrExcellent = 30 // dB
	snrGood      = 20
	snrFair      = 10
	snrPoor      = 5

	noiseExcellent = -40 // dBm
	noiseGood      = -35
	noiseFair      = -30
	noisePoor      = -25
)

// Classify maps the signal metrics to an overall quality tier. Each
// present metric is bucketed against fixed thresholds and the overall
// tier is the worst individual bucket, so one bad metric degrades the
// rating. Nil inputs are metrics the decoder did not report; they do not
// degrade the rating, and if all three are absent the result is
// TierUnknown.
func Classify(rssi, snr, noise *float64) Tier {
	overall := TierUnknown

	consider := func(t Tier) {
		if overall == TierUnknown || t < overall {
			overall = t
		}
	}

	if rssi != nil {
		consider(classifyRSSI(*rssi))
	}
	if snr != nil {
		consider(classifySNR(*snr))
	}
	if noise != nil {
		consider(classifyNoise(*noise))
	}

	return overall
}

func classifyRSSI(v float64) Tier {
	switch {
	case v >= rssiExcellent:
		return TierExcellent
	case v >= rssiGood:
		return TierGood
	case v >= rssiFair:
		return TierFair
	case v >= rssiPoor:
		return TierPoor
	default:
		return TierUnusable
	}
}

func classifySNR(v float64) Tier {
	switch {
	case v >= snrExcellent:
		return TierExcellent
	case v >= snrGood:
		return TierGood
	case v >= snrFair:
		return TierFair
	case v >= snrPoor:
		return TierPoor
	default:
		return TierUnusable
	}
}

func classifyNoise(v float64) Tier {
	switch {
	case v <= noiseExcellent:
		return TierExcellent
	case v <= noiseGood:
		return TierGood
	case v <= noiseFair:
		return TierFair
	case v <= noisePoor:
		return TierPoor
	default:
		return TierUnusable
	}
}
