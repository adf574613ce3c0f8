package reading

import "math"

// unitConversion renames a measurement key and rescales its value so all
// readings are uniform regardless of the unit system the decoder was
// built or configured with. The decoder's own -C flag is a global
// process setting; normalizing per record here means a reconfigured unit
// system can never skew data already emitted.
type unitConversion struct {
	targetKey string
	convert   func(float64) float64
}

var unitConversions = map[string]unitConversion{
	// Temperatures to Celsius
	"temperature_F": {
		targetKey: "temperature_C",
		convert:   func(v float64) float64 { return (v - 32) * 5 / 9 },
	},
	// Wind speeds to m/s
	"wind_speed_kph": {
		targetKey: "wind_speed_m_s",
		convert:   func(v float64) float64 { return v / 3.6 },
	},
	"wind_avg_km_h": {
		targetKey: "wind_avg_m_s",
		convert:   func(v float64) float64 { return v / 3.6 },
	},
	"wind_max_km_h": {
		targetKey: "wind_max_m_s",
		convert:   func(v float64) float64 { return v / 3.6 },
	},
	"wind_speed_mph": {
		targetKey: "wind_speed_m_s",
		convert:   func(v float64) float64 { return v * 0.44704 },
	},
	// Pressures to millibar (1 hPa == 1 mbar)
	"pressure_kPa": {
		targetKey: "pressure_hPa",
		convert:   func(v float64) float64 { return v * 10 },
	},
	"pressure_PSI": {
		targetKey: "pressure_hPa",
		convert:   func(v float64) float64 { return v * 68.9476 },
	},
	// Rain to millimeters
	"rain_in": {
		targetKey: "rain_mm",
		convert:   func(v float64) float64 { return v * 25.4 },
	},
	"rain_rate_in_h": {
		targetKey: "rain_rate_mm_h",
		convert:   func(v float64) float64 { return v * 25.4 },
	},
}

// normalizeUnit returns the canonical key and converted value for a
// numeric measurement. Keys without a conversion pass through unchanged.
func normalizeUnit(key string, v float64) (string, float64) {
	if conv, ok := unitConversions[key]; ok {
		return conv.targetKey, conv.convert(v)
	}
	return key, v
}

// round2 rounds to two decimal places, matching the precision the rest
// of the pipeline reports.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
