package supervisor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/abcdqfr/rtl433-ha/errors"
)

// DefaultProtocols is the decoder protocol set used when no explicit
// protocol filter is configured. Covers the common 433 MHz weather and
// sensor families.
var DefaultProtocols = []int{
	1, 2, 3, 4, 8, 10, 11, 12, 18, 19, 20, 32, 34, 40, 41, 42,
	47, 52, 54, 55, 73, 74, 75, 76,
}

// Command describes the rtl_433 invocation the supervisor manages.
// A Supervisor runs exactly one Command for its whole lifetime; changing
// the command means building a new Supervisor.
type Command struct {
	// Path is the decoder binary, looked up on PATH when not absolute.
	Path string

	// Device is the SDR device index passed as -d.
	Device int

	// Frequency is the tuning frequency with unit suffix, e.g. "433.92M".
	Frequency string

	// Gain is the tuner gain in dB. "auto" or empty leaves gain
	// selection to the decoder.
	Gain string

	// Protocols restricts decoding to the given protocol numbers via
	// repeated -R flags. Empty means DefaultProtocols.
	Protocols []int
}

// Args builds the decoder argument list. Output is JSON lines on stdout
// with signal level, SI units, ISO timestamps, and protocol numbers.
func (c Command) Args() []string {
	args := []string{
		"-d", strconv.Itoa(c.Device),
		"-f", c.Frequency,
	}
	if c.Gain != "" && c.Gain != "auto" {
		args = append(args, "-g", c.Gain)
	}
	args = append(args,
		"-F", "json",
		"-M", "level",
		"-C", "si",
		"-M", "time:iso",
		"-M", "protocol",
		"-M", "stats",
		"-v",
	)
	for _, p := range c.EffectiveProtocols() {
		args = append(args, "-R", strconv.Itoa(p))
	}
	return args
}

// EffectiveProtocols returns the protocol set actually passed to the
// decoder: the configured filter, or DefaultProtocols when empty.
func (c Command) EffectiveProtocols() []int {
	if len(c.Protocols) > 0 {
		return c.Protocols
	}
	return DefaultProtocols
}

// Validate checks the command parameters before any process starts.
func (c Command) Validate() error {
	if c.Device < 0 {
		return errors.WrapInvalid(fmt.Errorf("negative device index %d", c.Device),
			"supervisor", "Validate", "device validation")
	}
	if c.Frequency == "" {
		return errors.WrapInvalid(fmt.Errorf("empty frequency"),
			"supervisor", "Validate", "frequency validation")
	}
	if g := c.Gain; g != "" && g != "auto" {
		n, err := strconv.Atoi(g)
		if err != nil || n < 0 || n > 50 {
			return errors.WrapInvalid(fmt.Errorf("gain %q not in 0-50 or auto", g),
				"supervisor", "Validate", "gain validation")
		}
	}
	for _, p := range c.Protocols {
		if p <= 0 {
			return errors.WrapInvalid(fmt.Errorf("invalid protocol number %d", p),
				"supervisor", "Validate", "protocol validation")
		}
	}
	return nil
}

// Equal reports whether two commands would produce the same process.
// The coordinator uses it to decide whether reconfiguration requires a
// decoder restart.
func (c Command) Equal(other Command) bool {
	if c.Path != other.Path || c.Device != other.Device ||
		c.Frequency != other.Frequency || c.Gain != other.Gain {
		return false
	}
	a, b := c.EffectiveProtocols(), other.EffectiveProtocols()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// String renders the full command line for logging.
func (c Command) String() string {
	path := c.Path
	if path == "" {
		path = defaultBinary
	}
	return fmt.Sprintf("%s %s", path, strings.Join(c.Args(), " "))
}
