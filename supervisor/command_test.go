package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommand_Args(t *testing.T) {
	cmd := Command{
		Device:    0,
		Frequency: "433.92M",
		Gain:      "28",
		Protocols: []int{1, 20, 73},
	}

	args := cmd.Args()
	assert.Equal(t, []string{
		"-d", "0",
		"-f", "433.92M",
		"-g", "28",
		"-F", "json",
		"-M", "level",
		"-C", "si",
		"-M", "time:iso",
		"-M", "protocol",
		"-M", "stats",
		"-v",
		"-R", "1",
		"-R", "20",
		"-R", "73",
	}, args)
}

func TestCommand_Args_AutoGainOmitted(t *testing.T) {
	for _, gain := range []string{"", "auto"} {
		args := Command{Frequency: "433.92M", Gain: gain, Protocols: []int{1}}.Args()
		assert.NotContains(t, args, "-g")
	}
}

func TestCommand_Args_DefaultProtocols(t *testing.T) {
	args := Command{Frequency: "433.92M"}.Args()

	count := 0
	for _, a := range args {
		if a == "-R" {
			count++
		}
	}
	assert.Equal(t, len(DefaultProtocols), count)
}

func TestCommand_Equal(t *testing.T) {
	base := Command{Device: 0, Frequency: "433.92M", Gain: "auto", Protocols: []int{1, 2}}

	assert.True(t, base.Equal(Command{Device: 0, Frequency: "433.92M", Gain: "auto", Protocols: []int{1, 2}}))
	assert.False(t, base.Equal(Command{Device: 1, Frequency: "433.92M", Gain: "auto", Protocols: []int{1, 2}}))
	assert.False(t, base.Equal(Command{Device: 0, Frequency: "868M", Gain: "auto", Protocols: []int{1, 2}}))
	assert.False(t, base.Equal(Command{Device: 0, Frequency: "433.92M", Gain: "auto", Protocols: []int{1, 3}}))

	// empty protocol lists compare through the default set
	assert.True(t, Command{Frequency: "433.92M"}.Equal(
		Command{Frequency: "433.92M", Protocols: DefaultProtocols}))
}

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		line      string
		wantClass stderrClass
		wantKind  FailureKind
	}{
		{"PLL not locked!", stderrBenign, ""},
		{"Detached kernel driver", stderrBenign, ""},
		{"Exact sample rate is: 250000.000414 Hz", stderrBenign, ""},
		{"usb_claim_interface error -6", stderrFault, FailureDeviceBusy},
		{"rtlsdr: Device or resource busy", stderrFault, FailureDeviceBusy},
		{"No supported devices found.", stderrFault, FailureDeviceNotFound},
		{"usb_open error -3", stderrFault, FailurePermissionDenied},
		{"Please fix the device permissions: permission denied", stderrFault, FailurePermissionDenied},
		{"registering protocol [1] Silvercrest Remote", stderrNoise, ""},
	}

	for _, tt := range tests {
		class, kind := classifyStderr(tt.line)
		assert.Equal(t, tt.wantClass, class, "line %q", tt.line)
		assert.Equal(t, tt.wantKind, kind, "line %q", tt.line)
	}
}
