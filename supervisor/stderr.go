package supervisor

import "strings"

// stderrClass buckets decoder stderr lines for logging and metrics.
type stderrClass string

const (
	stderrBenign stderrClass = "benign"
	stderrFault  stderrClass = "fault"
	stderrNoise  stderrClass = "other"
)

// benignPatterns are known-harmless hardware warnings the RTL-SDR stack
// prints during normal operation. Logged at debug, never counted as
// failures.
var benignPatterns = []string{
	"pll not locked",
	"detached kernel driver",
	"reattached kernel driver",
	"exact sample rate",
	"sample rate set",
	"tuner gain set",
	"tuned to",
	"using device",
	"found rafael micro",
	"found fitipower",
	"found elonics",
}

// faultPatterns map stderr substrings to the failure they indicate.
// Order matters: first match wins.
var faultPatterns = []struct {
	substr string
	kind   FailureKind
}{
	{"usb_claim_interface error", FailureDeviceBusy},
	{"device or resource busy", FailureDeviceBusy},
	{"no supported devices found", FailureDeviceNotFound},
	{"no device matching", FailureDeviceNotFound},
	{"usb_open error -3", FailurePermissionDenied},
	{"insufficient permissions", FailurePermissionDenied},
	{"permission denied", FailurePermissionDenied},
}

// classifyStderr buckets one stderr line. The returned kind is only
// meaningful for stderrFault.
func classifyStderr(line string) (stderrClass, FailureKind) {
	lower := strings.ToLower(line)

	for _, fp := range faultPatterns {
		if strings.Contains(lower, fp.substr) {
			return stderrFault, fp.kind
		}
	}
	for _, p := range benignPatterns {
		if strings.Contains(lower, p) {
			return stderrBenign, ""
		}
	}
	return stderrNoise, ""
}
