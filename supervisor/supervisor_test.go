package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcdqfr/rtl433-ha/errors"
	"github.com/abcdqfr/rtl433-ha/pkg/retry"
)

// writeStub writes a shell script standing in for the decoder binary.
// The script receives the real rtl_433 argument list and ignores it.
func writeStub(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtl_433_stub")
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testDeps(path string) Deps {
	return Deps{
		Command:      Command{Path: path, Frequency: "433.92M", Protocols: []int{1}},
		StartConfirm: 100 * time.Millisecond,
		StopGrace:    time.Second,
		Restart: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Millisecond,
			MaxDelay:     20 * time.Millisecond,
			Multiplier:   2.0,
		},
	}
}

func TestSupervisor_EmitsLines(t *testing.T) {
	stub := writeStub(t, `echo '{"model":"Test","id":1,"temperature_C":21.5}'
echo '{"model":"Test","id":2}'
exec sleep 60`)

	s := New(testDeps(stub))
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	var got []string
	for len(got) < 2 {
		select {
		case line := <-s.Lines():
			got = append(got, line)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for decoder lines")
		}
	}
	assert.Contains(t, got[0], `"model":"Test"`)

	assert.Eventually(t, func() bool {
		return s.State() == ProcRunning
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Health().Healthy)

	require.NoError(t, s.Stop(5*time.Second))
	assert.Equal(t, ProcStopped, s.State())

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("run loop did not exit after Stop")
	}

	// line channel closes on permanent stop
	assert.Eventually(t, func() bool {
		_, open := <-s.Lines()
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestSupervisor_RestartCeiling(t *testing.T) {
	stub := writeStub(t, "exit 1")

	s := New(testDeps(stub))
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not give up at the retry ceiling")
	}

	assert.Equal(t, ProcFailed, s.State())
	err := s.TerminalErr()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMaxRetriesExceeded))
	assert.True(t, errors.IsFatal(err))

	// failure stream saw the unexpected exits before the terminal error
	var kinds []FailureKind
	for {
		select {
		case f := <-s.Failures():
			kinds = append(kinds, f.Kind)
			continue
		default:
		}
		break
	}
	require.NotEmpty(t, kinds)
	assert.Equal(t, FailureUnexpectedExit, kinds[0])
	assert.Equal(t, FailureMaxRetries, kinds[len(kinds)-1])
}

func TestSupervisor_StderrFaultIsTerminal(t *testing.T) {
	stub := writeStub(t, `echo 'usb_claim_interface error -6' >&2
exec sleep 60`)

	s := New(testDeps(stub))
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("supervisor did not fail on device-busy stderr")
	}

	assert.Equal(t, ProcFailed, s.State())
	err := s.TerminalErr()
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDeviceBusy))
	assert.True(t, errors.IsInvalid(err))
}

func TestSupervisor_MissingBinary(t *testing.T) {
	deps := testDeps("/nonexistent/rtl_433_missing")
	s := New(deps)
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(context.Background()))

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not fail for a missing binary")
	}

	assert.Equal(t, ProcFailed, s.State())
	assert.True(t, errors.Is(s.TerminalErr(), errors.ErrProcessNotInstalled))
}

func TestSupervisor_StopIdempotent(t *testing.T) {
	stub := writeStub(t, "exec sleep 60")

	s := New(testDeps(stub))
	require.NoError(t, s.Initialize())

	// stop before start is a no-op
	require.NoError(t, s.Stop(time.Second))

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(5*time.Second))
	require.NoError(t, s.Stop(time.Second))

	// single-use: a stopped supervisor will not start again
	err := s.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAlreadyStopped))
}

func TestSupervisor_InitializeValidation(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
	}{
		{"negative device", Command{Device: -1, Frequency: "433.92M"}},
		{"empty frequency", Command{Device: 0}},
		{"gain out of range", Command{Frequency: "433.92M", Gain: "99"}},
		{"gain not a number", Command{Frequency: "433.92M", Gain: "loud"}},
		{"invalid protocol", Command{Frequency: "433.92M", Protocols: []int{0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Deps{Command: tt.cmd})
			err := s.Initialize()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestSupervisor_ContextCancelStops(t *testing.T) {
	stub := writeStub(t, "exec sleep 60")

	ctx, cancel := context.WithCancel(context.Background())
	s := New(testDeps(stub))
	require.NoError(t, s.Initialize())
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool {
		return s.State() == ProcStarting || s.State() == ProcRunning
	}, 2*time.Second, 10*time.Millisecond)

	cancel()

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit on context cancellation")
	}
	assert.Equal(t, ProcStopped, s.State())
}
