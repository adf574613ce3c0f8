package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"unexpected exit is transient", ErrUnexpectedExit, ErrorTransient},
		{"start timeout is transient", ErrStartTimeout, ErrorTransient},
		{"connection lost is transient", ErrConnectionLost, ErrorTransient},
		{"deadline exceeded is transient", context.DeadlineExceeded, ErrorTransient},
		{"malformed json is invalid", ErrMalformedJSON, ErrorInvalid},
		{"missing identity is invalid", ErrMissingIdentity, ErrorInvalid},
		{"device not found is invalid", ErrDeviceNotFound, ErrorInvalid},
		{"device busy is invalid", ErrDeviceBusy, ErrorInvalid},
		{"permission denied is invalid", ErrPermissionDenied, ErrorInvalid},
		{"invalid config is invalid", ErrInvalidConfig, ErrorInvalid},
		{"max retries is fatal", ErrMaxRetriesExceeded, ErrorFatal},
		{"not installed is fatal", ErrProcessNotInstalled, ErrorFatal},
		{"unknown defaults to transient", stderrors.New("mystery"), ErrorTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestClassify_WrappedSentinels(t *testing.T) {
	wrapped := fmt.Errorf("starting decoder: %w", ErrDeviceBusy)
	assert.True(t, IsInvalid(wrapped))
	assert.Equal(t, ErrorInvalid, Classify(wrapped))
}

func TestWrapHelpers_Classification(t *testing.T) {
	base := stderrors.New("boom")

	tr := WrapTransient(base, "supervisor", "Start", "spawn")
	assert.True(t, IsTransient(tr))
	assert.False(t, IsInvalid(tr))

	inv := WrapInvalid(base, "config", "Validate", "gain check")
	assert.True(t, IsInvalid(inv))
	assert.False(t, IsTransient(inv))

	fat := WrapFatal(base, "coordinator", "run", "retry ceiling")
	assert.True(t, IsFatal(fat))
}

func TestWrapHelpers_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestWrap_MessageFormat(t *testing.T) {
	err := Wrap(stderrors.New("boom"), "supervisor", "Start", "spawning decoder")
	assert.Equal(t, "supervisor.Start: spawning decoder failed: boom", err.Error())
}

func TestClassifiedError_Unwrap(t *testing.T) {
	err := WrapTransient(ErrUnexpectedExit, "supervisor", "monitor", "wait")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "supervisor", ce.Component)
	assert.Equal(t, "monitor", ce.Operation)
	assert.True(t, stderrors.Is(err, ErrUnexpectedExit))
}

func TestIsTransient_MessagePatterns(t *testing.T) {
	assert.True(t, IsTransient(stderrors.New("dial tcp: i/o timeout")))
	assert.True(t, IsTransient(stderrors.New("write: broken pipe")))
	assert.False(t, IsTransient(stderrors.New("no such protocol")))
	assert.False(t, IsTransient(nil))
}
