package natspub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcdqfr/rtl433-ha/coordinator"
	"github.com/abcdqfr/rtl433-ha/errors"
)

type stubSource struct{}

func (stubSource) Subscribe() *coordinator.Subscription { return nil }

func TestInitialize_Validation(t *testing.T) {
	missingURL := New(Deps{Source: stubSource{}})
	err := missingURL.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	missingSource := New(Deps{Options: Options{URL: "nats://localhost:4222"}})
	err = missingSource.Initialize()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	valid := New(Deps{Options: Options{URL: "nats://localhost:4222"}, Source: stubSource{}})
	assert.NoError(t, valid.Initialize())
}

func TestStop_BeforeStartIsNoop(t *testing.T) {
	p := New(Deps{Options: Options{URL: "nats://localhost:4222"}, Source: stubSource{}})
	assert.NoError(t, p.Stop(time.Second))
}

func TestSanitizeSubject(t *testing.T) {
	assert.Equal(t, "Acme-Sensor_42", sanitizeSubject("Acme-Sensor_42"))
	assert.Equal(t, "Acme_Sensor_42", sanitizeSubject("Acme.Sensor 42"))
	assert.Equal(t, "a_b_c", sanitizeSubject("a*b>c"))
}

func TestDefaults(t *testing.T) {
	p := New(Deps{Options: Options{URL: "nats://localhost:4222"}, Source: stubSource{}})
	assert.Equal(t, "rtl433.events", p.opts.SubjectPrefix)
	assert.Equal(t, "rtl433d", p.opts.Name)
	assert.Equal(t, "output", p.Meta().Type)
	assert.False(t, p.Health().Healthy)
}
