package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcdqfr/rtl433-ha/pkg/clock"
	"github.com/abcdqfr/rtl433-ha/reading"
	"github.com/abcdqfr/rtl433-ha/signalquality"
)

var t0 = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestRegistry(timeout time.Duration, fc *clock.FakeClock) *Registry {
	return New(Deps{DeviceTimeout: timeout, Clock: fc})
}

func mkReading(identity string, at time.Time, quality signalquality.Tier, measurements map[string]reading.Value) *reading.Reading {
	return &reading.Reading{
		Identity:     identity,
		Model:        "Acme-Sensor",
		Timestamp:    at,
		Quality:      quality,
		Measurements: measurements,
	}
}

func TestUpsert_DiscoversNewDevice(t *testing.T) {
	fc := clock.Fake(t0)
	r := newTestRegistry(time.Hour, fc)

	ev := r.Upsert(mkReading("Acme-Sensor_42", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(19.4)}))

	assert.Equal(t, ChangeDiscovered, ev.Kind)
	assert.Equal(t, "Acme-Sensor_42", ev.Identity)
	assert.True(t, ev.NewState.Available)
	assert.Contains(t, ev.ChangedFields, "temperature_C")
	assert.Contains(t, ev.ChangedFields, "available")
	assert.Equal(t, 1, r.Len())
}

func TestUpsert_MergePreservesUnrelatedKeys(t *testing.T) {
	fc := clock.Fake(t0)
	r := newTestRegistry(time.Hour, fc)

	// Temperature at t=0, humidity (no temperature field) at t=10.
	r.Upsert(mkReading("Acme-Sensor_42", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(19.4)}))
	fc.Advance(10 * time.Second)
	r.Upsert(mkReading("Acme-Sensor_42", t0.Add(10*time.Second), signalquality.TierGood,
		map[string]reading.Value{"humidity": reading.Number(55)}))

	state, ok := r.Snapshot("Acme-Sensor_42")
	require.True(t, ok)
	assert.Equal(t, 19.4, state.Measurements["temperature_C"].Float())
	assert.Equal(t, 55.0, state.Measurements["humidity"].Float())
	assert.True(t, state.LastSeen.Equal(t0.Add(10*time.Second)))
}

func TestUpsert_MergeAssociativeOnDisjointKeys(t *testing.T) {
	mA := map[string]reading.Value{"temperature_C": reading.Number(20)}
	mB := map[string]reading.Value{"humidity": reading.Number(60)}
	other := map[string]reading.Value{"wind_speed_m_s": reading.Number(3)}

	// Apply A then B with an unrelated identity interleaved.
	fc := clock.Fake(t0)
	interleaved := newTestRegistry(time.Hour, fc)
	interleaved.Upsert(mkReading("dev_1", t0, signalquality.TierGood, mA))
	interleaved.Upsert(mkReading("dev_2", t0, signalquality.TierGood, other))
	interleaved.Upsert(mkReading("dev_1", t0, signalquality.TierGood, mB))

	// Apply A then B back to back.
	direct := newTestRegistry(time.Hour, clock.Fake(t0))
	direct.Upsert(mkReading("dev_1", t0, signalquality.TierGood, mA))
	direct.Upsert(mkReading("dev_1", t0, signalquality.TierGood, mB))

	s1, _ := interleaved.Snapshot("dev_1")
	s2, _ := direct.Snapshot("dev_1")
	assert.Equal(t, s2.Measurements, s1.Measurements)
}

func TestUpsert_OverwritesExistingKey(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))

	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(20)}))
	ev := r.Upsert(mkReading("dev_1", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(21)}))

	assert.Equal(t, ChangeUpdated, ev.Kind)
	assert.Contains(t, ev.ChangedFields, "temperature_C")
	assert.Equal(t, 21.0, ev.NewState.Measurements["temperature_C"].Float())
}

func TestUpsert_UnchangedValueNotInChangedFields(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))

	m := map[string]reading.Value{"temperature_C": reading.Number(20)}
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, m))
	ev := r.Upsert(mkReading("dev_1", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(20)}))

	assert.NotContains(t, ev.ChangedFields, "temperature_C")
	assert.Contains(t, ev.ChangedFields, "last_seen")
}

func TestUpsert_UnknownQualityKeepsLastKnownTier(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))

	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	ev := r.Upsert(mkReading("dev_1", t0, signalquality.TierUnknown, nil))

	assert.Equal(t, signalquality.TierGood, ev.NewState.Quality)
	assert.NotContains(t, ev.ChangedFields, "quality")
}

func TestSweep_TimeoutScenario(t *testing.T) {
	fc := clock.Fake(t0)
	r := newTestRegistry(60*time.Second, fc)

	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))

	// At t=60 the device is exactly at the timeout boundary: still available.
	events := r.Sweep(t0.Add(60 * time.Second))
	assert.Empty(t, events)

	// At t=61 it flips unavailable.
	events = r.Sweep(t0.Add(61 * time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, ChangeUnavailable, events[0].Kind)
	assert.Equal(t, []string{"available"}, events[0].ChangedFields)
	assert.False(t, events[0].NewState.Available)

	// A reading at t=62 flips it back and updates last_seen.
	fc.Advance(62 * time.Second)
	ev := r.Upsert(mkReading("dev_1", t0.Add(62*time.Second), signalquality.TierGood, nil))
	assert.True(t, ev.NewState.Available)
	assert.Contains(t, ev.ChangedFields, "available")
	assert.True(t, ev.NewState.LastSeen.Equal(t0.Add(62*time.Second)))
}

func TestSweep_Idempotent(t *testing.T) {
	r := newTestRegistry(60*time.Second, clock.Fake(t0))
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	r.Upsert(mkReading("dev_2", t0, signalquality.TierGood, nil))

	now := t0.Add(2 * time.Minute)
	first := r.Sweep(now)
	assert.Len(t, first, 2)

	second := r.Sweep(now)
	assert.Empty(t, second, "second sweep with the same now must emit no duplicate events")

	s, _ := r.Snapshot("dev_1")
	assert.False(t, s.Available)
}

func TestSweep_NeverMarksAvailable(t *testing.T) {
	fc := clock.Fake(t0)
	r := newTestRegistry(60*time.Second, fc)
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	r.Sweep(t0.Add(2 * time.Minute))

	// A sweep evaluated at an earlier now must not resurrect the device.
	events := r.Sweep(t0.Add(30 * time.Second))
	assert.Empty(t, events)
	s, _ := r.Snapshot("dev_1")
	assert.False(t, s.Available)
}

func TestUpsert_StaleReadingDoesNotResurrect(t *testing.T) {
	fc := clock.Fake(t0.Add(3 * time.Hour))
	r := newTestRegistry(time.Hour, fc)

	// Decoder timestamp far in the past relative to the wall clock.
	ev := r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	assert.False(t, ev.NewState.Available,
		"a reading already older than the timeout must not mark the device available")
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood,
		map[string]reading.Value{"temperature_C": reading.Number(20)}))

	snap, ok := r.Snapshot("dev_1")
	require.True(t, ok)
	snap.Measurements["temperature_C"] = reading.Number(999)

	fresh, _ := r.Snapshot("dev_1")
	assert.Equal(t, 20.0, fresh.Measurements["temperature_C"].Float(),
		"mutating a snapshot must not affect registry state")
}

func TestSnapshot_UnknownIdentity(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))
	_, ok := r.Snapshot("nope")
	assert.False(t, ok)
}

func TestAll_ReturnsEveryDevice(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	r.Upsert(mkReading("dev_2", t0, signalquality.TierFair, nil))

	all := r.All()
	assert.Len(t, all, 2)
	assert.Contains(t, all, "dev_1")
	assert.Contains(t, all, "dev_2")
}

func TestAvailableCount(t *testing.T) {
	r := newTestRegistry(60*time.Second, clock.Fake(t0))
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	r.Upsert(mkReading("dev_2", t0, signalquality.TierGood, nil))
	assert.Equal(t, 2, r.AvailableCount())

	r.Sweep(t0.Add(2 * time.Minute))
	assert.Equal(t, 0, r.AvailableCount())
	assert.Equal(t, 2, r.Len(), "unavailable devices are retained, not destroyed")
}

func TestHasPoorSignalStreak(t *testing.T) {
	fc := clock.Fake(t0)
	r := newTestRegistry(time.Hour, fc)

	for i := 0; i < 4; i++ {
		r.Upsert(mkReading("dev_1", t0, signalquality.TierPoor, nil))
	}
	s, _ := r.Snapshot("dev_1")
	assert.False(t, s.HasPoorSignalStreak(5))

	r.Upsert(mkReading("dev_1", t0, signalquality.TierUnusable, nil))
	s, _ = r.Snapshot("dev_1")
	assert.True(t, s.HasPoorSignalStreak(5))

	// A good packet breaks the streak.
	r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	s, _ = r.Snapshot("dev_1")
	assert.False(t, s.HasPoorSignalStreak(5))
}

func TestQualityHistory_Capped(t *testing.T) {
	r := newTestRegistry(time.Hour, clock.Fake(t0))
	for i := 0; i < 25; i++ {
		r.Upsert(mkReading("dev_1", t0, signalquality.TierGood, nil))
	}
	s, _ := r.Snapshot("dev_1")
	assert.Len(t, s.QualityHistory, 10)
}
