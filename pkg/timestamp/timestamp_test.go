package timestamp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_ISOWithoutZone(t *testing.T) {
	got, ok := Parse("2024-03-15T08:30:45")
	require.True(t, ok)

	want := time.Date(2024, 3, 15, 8, 30, 45, 0, time.Local)
	assert.True(t, got.Equal(want))
}

func TestParse_RFC3339(t *testing.T) {
	got, ok := Parse("2024-03-15T08:30:45Z")
	require.True(t, ok)
	assert.True(t, got.Equal(time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC)))
}

func TestParse_SpaceSeparated(t *testing.T) {
	got, ok := Parse("2024-03-15 08:30:45")
	require.True(t, ok)
	assert.Equal(t, 2024, got.Year())
	assert.Equal(t, time.March, got.Month())
}

func TestParse_UnixSeconds(t *testing.T) {
	got, ok := Parse("1710491445")
	require.True(t, ok)
	assert.Equal(t, int64(1710491445), got.Unix())

	frac, ok := Parse("1710491445.5")
	require.True(t, ok)
	assert.Equal(t, int64(1710491445), frac.Unix())
	assert.InDelta(t, 500*time.Millisecond, frac.Nanosecond(), float64(time.Millisecond))
}

func TestParse_Invalid(t *testing.T) {
	for _, s := range []string{"", "  ", "not-a-time", "2024-99-99T00:00:00", "-5"} {
		_, ok := Parse(s)
		assert.False(t, ok, "input %q should not parse", s)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "", Format(time.Time{}))

	ts := time.Date(2024, 3, 15, 8, 30, 45, 0, time.UTC)
	assert.Equal(t, "2024-03-15T08:30:45Z", Format(ts))
}
