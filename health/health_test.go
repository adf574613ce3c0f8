package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abcdqfr/rtl433-ha/component"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name       string
		subs       []Status
		wantStatus string
	}{
		{
			name:       "empty is healthy",
			subs:       nil,
			wantStatus: "healthy",
		},
		{
			name: "all healthy",
			subs: []Status{
				NewHealthy("supervisor", "running"),
				NewHealthy("coordinator", "running"),
			},
			wantStatus: "healthy",
		},
		{
			name: "one unhealthy wins",
			subs: []Status{
				NewHealthy("coordinator", "running"),
				NewUnhealthy("supervisor", "process exited"),
				NewDegraded("mqtt", "reconnecting"),
			},
			wantStatus: "unhealthy",
		},
		{
			name: "degraded without unhealthy",
			subs: []Status{
				NewHealthy("supervisor", "running"),
				NewDegraded("mqtt", "reconnecting"),
			},
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Aggregate("rtl433d", tt.subs)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Len(t, got.SubStatuses, len(tt.subs))
		})
	}
}

func TestMonitor_UpdateAndAggregate(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("supervisor", "running")
	m.UpdateHealthy("coordinator", "running")
	assert.Equal(t, 2, m.Count())

	agg := m.AggregateHealth("rtl433d")
	assert.True(t, agg.IsHealthy())

	m.UpdateUnhealthy("supervisor", "process exited")
	agg = m.AggregateHealth("rtl433d")
	assert.True(t, agg.IsUnhealthy())

	st, ok := m.Get("supervisor")
	require.True(t, ok)
	assert.Equal(t, "supervisor", st.Component)
	assert.False(t, st.Healthy)

	m.Remove("supervisor")
	assert.Equal(t, 1, m.Count())
	agg = m.AggregateHealth("rtl433d")
	assert.True(t, agg.IsHealthy())
}

func TestFromComponentHealth(t *testing.T) {
	now := time.Now()
	st := FromComponentHealth("supervisor", component.HealthStatus{
		Healthy:    false,
		LastError:  "rtl_433 exited with code 1",
		ErrorCount: 3,
		Uptime:     42 * time.Second,
		LastCheck:  now,
	})

	assert.Equal(t, "unhealthy", st.Status)
	assert.Equal(t, "rtl_433 exited with code 1", st.Message)
	require.NotNil(t, st.Metrics)
	assert.Equal(t, 3, st.Metrics.ErrorCount)
	assert.Equal(t, 42*time.Second, st.Metrics.Uptime)
}
