package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_UpdateStampsNameAndTime(t *testing.T) {
	m := NewMonitor()

	m.Update("nats", Status{
		Component: "something-else",
		Status:    "healthy",
		Healthy:   true,
		Message:   "connected",
	})

	got, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", got.Component, "Update overrides the component name with the key")
	assert.True(t, got.IsHealthy())
	assert.False(t, got.Timestamp.IsZero(), "Update stamps a missing timestamp")
}

func TestMonitor_ConvenienceUpdates(t *testing.T) {
	m := NewMonitor()

	m.UpdateHealthy("nats", "connected")
	m.UpdateDegraded("sandbox", "queue saturated")
	m.UpdateUnhealthy("metrics", "listener closed")

	nats, ok := m.Get("nats")
	require.True(t, ok)
	assert.True(t, nats.IsHealthy())
	assert.Equal(t, "connected", nats.Message)

	sandbox, ok := m.Get("sandbox")
	require.True(t, ok)
	assert.True(t, sandbox.IsDegraded())

	metrics, ok := m.Get("metrics")
	require.True(t, ok)
	assert.True(t, metrics.IsUnhealthy())
}

func TestMonitor_GetMissing(t *testing.T) {
	m := NewMonitor()

	_, ok := m.Get("nats")
	assert.False(t, ok)
}

func TestMonitor_GetAllReturnsCopy(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")
	m.UpdateHealthy("sandbox", "4 workers idle")

	all := m.GetAll()
	require.Len(t, all, 2)

	all["nats"] = Status{Component: "mutated"}
	original, ok := m.Get("nats")
	require.True(t, ok)
	assert.Equal(t, "nats", original.Component, "mutating the returned map must not touch the monitor")
}

func TestMonitor_RemoveAndCount(t *testing.T) {
	m := NewMonitor()

	m.Remove("never-registered")
	assert.Equal(t, 0, m.Count())

	m.UpdateHealthy("nats", "connected")
	m.UpdateHealthy("sandbox", "idle")
	assert.Equal(t, 2, m.Count())

	m.Remove("nats")
	assert.Equal(t, 1, m.Count())
	_, ok := m.Get("nats")
	assert.False(t, ok)
}

func TestMonitor_AggregateHealth(t *testing.T) {
	m := NewMonitor()

	agg := m.AggregateHealth("gateway")
	assert.True(t, agg.IsHealthy(), "no tracked components reads as healthy")
	assert.Equal(t, "gateway", agg.Component)

	m.UpdateHealthy("nats", "connected")
	m.UpdateHealthy("sandbox", "idle")
	agg = m.AggregateHealth("gateway")
	assert.True(t, agg.IsHealthy())

	m.UpdateUnhealthy("nats", "connection lost")
	agg = m.AggregateHealth("gateway")
	assert.True(t, agg.IsUnhealthy(), "any unhealthy dependency makes the system unhealthy")

	m.UpdateHealthy("nats", "reconnected")
	m.UpdateDegraded("sandbox", "queue saturated")
	agg = m.AggregateHealth("gateway")
	assert.True(t, agg.IsDegraded(), "degraded without unhealthy reads as degraded")
}

func TestMonitor_AggregateHealthOrdersSubStatuses(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("sandbox", "idle")
	m.UpdateHealthy("metrics", "serving")
	m.UpdateHealthy("nats", "connected")

	agg := m.AggregateHealth("gateway")
	require.Len(t, agg.SubStatuses, 3)
	assert.Equal(t, "metrics", agg.SubStatuses[0].Component)
	assert.Equal(t, "nats", agg.SubStatuses[1].Component)
	assert.Equal(t, "sandbox", agg.SubStatuses[2].Component)
}

func TestMonitor_ListComponents(t *testing.T) {
	m := NewMonitor()
	assert.Empty(t, m.ListComponents())

	m.UpdateHealthy("nats", "connected")
	m.UpdateUnhealthy("metrics", "down")

	assert.ElementsMatch(t, []string{"nats", "metrics"}, m.ListComponents())
}

func TestMonitor_Clear(t *testing.T) {
	m := NewMonitor()
	m.UpdateHealthy("nats", "connected")
	m.UpdateDegraded("sandbox", "slow")
	require.Equal(t, 2, m.Count())

	m.Clear()

	assert.Equal(t, 0, m.Count())
	assert.Empty(t, m.GetAll())
}

func TestMonitor_ConcurrentAccess(t *testing.T) {
	m := NewMonitor()
	const goroutines = 10
	const opsEach = 100

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsEach; j++ {
				switch j % 4 {
				case 0:
					m.UpdateHealthy("nats", "connected")
				case 1:
					m.UpdateUnhealthy("nats", "connection lost")
				case 2:
					_, _ = m.Get("nats")
				case 3:
					_ = m.GetAll()
				}
			}
		}()
	}
	wg.Wait()

	m.UpdateHealthy("gateway", "serving")
	status, ok := m.Get("gateway")
	require.True(t, ok)
	assert.Equal(t, "gateway", status.Component)
}

func TestMonitor_AggregateWhileMutating(t *testing.T) {
	m := NewMonitor()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_ = m.AggregateHealth("gateway")
			time.Sleep(time.Microsecond)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				m.UpdateHealthy("nats", "connected")
			} else {
				m.Remove("nats")
			}
			time.Sleep(time.Microsecond)
		}
	}()
	wg.Wait()

	agg := m.AggregateHealth("gateway")
	assert.Equal(t, "gateway", agg.Component)
}
