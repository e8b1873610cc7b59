package health

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_StateChecks(t *testing.T) {
	tests := []struct {
		status        string
		wantHealthy   bool
		wantDegraded  bool
		wantUnhealthy bool
	}{
		{status: "healthy", wantHealthy: true},
		{status: "degraded", wantDegraded: true},
		{status: "unhealthy", wantUnhealthy: true},
		{status: ""},
		{status: "HEALTHY"},
	}

	for _, tt := range tests {
		t.Run("status "+tt.status, func(t *testing.T) {
			s := Status{Status: tt.status}
			assert.Equal(t, tt.wantHealthy, s.IsHealthy())
			assert.Equal(t, tt.wantDegraded, s.IsDegraded())
			assert.Equal(t, tt.wantUnhealthy, s.IsUnhealthy())
		})
	}
}

func TestStatus_WithMetrics(t *testing.T) {
	original := NewHealthy("session-hub", "12 sessions")

	result := original.WithMetrics(&Metrics{
		Uptime:            time.Hour,
		MessagesProcessed: 4200,
	})

	assert.Nil(t, original.Metrics, "WithMetrics returns a copy")
	require.NotNil(t, result.Metrics)
	assert.Equal(t, time.Hour, result.Metrics.Uptime)
	assert.Equal(t, int64(4200), result.Metrics.MessagesProcessed)
}

func TestStatus_WithSubStatus(t *testing.T) {
	original := NewHealthy("gateway", "serving")

	result := original.WithSubStatus(NewUnhealthy("nats", "connection lost"))

	assert.Empty(t, original.SubStatuses, "WithSubStatus returns a copy")
	require.Len(t, result.SubStatuses, 1)
	assert.Equal(t, "nats", result.SubStatuses[0].Component)
	assert.True(t, result.SubStatuses[0].IsUnhealthy())
}

func TestFromError(t *testing.T) {
	t.Run("nil error is healthy", func(t *testing.T) {
		got := FromError("nats", nil)

		assert.Equal(t, "nats", got.Component)
		assert.True(t, got.IsHealthy())
		assert.False(t, got.Timestamp.IsZero())
	})

	t.Run("error is unhealthy with sanitized message", func(t *testing.T) {
		got := FromError("nats", errors.New("dial nats://10.0.0.5:4222 refused"))

		assert.True(t, got.IsUnhealthy())
		assert.NotContains(t, got.Message, "nats://", "broker URL must be sanitized out")
		assert.NotContains(t, got.Message, "10.0.0.5")
	})
}
