package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorMessage(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"unix path",
			"failed to open /etc/splatcast/gateway.yaml",
			"failed to open [PATH]"},
		{"windows path",
			"cannot read C:\\ProgramData\\splatcast\\gateway.yaml",
			"cannot read [PATH]"},
		{"broker url",
			"connect to nats://127.0.0.1:4222 refused",
			"connect to [URL] refused"},
		{"https url",
			"schema registry unreachable at https://registry.internal/v2/schemas",
			"schema registry unreachable at [URL]"},
		{"websocket url",
			"subscriber dropped from wss://gateway.example.com/subscribe",
			"subscriber dropped from [URL]"},
		{"bare ip",
			"timeout dialing 10.0.0.12",
			"timeout dialing [IP]"},
		{"password",
			"auth failed with password:hunter2",
			"auth failed with [REDACTED]"},
		{"token after url",
			"cannot reach https://10.1.2.3:9443/healthz with token=abc123",
			"cannot reach [URL] with [REDACTED]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sanitizeErrorMessage(tc.input))
		})
	}
}

// Port numbers are replaced too; checked separately because the
// literal appears in the expected text above.
func TestSanitizeErrorMessage_Port(t *testing.T) {
	assert.Equal(t, "listen tcp [PORT] already in use",
		sanitizeErrorMessage("listen tcp :8443 already in use"))
}

func TestWithSubStatus_SliceIsolation(t *testing.T) {
	original := Status{
		Component: "gateway",
		Status:    "healthy",
		SubStatuses: []Status{
			{Component: "nats", Status: "healthy"},
		},
	}

	modified := original.WithSubStatus(Status{
		Component: "sandbox",
		Status:    "unhealthy",
	})

	assert.Len(t, original.SubStatuses, 1)
	assert.Len(t, modified.SubStatuses, 2)
	assert.Equal(t, "sandbox", modified.SubStatuses[1].Component)

	// Mutating one copy must not bleed into the other.
	original.SubStatuses[0].Status = "degraded"
	assert.Equal(t, "healthy", modified.SubStatuses[0].Status)
}
