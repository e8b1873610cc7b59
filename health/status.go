package health

import (
	"regexp"
	"strings"
	"time"
)

// Sanitization patterns compiled once. URL patterns run before the path
// pattern because URLs contain path segments.
var (
	urlRegexes = []*regexp.Regexp{
		regexp.MustCompile(`https?://[^\s]+`),
		regexp.MustCompile(`nats://[^\s]+`),
		regexp.MustCompile(`wss?://[^\s]+`),
	}
	unixPathRegex    = regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`)
	windowsPathRegex = regexp.MustCompile(`[A-Z]:\\[^:\s]+`)
	ipAddrRegex      = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex        = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex  = regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z]*[:=][^,\s}]+`)
)

// Status is one health report for a named component. Status values are
// immutable; the With helpers return copies.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // healthy, unhealthy, or degraded
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics carries optional activity counters alongside a health report.
type Metrics struct {
	Uptime            time.Duration `json:"uptime"`
	ErrorCount        int           `json:"error_count"`
	MessagesProcessed int64         `json:"messages_processed,omitempty"`
	LastActivity      time.Time     `json:"last_activity,omitempty"`
}

// IsHealthy reports whether the status string is "healthy".
func (s Status) IsHealthy() bool { return s.Status == "healthy" }

// IsDegraded reports whether the status string is "degraded".
func (s Status) IsDegraded() bool { return s.Status == "degraded" }

// IsUnhealthy reports whether the status string is "unhealthy".
func (s Status) IsUnhealthy() bool { return s.Status == "unhealthy" }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy with one more sub-status appended. The
// sub-status slice is reallocated so copies never share backing arrays.
func (s Status) WithSubStatus(subStatus Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, subStatus)
	return s
}

// sanitizeErrorMessage strips broker URLs, file paths, IP addresses, port
// numbers, and credential-shaped fragments from an error string before it
// reaches a health response. Applied by FromError; messages written through
// the Update helpers are the caller's responsibility.
func sanitizeErrorMessage(msg string) string {
	if msg == "" {
		return ""
	}

	out := msg
	for _, re := range urlRegexes {
		out = re.ReplaceAllString(out, "[URL]")
	}
	out = unixPathRegex.ReplaceAllString(out, "[PATH]")
	out = windowsPathRegex.ReplaceAllString(out, "[PATH]")
	out = ipAddrRegex.ReplaceAllString(out, "[IP]")
	out = portRegex.ReplaceAllString(out, "[PORT]")

	lower := strings.ToLower(out)
	for _, marker := range []string{"password", "token", "key", "secret", "credential"} {
		if strings.Contains(lower, marker) {
			out = credentialRegex.ReplaceAllString(out, "[REDACTED]")
			break
		}
	}
	return out
}

// FromError builds a status from a connection or dependency error. A nil
// error reads as healthy; error text is sanitized before it can leak
// addresses or credentials into health responses.
func FromError(name string, err error) Status {
	if err == nil {
		return NewHealthy(name, "OK")
	}
	return NewUnhealthy(name, sanitizeErrorMessage(err.Error()))
}
