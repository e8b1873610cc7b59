// Package health tracks the health of the gateway's dependencies and rolls
// them into one system-level status for the healthz endpoint.
//
// # Model
//
// A component is in one of three states: healthy, degraded (running with
// reduced capacity), or unhealthy. Degraded exists so a saturated worker
// queue or a lagging consumer can be reported without failing readiness.
//
// Status is a value type; the With helpers return copies, so a Status can be
// handed to a JSON encoder without locking. Monitor is the mutable piece: it
// keeps the last report per component name behind an RWMutex.
//
// # Usage
//
//	monitor := health.NewMonitor()
//	monitor.UpdateHealthy("nats", "connected")
//	monitor.UpdateDegraded("sandbox", "queue saturated")
//
//	agg := monitor.AggregateHealth("gateway")
//	if agg.IsUnhealthy() {
//	    // serve 503 from healthz
//	}
//
// Aggregation is worst-case: any unhealthy component marks the system
// unhealthy, otherwise any degraded component marks it degraded. Sub-statuses
// are carried on the aggregate so the healthz response can show which
// dependency is at fault.
//
// # Feeding the monitor
//
// The broker client reports through its health-change and disconnect
// callbacks. FromError converts a dependency error directly:
//
//	monitor.Update("nats", health.FromError("nats", err))
//
// FromError sanitizes the error text before it can reach a health response:
// URLs become [URL], file paths [PATH], IP addresses [IP], port suffixes
// [PORT], and credential-shaped fragments [REDACTED]. Messages written
// through UpdateHealthy and friends are not sanitized; those strings are
// authored by this codebase, not derived from errors.
//
// The package returns no errors of its own. It is the destination of error
// handling, not a participant in it.
package health
