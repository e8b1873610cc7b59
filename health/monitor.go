package health

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// Monitor holds the last reported status for each named dependency of the
// gateway (broker connection, sandbox executor, metrics endpoint). Safe for
// concurrent use; callbacks write, the healthz handler reads.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{statuses: make(map[string]Status)}
}

// Update records the status for a named component, overwriting any previous
// report. The status is stamped with the component name and, if missing, the
// current time.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy records a healthy report for the component.
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy records an unhealthy report for the component.
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded records a degraded report for the component.
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the last report for a component, if one exists.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.statuses[name]
	return status, ok
}

// GetAll returns a copy of every current report keyed by component name.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.statuses)
}

// Remove drops a component from monitoring.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
}

// AggregateHealth rolls every tracked component into one system-level status.
// Sub-statuses are ordered by component name so responses are stable.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subs := slices.Collect(maps.Values(m.statuses))
	m.mu.RUnlock()

	slices.SortFunc(subs, func(a, b Status) int {
		return strings.Compare(a.Component, b.Component)
	})
	return Aggregate(systemName, subs)
}

// ListComponents returns the names of all tracked components.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Collect(maps.Keys(m.statuses))
}

// Count reports how many components are tracked.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.statuses)
}

// Clear drops every tracked component.
func (m *Monitor) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses = make(map[string]Status)
}
