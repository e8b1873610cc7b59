package health

import "time"

// NewHealthy builds a healthy status stamped with the current time.
func NewHealthy(component, message string) Status {
	return newStatus(component, true, "healthy", message)
}

// NewUnhealthy builds an unhealthy status stamped with the current time.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, false, "unhealthy", message)
}

// NewDegraded builds a degraded status. Degraded reads as not healthy but
// is distinguished from unhealthy during aggregation.
func NewDegraded(component, message string) Status {
	return newStatus(component, false, "degraded", message)
}

func newStatus(component string, healthy bool, status, message string) Status {
	return Status{
		Component: component,
		Healthy:   healthy,
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls a set of sub-statuses into one parent status. Any
// unhealthy sub-status makes the parent unhealthy; otherwise any degraded
// sub-status makes it degraded; otherwise the parent is healthy. The
// sub-statuses are copied onto the result so callers can inspect them.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	unhealthy := 0
	degraded := 0
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var agg Status
	switch {
	case unhealthy > 0:
		agg = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case degraded > 0:
		agg = NewDegraded(component, "One or more sub-components are degraded")
	default:
		agg = NewHealthy(component, "All sub-components are healthy")
	}

	agg.SubStatuses = make([]Status, len(subStatuses))
	copy(agg.SubStatuses, subStatuses)
	return agg
}
