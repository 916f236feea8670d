// Package health provides health status reporting for annostream services
package health

import (
	"time"
)

// Status represents the health state of a service or subsystem
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"` // "healthy", "unhealthy", "degraded"
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
}

// NewHealthy builds a healthy status
func NewHealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   true,
		Status:    "healthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewDegraded builds a degraded status
func NewDegraded(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "degraded",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewUnhealthy builds an unhealthy status
func NewUnhealthy(component, message string) Status {
	return Status{
		Component: component,
		Healthy:   false,
		Status:    "unhealthy",
		Message:   message,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool {
	return s.Status == "healthy"
}

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool {
	return s.Status == "degraded"
}

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool {
	return s.Status == "unhealthy"
}

// WithSubStatus adds a sub-status and returns a copy
func (s Status) WithSubStatus(subStatus Status) Status {
	newSubStatuses := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(newSubStatuses, s.SubStatuses)
	s.SubStatuses = append(newSubStatuses, subStatus)
	return s
}

// Aggregate folds sub-statuses into one overall status: any unhealthy
// child makes the whole unhealthy, any degraded child degrades it.
func Aggregate(component string, children ...Status) Status {
	overall := NewHealthy(component, "All subsystems operating normally")
	for _, child := range children {
		overall = overall.WithSubStatus(child)
		switch {
		case child.IsUnhealthy():
			overall.Healthy = false
			overall.Status = "unhealthy"
			overall.Message = child.Component + ": " + child.Message
		case child.IsDegraded() && overall.IsHealthy():
			overall.Healthy = false
			overall.Status = "degraded"
			overall.Message = child.Component + ": " + child.Message
		}
	}
	return overall
}
