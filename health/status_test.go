package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstructors(t *testing.T) {
	healthy := NewHealthy("router", "ok")
	assert.True(t, healthy.Healthy)
	assert.True(t, healthy.IsHealthy())
	assert.Equal(t, "router", healthy.Component)
	assert.False(t, healthy.Timestamp.IsZero())

	degraded := NewDegraded("nats", "reconnecting")
	assert.False(t, degraded.Healthy)
	assert.True(t, degraded.IsDegraded())

	unhealthy := NewUnhealthy("store", "down")
	assert.False(t, unhealthy.Healthy)
	assert.True(t, unhealthy.IsUnhealthy())
}

func TestWithSubStatus(t *testing.T) {
	parent := NewHealthy("host", "ok")
	child := NewUnhealthy("nats", "down")

	combined := parent.WithSubStatus(child)
	assert.Len(t, combined.SubStatuses, 1)
	assert.Empty(t, parent.SubStatuses, "original must stay unchanged")
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		children []Status
		expected string
	}{
		{"no children", nil, "healthy"},
		{"all healthy", []Status{NewHealthy("a", "ok"), NewHealthy("b", "ok")}, "healthy"},
		{"one degraded", []Status{NewHealthy("a", "ok"), NewDegraded("b", "slow")}, "degraded"},
		{"one unhealthy", []Status{NewDegraded("a", "slow"), NewUnhealthy("b", "down")}, "unhealthy"},
		{"unhealthy wins over later degraded", []Status{NewUnhealthy("a", "down"), NewDegraded("b", "slow")}, "unhealthy"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			overall := Aggregate("host", test.children...)
			assert.Equal(t, test.expected, overall.Status)
			assert.Len(t, overall.SubStatuses, len(test.children))
		})
	}
}
