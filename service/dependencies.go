package service

import (
	"log/slog"

	"github.com/c360/annostream/config"
	"github.com/c360/annostream/metric"
	"github.com/c360/annostream/natsclient"
)

// Dependencies provides the standard dependencies that all services
// receive. Services share one NATS connection and one metrics registry.
type Dependencies struct {
	Config          *config.Config
	NATSClient      *natsclient.Client
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
}
