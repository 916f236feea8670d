// Package config provides configuration management for annostream.
//
// This package handles loading and validation of application configuration
// from JSON or YAML files layered with ANNOSTREAM_* environment variables.
//
// # Core Components
//
// Config: Main configuration structure containing platform identity, NATS
// connection details, and tuning for the coordinator, session store,
// analysis backend, and gateway.
//
// SafeConfig: Thread-safe wrapper using RWMutex and deep cloning to prevent
// concurrent access issues and accidental mutations.
//
// # Basic Usage
//
// Loading configuration from a file:
//
//	cfg, err := config.Load("config/annostream.json")
//	if err != nil {
//		log.Fatal(err)
//	}
//
// JSON documents are additionally checked against a structural schema so
// shape mistakes surface with field-level messages. Environment variables
// always win over file values.
package config
