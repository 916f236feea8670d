package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Defaults applied by ApplyDefaults when fields are unset
const (
	DefaultNATSURL        = "nats://localhost:4222"
	DefaultBatchSize      = 20
	DefaultHighlightDelay = 300 * time.Millisecond
	DefaultSessionMaxAge  = 24 * time.Hour
	DefaultReapInterval   = time.Hour
	DefaultGatewayAddr    = ":8080"
)

// Config represents the complete application configuration
type Config struct {
	Version     string            `json:"version" yaml:"version"`
	Platform    PlatformConfig    `json:"platform" yaml:"platform"`
	NATS        NATSConfig        `json:"nats" yaml:"nats"`
	Coordinator CoordinatorConfig `json:"coordinator" yaml:"coordinator"`
	Session     SessionConfig     `json:"session" yaml:"session"`
	Analysis    AnalysisConfig    `json:"analysis" yaml:"analysis"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
}

// PlatformConfig defines platform identity
type PlatformConfig struct {
	Org         string `json:"org" yaml:"org"`
	ID          string `json:"id" yaml:"id"`
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URL           string        `json:"url,omitempty" yaml:"url,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// CoordinatorConfig tunes the highlight delivery pipeline
type CoordinatorConfig struct {
	BatchSize      int           `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	HighlightDelay time.Duration `json:"highlight_delay,omitempty" yaml:"highlight_delay,omitempty"`
	MinConfidence  float64       `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	Palette        []string      `json:"palette,omitempty" yaml:"palette,omitempty"`
}

// SessionConfig tunes per-peer session lifecycle
type SessionConfig struct {
	MaxAge       time.Duration `json:"max_age,omitempty" yaml:"max_age,omitempty"`
	ReapInterval time.Duration `json:"reap_interval,omitempty" yaml:"reap_interval,omitempty"`
	PersistState bool          `json:"persist_state" yaml:"persist_state"`
}

// AnalysisConfig configures the document analysis backend
type AnalysisConfig struct {
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"` // "openai" or "peer"
	APIKey   string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Model    string `json:"model,omitempty" yaml:"model,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket gateway
type GatewayConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically updates the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// ApplyDefaults fills unset fields with sensible defaults
func (c *Config) ApplyDefaults() {
	if c.NATS.URL == "" {
		c.NATS.URL = DefaultNATSURL
	}
	if c.Coordinator.BatchSize == 0 {
		c.Coordinator.BatchSize = DefaultBatchSize
	}
	if c.Coordinator.HighlightDelay == 0 {
		c.Coordinator.HighlightDelay = DefaultHighlightDelay
	}
	if c.Session.MaxAge == 0 {
		c.Session.MaxAge = DefaultSessionMaxAge
	}
	if c.Session.ReapInterval == 0 {
		c.Session.ReapInterval = DefaultReapInterval
	}
	if c.Gateway.Addr == "" {
		c.Gateway.Addr = DefaultGatewayAddr
	}
}

// Validate checks if the config is valid
func (c *Config) Validate() error {
	if c.Platform.Org == "" {
		return errors.New("platform.org is required")
	}
	c.Platform.Org = strings.ToLower(c.Platform.Org)

	if c.Platform.ID == "" {
		return errors.New("platform.id is required")
	}

	if c.NATS.URL != "" && !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("nats.url must start with nats:// or tls://, got %q", c.NATS.URL)
	}

	if c.Coordinator.BatchSize < 0 {
		return errors.New("coordinator.batch_size cannot be negative")
	}
	if c.Coordinator.MinConfidence < 0 || c.Coordinator.MinConfidence > 1 {
		return fmt.Errorf("coordinator.min_confidence must be within [0, 1], got %v", c.Coordinator.MinConfidence)
	}
	for i, color := range c.Coordinator.Palette {
		if !strings.HasPrefix(color, "#") || len(color) != 7 {
			return fmt.Errorf("coordinator.palette[%d]: %q is not a #RRGGBB color", i, color)
		}
	}

	if c.Session.MaxAge < 0 {
		return errors.New("session.max_age cannot be negative")
	}

	switch c.Analysis.Provider {
	case "", "openai", "peer":
	default:
		return fmt.Errorf("analysis.provider must be \"openai\" or \"peer\", got %q", c.Analysis.Provider)
	}
	if c.Analysis.Provider == "openai" && c.Analysis.APIKey == "" {
		return errors.New("analysis.api_key is required when analysis.provider is openai")
	}

	return nil
}
