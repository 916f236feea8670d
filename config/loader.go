package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads, defaults, and validates a configuration file. The format is
// chosen by extension: .yaml/.yml use YAML, everything else uses JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw config bytes. ext selects the decoder; ".yaml" and
// ".yml" use YAML, anything else is treated as JSON.
func Parse(data []byte, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		if err := ValidateSchema(data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	}
	return &cfg, nil
}

// applyEnvOverrides layers ANNOSTREAM_* environment variables over file
// values. Environment always wins so deployments can override without
// editing the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ANNOSTREAM_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("ANNOSTREAM_NATS_TOKEN"); v != "" {
		c.NATS.Token = v
	}
	if v := os.Getenv("ANNOSTREAM_PLATFORM_ORG"); v != "" {
		c.Platform.Org = v
	}
	if v := os.Getenv("ANNOSTREAM_PLATFORM_ID"); v != "" {
		c.Platform.ID = v
	}
	if v := os.Getenv("ANNOSTREAM_ENVIRONMENT"); v != "" {
		c.Platform.Environment = v
	}
	if v := os.Getenv("ANNOSTREAM_OPENAI_API_KEY"); v != "" {
		c.Analysis.APIKey = v
	}
	if v := os.Getenv("ANNOSTREAM_GATEWAY_ADDR"); v != "" {
		c.Gateway.Addr = v
	}
	if v := os.Getenv("ANNOSTREAM_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Coordinator.BatchSize = n
		}
	}
	if v := os.Getenv("ANNOSTREAM_HIGHLIGHT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Coordinator.HighlightDelay = d
		}
	}
}
