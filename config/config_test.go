package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Platform: PlatformConfig{Org: "c360", ID: "host-1"},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid minimal", func(*Config) {}, ""},
		{"missing org", func(c *Config) { c.Platform.Org = "" }, "platform.org"},
		{"missing id", func(c *Config) { c.Platform.ID = "" }, "platform.id"},
		{"bad nats url", func(c *Config) { c.NATS.URL = "http://wrong" }, "nats.url"},
		{"tls url ok", func(c *Config) { c.NATS.URL = "tls://secure:4222" }, ""},
		{"negative batch size", func(c *Config) { c.Coordinator.BatchSize = -1 }, "batch_size"},
		{"confidence out of range", func(c *Config) { c.Coordinator.MinConfidence = 1.5 }, "min_confidence"},
		{"bad palette entry", func(c *Config) { c.Coordinator.Palette = []string{"red"} }, "palette"},
		{"good palette", func(c *Config) { c.Coordinator.Palette = []string{"#FFE082"} }, ""},
		{"bad provider", func(c *Config) { c.Analysis.Provider = "magic" }, "analysis.provider"},
		{"openai without key", func(c *Config) { c.Analysis.Provider = "openai" }, "api_key"},
		{"openai with key", func(c *Config) {
			c.Analysis.Provider = "openai"
			c.Analysis.APIKey = "sk-test"
		}, ""},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := validConfig()
			test.mutate(cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), test.wantErr)
			}
		})
	}
}

func TestConfig_ValidateNormalizesOrg(t *testing.T) {
	cfg := validConfig()
	cfg.Platform.Org = "C360"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "c360", cfg.Platform.Org)
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultNATSURL, cfg.NATS.URL)
	assert.Equal(t, DefaultBatchSize, cfg.Coordinator.BatchSize)
	assert.Equal(t, DefaultHighlightDelay, cfg.Coordinator.HighlightDelay)
	assert.Equal(t, DefaultSessionMaxAge, cfg.Session.MaxAge)
	assert.Equal(t, DefaultGatewayAddr, cfg.Gateway.Addr)

	// Defaults never override explicit values
	cfg2 := validConfig()
	cfg2.Coordinator.BatchSize = 5
	cfg2.ApplyDefaults()
	assert.Equal(t, 5, cfg2.Coordinator.BatchSize)
}

func TestConfig_Clone(t *testing.T) {
	cfg := validConfig()
	cfg.Coordinator.Palette = []string{"#FFE082"}

	clone := cfg.Clone()
	clone.Platform.Org = "other"
	clone.Coordinator.Palette[0] = "#000000"

	assert.Equal(t, "c360", cfg.Platform.Org)
	assert.Equal(t, "#FFE082", cfg.Coordinator.Palette[0])
}

func TestSafeConfig(t *testing.T) {
	sc := NewSafeConfig(validConfig())

	got := sc.Get()
	assert.Equal(t, "c360", got.Platform.Org)

	// Update validates
	bad := &Config{}
	assert.Error(t, sc.Update(bad))
	assert.Error(t, sc.Update(nil))

	good := validConfig()
	good.Platform.ID = "host-2"
	require.NoError(t, sc.Update(good))
	assert.Equal(t, "host-2", sc.Get().Platform.ID)
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_JSON(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{
		"platform": {"org": "c360", "id": "host-1"},
		"coordinator": {"batch_size": 10}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "host-1", cfg.Platform.ID)
	assert.Equal(t, 10, cfg.Coordinator.BatchSize)
	// Defaults applied
	assert.Equal(t, DefaultNATSURL, cfg.NATS.URL)
}

func TestLoad_YAML(t *testing.T) {
	path := writeTempConfig(t, "config.yaml", `
platform:
  org: c360
  id: host-1
gateway:
  enabled: true
  addr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "c360", cfg.Platform.Org)
	assert.True(t, cfg.Gateway.Enabled)
	assert.Equal(t, ":9090", cfg.Gateway.Addr)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoad_SchemaViolation(t *testing.T) {
	path := writeTempConfig(t, "config.json", `{
		"platform": {"org": "c360", "id": "host-1"},
		"coordinator": {"batch_size": "twenty"}
	}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch_size")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ANNOSTREAM_NATS_URL", "nats://override:4222")
	t.Setenv("ANNOSTREAM_BATCH_SIZE", "7")
	t.Setenv("ANNOSTREAM_HIGHLIGHT_DELAY", "150ms")

	path := writeTempConfig(t, "config.json", `{
		"platform": {"org": "c360", "id": "host-1"},
		"nats": {"url": "nats://file:4222"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "nats://override:4222", cfg.NATS.URL)
	assert.Equal(t, 7, cfg.Coordinator.BatchSize)
	assert.Equal(t, 150*time.Millisecond, cfg.Coordinator.HighlightDelay)
}

func TestValidateSchema(t *testing.T) {
	assert.NoError(t, ValidateSchema([]byte(`{"platform": {"org": "c360", "id": "x"}}`)))

	err := ValidateSchema([]byte(`{"platform": {"org": "c360"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id")

	err = ValidateSchema([]byte(`{"platform": {"org": "c360", "id": "x"}, "analysis": {"provider": "magic"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider")
}
