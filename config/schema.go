package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// configSchema is a structural gate run on JSON config documents before
// decoding. It catches shape mistakes (wrong types, misplaced sections)
// with field-level messages that a raw json.Unmarshal error would bury.
const configSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"version": {"type": "string"},
		"platform": {
			"type": "object",
			"properties": {
				"org": {"type": "string", "minLength": 1},
				"id": {"type": "string", "minLength": 1},
				"environment": {"type": "string", "enum": ["prod", "dev", "test"]}
			},
			"required": ["org", "id"]
		},
		"nats": {
			"type": "object",
			"properties": {
				"url": {"type": "string"},
				"max_reconnects": {"type": "integer"},
				"username": {"type": "string"},
				"password": {"type": "string"},
				"token": {"type": "string"}
			}
		},
		"coordinator": {
			"type": "object",
			"properties": {
				"batch_size": {"type": "integer", "minimum": 1},
				"min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
				"palette": {
					"type": "array",
					"items": {"type": "string", "pattern": "^#[0-9A-Fa-f]{6}$"}
				}
			}
		},
		"session": {
			"type": "object",
			"properties": {
				"persist_state": {"type": "boolean"}
			}
		},
		"analysis": {
			"type": "object",
			"properties": {
				"provider": {"type": "string", "enum": ["openai", "peer"]},
				"api_key": {"type": "string"},
				"base_url": {"type": "string"},
				"model": {"type": "string"}
			}
		},
		"gateway": {
			"type": "object",
			"properties": {
				"enabled": {"type": "boolean"},
				"addr": {"type": "string"}
			}
		}
	},
	"required": ["platform"]
}`

// ValidateSchema checks a raw JSON config document against the structural
// schema and aggregates every violation into one error.
func ValidateSchema(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
