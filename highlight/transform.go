package highlight

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/annostream/errors"
)

// Transformer converts a bulk analysis result into an ordered list of
// delivery units. Category order follows the input mapping's key order;
// value order within a category follows input order.
type Transformer struct {
	colors        *ColorAssigner
	minConfidence float64
	logger        *slog.Logger
	now           func() time.Time
}

// TransformerOption is a functional option for configuring the Transformer
type TransformerOption func(*Transformer)

// WithTransformMinConfidence drops value records scoring below the threshold
func WithTransformMinConfidence(min float64) TransformerOption {
	return func(t *Transformer) {
		t.minConfidence = min
	}
}

// WithTransformLogger sets a custom logger
func WithTransformLogger(logger *slog.Logger) TransformerOption {
	return func(t *Transformer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// withClock overrides the time source used for generated ids (tests)
func withClock(now func() time.Time) TransformerOption {
	return func(t *Transformer) {
		t.now = now
	}
}

// NewTransformer creates a transformer bound to a color assigner
func NewTransformer(colors *ColorAssigner, opts ...TransformerOption) *Transformer {
	t := &Transformer{
		colors: colors,
		logger: slog.Default().With("component", "highlight-transform"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Transform builds delivery units from an analysis result. The result is
// a mapping from category key to {label, values}, optionally nested one
// level under a "results" key; both shapes are accepted. Malformed
// categories and empty value records are skipped with counted statistics,
// never aborting the whole run. Only an absent or non-object top level is
// rejected outright.
func (t *Transformer) Transform(raw json.RawMessage) ([]Highlight, TransformStats, error) {
	var stats TransformStats

	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, stats, errors.WrapInvalid(errors.ErrEmptyResult, "Transformer", "Transform", "missing analysis result")
	}

	categories, err := decodeOrderedObject(raw)
	if err != nil {
		return nil, stats, errors.WrapInvalid(err, "Transformer", "Transform", "decode analysis result")
	}

	// Accept the mapping nested one level under a "results" key
	for _, field := range categories {
		if field.key != "results" {
			continue
		}
		if nested, err := decodeOrderedObject(field.raw); err == nil {
			categories = nested
		}
		break
	}

	units := make([]Highlight, 0, len(categories))
	for _, cat := range categories {
		stats.TotalProperties++
		t.transformCategory(cat.key, cat.raw, &units, &stats)
	}

	return units, stats, nil
}

// categoryPayload is the lenient shape of one category's analysis output
type categoryPayload struct {
	Property      string            `json:"property"`
	PropertyLabel string            `json:"property_label"`
	Label         string            `json:"label"`
	Values        []json.RawMessage `json:"values"`
}

func (t *Transformer) transformCategory(categoryID string, raw json.RawMessage, units *[]Highlight, stats *TransformStats) {
	var payload categoryPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.logger.Warn("Skipping malformed category", "category", categoryID, "error", err)
		return
	}
	if len(payload.Values) == 0 {
		t.logger.Debug("Skipping category without values", "category", categoryID)
		return
	}

	label := firstNonEmpty(payload.Property, payload.PropertyLabel, payload.Label, "Unknown Property")

	colorKey := categoryID
	if colorKey == "" {
		colorKey = label
	}
	color := t.colors.Assign(colorKey)

	for i, valueRaw := range payload.Values {
		stats.TotalValues++

		var record map[string]any
		if err := json.Unmarshal(valueRaw, &record); err != nil {
			stats.SkippedNoText++
			continue
		}

		content := stringField(record, "sentence", "text", "value", "content")
		if strings.TrimSpace(content) == "" {
			stats.SkippedNoText++
			continue
		}

		confidence := numberField(record, 1.0, "confidence", "score")
		if t.minConfidence > 0 && confidence < t.minConfidence {
			stats.SkippedConfidence++
			continue
		}

		id := stringField(record, "id")
		if id == "" {
			id = fmt.Sprintf("%s-%d-%d", categoryID, i, t.now().UnixMilli())
		}

		unit := Highlight{
			ID:            id,
			CategoryID:    categoryID,
			CategoryLabel: label,
			Content:       content,
			Confidence:    confidence,
			Color:         color,
		}
		if src := sourceField(record); src != nil {
			unit.Source = src
		}

		*units = append(*units, unit)
		stats.Created++
	}
}

// orderedField preserves the input order of a JSON object's entries
type orderedField struct {
	key string
	raw json.RawMessage
}

// decodeOrderedObject walks a JSON object's tokens so mapping-iteration
// order matches the input document, which downstream rendering relies on
// for deterministic layering.
func decodeOrderedObject(data []byte) ([]orderedField, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object, got %v", tok)
	}

	var fields []orderedField
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		fields = append(fields, orderedField{key: key, raw: raw})
	}

	return fields, nil
}

// stringField returns the first non-empty string among the named keys.
// Numeric values are rendered to text so bare numbers survive extraction.
func stringField(record map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := record[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return formatNumber(v)
		}
	}
	return ""
}

// numberField returns the first numeric value among the named keys
func numberField(record map[string]any, fallback float64, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := record[key].(float64); ok {
			return v
		}
	}
	return fallback
}

// sourceField extracts an optional source location from a value record
func sourceField(record map[string]any) *SourceLocation {
	section, _ := record["section"].(string)
	offset, hasOffset := record["offset"].(float64)
	if section == "" && !hasOffset {
		return nil
	}
	return &SourceLocation{Section: section, Offset: int(offset)}
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
