// Package analysis produces structured category-to-evidence mappings for
// document text. The host asks an Analyzer for a bulk result once per
// document; downstream transformation and delivery consume the raw JSON
// mapping without caring which backend produced it.
package analysis

import (
	"context"
	"encoding/json"
)

// Category describes one property the analyzer should extract evidence for
type Category struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Request carries one document analysis job
type Request struct {
	Text       string     `json:"text"`
	Title      string     `json:"title,omitempty"`
	Categories []Category `json:"categories,omitempty"`
}

// Analyzer produces a bulk analysis result: a JSON object mapping category
// keys to {label, values} entries. Implementations must return the mapping
// with category keys in a meaningful order since downstream rendering
// preserves it.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (json.RawMessage, error)
}
