// Package highlight turns a bulk analysis result into a reliably
// delivered, colored, batched stream of delivery units for a single peer.
// Transformation is pure and synchronous; delivery is asynchronous and
// serialized process-wide.
package highlight

// Wire actions for host-to-peer highlight traffic
const (
	// ActionApplyHighlights carries one batch of delivery units to a peer
	ActionApplyHighlights = "APPLY_HIGHLIGHTS"
	// ActionClearHighlights asks a peer to drop all rendered highlights
	ActionClearHighlights = "CLEAR_HIGHLIGHTS"
)

// SourceLocation points at where a unit's content was found in the
// document, for downstream placement.
type SourceLocation struct {
	Section string `json:"section,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Highlight is the atomic delivery unit moved to a peer. Units are
// immutable once constructed; re-delivery builds new batches referencing
// the same ids.
type Highlight struct {
	ID            string          `json:"id"`
	CategoryID    string          `json:"categoryId"`
	CategoryLabel string          `json:"categoryLabel"`
	Content       string          `json:"content"`
	Confidence    float64         `json:"confidence"`
	Color         string          `json:"color"`
	Source        *SourceLocation `json:"sourceLocation,omitempty"`
}

// BatchInfo describes one batch's position within a delivery run
type BatchInfo struct {
	BatchNumber  int  `json:"batchNumber"`
	TotalBatches int  `json:"totalBatches"`
	IsLastBatch  bool `json:"isLastBatch"`
}

// batchRequest is the outbound payload for ActionApplyHighlights
type batchRequest struct {
	Units     []Highlight `json:"units"`
	BatchInfo BatchInfo   `json:"batchInfo"`
}

// TransformStats aggregates the transformation phase's drop accounting.
// Created + SkippedNoText + SkippedConfidence == TotalValues.
type TransformStats struct {
	TotalProperties   int `json:"total_properties"`
	TotalValues       int `json:"total_values"`
	SkippedNoText     int `json:"skipped_no_text"`
	SkippedConfidence int `json:"skipped_confidence"`
	Created           int `json:"created"`
}

// DeliveryResult is the terminal outcome of one delivery run
type DeliveryResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Status is a read-only snapshot of coordinator state
type Status struct {
	InFlight       bool `json:"in_flight"`
	CompletedUnits int  `json:"completed_units"`
	AssignedColors int  `json:"assigned_colors"`
}
