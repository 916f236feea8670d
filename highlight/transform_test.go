package highlight

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/annostream/errors"
)

func newTestTransformer(opts ...TransformerOption) *Transformer {
	return NewTransformer(NewColorAssigner(nil), opts...)
}

func TestTransform_SingleCategory(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"P1": {
			"property": "Method",
			"values": [{"sentence": "We used X.", "confidence": 0.9}]
		}
	}`)

	units, stats, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 1)

	unit := units[0]
	assert.Equal(t, "P1", unit.CategoryID)
	assert.Equal(t, "Method", unit.CategoryLabel)
	assert.Equal(t, "We used X.", unit.Content)
	assert.Equal(t, 0.9, unit.Confidence)
	assert.Equal(t, DefaultPalette[0], unit.Color)
	assert.NotEmpty(t, unit.ID)

	assert.Equal(t, 1, stats.TotalProperties)
	assert.Equal(t, 1, stats.TotalValues)
	assert.Equal(t, 1, stats.Created)
}

func TestTransform_EmptyObjectYieldsNoUnits(t *testing.T) {
	tr := newTestTransformer()

	units, stats, err := tr.Transform(json.RawMessage(`{}`))
	require.NoError(t, err)
	assert.Empty(t, units)
	assert.Equal(t, 0, stats.TotalProperties)
}

func TestTransform_MissingResultRejected(t *testing.T) {
	tr := newTestTransformer()

	for _, raw := range []json.RawMessage{nil, json.RawMessage(""), json.RawMessage("null")} {
		_, _, err := tr.Transform(raw)
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrEmptyResult)
	}
}

func TestTransform_NonObjectRejected(t *testing.T) {
	tr := newTestTransformer()
	_, _, err := tr.Transform(json.RawMessage(`[1,2,3]`))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestTransform_ResultsNestingAccepted(t *testing.T) {
	tr := newTestTransformer()

	nested := json.RawMessage(`{
		"results": {
			"P1": {"property": "Method", "values": [{"sentence": "Evidence."}]}
		}
	}`)

	units, _, err := tr.Transform(nested)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "P1", units[0].CategoryID)
}

func TestTransform_PreservesCategoryOrder(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"zeta":  {"property": "Z", "values": [{"sentence": "z"}]},
		"alpha": {"property": "A", "values": [{"sentence": "a"}]},
		"mid":   {"property": "M", "values": [{"sentence": "m1"}, {"sentence": "m2"}]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 4)

	// Category order follows the document, values keep their input order
	assert.Equal(t, "zeta", units[0].CategoryID)
	assert.Equal(t, "alpha", units[1].CategoryID)
	assert.Equal(t, "mid", units[2].CategoryID)
	assert.Equal(t, "m1", units[2].Content)
	assert.Equal(t, "m2", units[3].Content)
}

func TestTransform_LabelFallbackOrder(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"property wins", `{"property": "P", "property_label": "PL", "label": "L", "values": [{"sentence": "s"}]}`, "P"},
		{"property_label second", `{"property_label": "PL", "label": "L", "values": [{"sentence": "s"}]}`, "PL"},
		{"label third", `{"label": "L", "values": [{"sentence": "s"}]}`, "L"},
		{"unknown fallback", `{"values": [{"sentence": "s"}]}`, "Unknown Property"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			tr := newTestTransformer()
			units, _, err := tr.Transform(json.RawMessage(`{"cat": ` + test.raw + `}`))
			require.NoError(t, err)
			require.Len(t, units, 1)
			assert.Equal(t, test.want, units[0].CategoryLabel)
		})
	}
}

func TestTransform_ContentFieldFallbacks(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [
			{"text": "from text"},
			{"value": "from value"},
			{"content": "from content"},
			{"value": 42}
		]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 4)
	assert.Equal(t, "from text", units[0].Content)
	assert.Equal(t, "from value", units[1].Content)
	assert.Equal(t, "from content", units[2].Content)
	assert.Equal(t, "42", units[3].Content)
}

func TestTransform_DropAccounting(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"good": {"property": "P", "values": [
			{"sentence": "keep me"},
			{"sentence": ""},
			{"nothing": true},
			"not an object"
		]},
		"noValues": {"property": "Q", "values": []},
		"malformed": "not a category object"
	}`)

	units, stats, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 1)

	assert.Equal(t, 3, stats.TotalProperties)
	assert.Equal(t, 4, stats.TotalValues)
	assert.Equal(t, 3, stats.SkippedNoText)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, stats.TotalValues, stats.Created+stats.SkippedNoText+stats.SkippedConfidence)
}

func TestTransform_ConfidenceThreshold(t *testing.T) {
	tr := newTestTransformer(WithTransformMinConfidence(0.5))

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [
			{"sentence": "high", "confidence": 0.9},
			{"sentence": "low", "confidence": 0.2},
			{"sentence": "no score"}
		]}
	}`)

	units, stats, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "high", units[0].Content)
	assert.Equal(t, "no score", units[1].Content)
	assert.Equal(t, 1.0, units[1].Confidence)
	assert.Equal(t, 1, stats.SkippedConfidence)
}

func TestTransform_SameCategorySameColor(t *testing.T) {
	colors := NewColorAssigner(nil)
	tr := NewTransformer(colors)

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [{"sentence": "a"}, {"sentence": "b"}]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, units[0].Color, units[1].Color)

	// A second run over the same assigner keeps the binding
	again, _, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, units[0].Color, again[0].Color)
}

func TestTransform_ExplicitIDPreserved(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [{"id": "custom-7", "sentence": "s"}]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, "custom-7", units[0].ID)
}

func TestTransform_GeneratedIDs(t *testing.T) {
	fixed := time.UnixMilli(1700000000000)
	tr := newTestTransformer(withClock(func() time.Time { return fixed }))

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [{"sentence": "a"}, {"sentence": "b"}]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, "c-0-1700000000000", units[0].ID)
	assert.Equal(t, "c-1-1700000000000", units[1].ID)
}

func TestTransform_SourceLocation(t *testing.T) {
	tr := newTestTransformer()

	raw := json.RawMessage(`{
		"c": {"property": "P", "values": [
			{"sentence": "with source", "section": "abstract", "offset": 128},
			{"sentence": "without source"}
		]}
	}`)

	units, _, err := tr.Transform(raw)
	require.NoError(t, err)
	require.Len(t, units, 2)

	require.NotNil(t, units[0].Source)
	assert.Equal(t, "abstract", units[0].Source.Section)
	assert.Equal(t, 128, units[0].Source.Offset)
	assert.Nil(t, units[1].Source)
}

func TestDecodeOrderedObject(t *testing.T) {
	fields, err := decodeOrderedObject([]byte(`{"b": 1, "a": 2, "c": 3}`))
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, "b", fields[0].key)
	assert.Equal(t, "a", fields[1].key)
	assert.Equal(t, "c", fields[2].key)

	_, err = decodeOrderedObject([]byte(`[1,2]`))
	assert.Error(t, err)
}
