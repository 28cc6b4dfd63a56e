// Package textview builds the deterministic TextView hash over a sample's
// raw metadata, per spec.md §4.10's "deterministic TextView hash over the
// selected-priority fields present in the raw metadata" and
// original_source/src/geo_cleaner/textview.py's build_textview (the
// authoritative definition; pipeline.py's inline duplicate in the original
// is unused and was not ported).
package textview

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/nucleus/geo-linker/internal/stablejson"
)

// SelectedField is one field that survived truncation and inclusion into a
// TextView, in field_priority order.
type SelectedField struct {
	FieldKey string `json:"field_key"`
	Text     string `json:"text"`
}

// TextView is the deterministic per-sample text summary: the ordered list
// of fields selected per textview.field_priority, their concatenation, and
// a content hash of the selected-field list.
type TextView struct {
	FieldsSelected   []SelectedField `json:"fields_selected"`
	ConcatenatedText string          `json:"concatenated_text"`
	Hash             string          `json:"hash"`
}

// Build iterates fieldPriority in order, skips fields absent or empty in
// rawFields, truncates each included field's text to maxFieldChars, and
// hashes the resulting ordered SelectedField list (SHA-256 of its
// canonical JSON).
func Build(rawFields map[string]string, fieldPriority []string, maxFieldChars int) (TextView, error) {
	var selected []SelectedField
	for _, field := range fieldPriority {
		text, ok := rawFields[field]
		if !ok || text == "" {
			continue
		}
		if maxFieldChars > 0 && len(text) > maxFieldChars {
			text = text[:maxFieldChars]
		}
		selected = append(selected, SelectedField{FieldKey: field, Text: text})
	}
	if selected == nil {
		selected = []SelectedField{}
	}

	var concatenated string
	for i, sf := range selected {
		if i > 0 {
			concatenated += "\n"
		}
		concatenated += sf.Text
	}

	canonical, err := stablejson.Marshal(selected)
	if err != nil {
		return TextView{}, err
	}
	sum := sha256.Sum256(canonical)

	return TextView{
		FieldsSelected:   selected,
		ConcatenatedText: concatenated,
		Hash:             hex.EncodeToString(sum[:]),
	}, nil
}
