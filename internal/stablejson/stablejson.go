// Package stablejson implements the canonical JSON serialization spec.md
// §4.9/§6 requires for every output artifact: object keys sorted, compact
// separators (no whitespace), ASCII-escaped (non-ASCII runes \u-escaped,
// matching Python's json.dumps(..., ensure_ascii=True)). encoding/json
// already sorts map keys and HTML-escapes by default, but does not
// ASCII-escape arbitrary runes above U+007F, so Marshal re-walks the
// standard encoder's output to add that escaping.
package stablejson

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"
)

// Marshal serializes v the way the original Python implementation's
// canonical dumps does: sort_keys=True, separators=(",",":"),
// ensure_ascii=True. v must already be built from ordered/sortable data
// (struct field order for arrays, map keys sorted automatically by
// encoding/json for objects).
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("stablejson: marshal: %w", err)
	}
	compact := bytes.TrimRight(buf.Bytes(), "\n")
	var dst bytes.Buffer
	if err := json.Compact(&dst, compact); err != nil {
		return nil, fmt.Errorf("stablejson: compact: %w", err)
	}
	return asciiEscape(dst.Bytes()), nil
}

// MarshalIndent serializes v with indent=2 and sorted keys, matching the
// original's pretty-printed manifest writer (config_hash/manifest files use
// this, not the compact form).
func MarshalIndent(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("stablejson: marshal indent: %w", err)
	}
	pretty := bytes.TrimRight(buf.Bytes(), "\n")
	return asciiEscape(pretty), nil
}

// asciiEscape walks UTF-8 encoded JSON text and rewrites every rune above
// U+007F as a \uXXXX escape (or a surrogate pair for runes above U+FFFF),
// leaving ASCII bytes and existing escape sequences untouched.
func asciiEscape(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))
	inString := false
	for i := 0; i < len(data); {
		b := data[i]
		if b == '"' {
			// Track string boundaries only to know when a raw `\` is an escape
			// sequence (outside strings, backslashes don't appear in JSON).
			inString = !inString
			buf.WriteByte(b)
			i++
			continue
		}
		if inString && b == '\\' && i+1 < len(data) {
			buf.WriteByte(b)
			buf.WriteByte(data[i+1])
			i += 2
			continue
		}
		if b < utf8.RuneSelf {
			buf.WriteByte(b)
			i++
			continue
		}
		r, size := utf8.DecodeRune(data[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteByte(b)
			i++
			continue
		}
		if r > 0xFFFF {
			r1, r2 := utf16SurrogatePair(r)
			fmt.Fprintf(&buf, `\u%04x\u%04x`, r1, r2)
		} else {
			fmt.Fprintf(&buf, `\u%04x`, r)
		}
		i += size
	}
	return buf.Bytes()
}

func utf16SurrogatePair(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r >> 10), 0xDC00 + (r & 0x3FF)
}

// SortedKeys is a helper for callers building map[string]any payloads that
// need deterministic key iteration before handing off to Marshal (the
// marshaler itself sorts map keys already; this helper is for callers that
// need the same order for other purposes, e.g. building a canonical list).
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
