package storage

import (
	"bytes"
	"fmt"

	"lander/internal/records"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KeyString renders a key attribute value as the string stored in the
// destination's identity column.
func KeyString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// EncodeDocument serializes a sanitized record for the document-style SQL
// backends, which keep each item as a JSON value next to its key.
func EncodeDocument(rec records.Record) ([]byte, error) {
	b, err := json.Marshal(map[string]any(rec))
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return b, nil
}

// DecodeDocument is the inverse of EncodeDocument. Numbers decode as
// json.Number so integers survive unchanged.
func DecodeDocument(b []byte) (records.Record, error) {
	var out map[string]any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return records.Record(out), nil
}
