package colfile

import (
	"bytes"
	"fmt"

	jsoniter "github.com/json-iterator/go"

	"lander/internal/records"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// FormatJSONL is the registry name of the JSON Lines encoder.
const FormatJSONL = "jsonl"

// JSONL writes one JSON object per line, keys sorted. Handy for local runs
// where a parquet reader is not at hand.
type JSONL struct{}

// Extension implements Encoder.
func (JSONL) Extension() string { return "jsonl" }

// ContentType implements Encoder.
func (JSONL) ContentType() string { return "application/x-ndjson" }

// Encode implements Encoder.
func (JSONL) Encode(rows []records.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, r := range rows {
		if err := enc.Encode(map[string]any(r)); err != nil {
			return nil, fmt.Errorf("colfile: row %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
