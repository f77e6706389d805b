// Package sanitize normalizes row values into a form every sink accepts.
//
// Key-value sinks reject IEEE-754 special values and lose precision when
// binary floats are stored as-is, so floats are carried as decimal literals
// from the point of sanitization onwards.
package sanitize

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go/service/dynamodb"

	"lander/internal/records"
)

// Decimal is an exact decimal literal, e.g. "0.1" or "-12.5e-7".
type Decimal string

// String returns the literal.
func (d Decimal) String() string { return string(d) }

// Float64 parses the literal. Invalid literals yield 0 and an error.
func (d Decimal) Float64() (float64, error) { return strconv.ParseFloat(string(d), 64) }

// MarshalJSON emits the literal as a bare JSON number.
func (d Decimal) MarshalJSON() ([]byte, error) {
	if d == "" {
		return []byte("null"), nil
	}
	return []byte(d), nil
}

// MarshalDynamoDBAttributeValue stores the literal as a DynamoDB number.
func (d Decimal) MarshalDynamoDBAttributeValue(av *dynamodb.AttributeValue) error {
	if d == "" {
		av.NULL = boolPtr(true)
		return nil
	}
	s := string(d)
	av.N = &s
	return nil
}

func boolPtr(b bool) *bool { return &b }

// FromFloat converts a finite float to its shortest round-trip decimal
// literal. ok is false for NaN and ±Inf.
func FromFloat(f float64) (Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", false
	}
	return Decimal(strconv.FormatFloat(f, 'f', -1, 64)), true
}

// Value returns the destination-safe form of v:
//   - NaN and ±Inf become nil
//   - finite floats and json.Number become Decimal
//   - maps and slices are sanitized element-wise
//   - everything else is returned unchanged
func Value(v any) any {
	switch t := v.(type) {
	case float64:
		if d, ok := FromFloat(t); ok {
			return d
		}
		return nil
	case float32:
		f := float64(t)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		// Format at 32-bit precision so 0.1f stays "0.1".
		return Decimal(strconv.FormatFloat(f, 'f', -1, 32))
	case json.Number:
		return Decimal(t.String())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Value(vv)
		}
		return out
	case records.Record:
		return Row(t)
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Value(vv)
		}
		return out
	default:
		return v
	}
}

// Row sanitizes every field of r into a new record. r is not modified.
func Row(r records.Record) records.Record {
	out := make(records.Record, len(r))
	for k, v := range r {
		out[k] = Value(v)
	}
	return out
}
