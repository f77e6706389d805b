package decoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"lander/internal/records"
)

// KindJSON decodes a JSON object whose members are arrays of row objects.
const KindJSON = "json"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONDecoder implements KindJSON. Integers decode as int64, other numbers
// as float64.
type JSONDecoder struct{}

// Decode implements Decoder.
func (JSONDecoder) Decode(ctx context.Context, payload []byte) (map[string][]records.Record, error) {
	var doc map[string][]any
	dec := jsonAPI.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := make(map[string][]records.Record, len(doc))
	for table, list := range doc {
		for i, v := range list {
			list[i] = normalizeNumbers(v)
		}
		rows, err := rowsFromList(table, list)
		if err != nil {
			return nil, err
		}
		out[table] = rows
	}
	return out, nil
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := strconv.ParseInt(t.String(), 10, 64); err == nil {
			return i
		}
		if f, err := strconv.ParseFloat(t.String(), 64); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = normalizeNumbers(vv)
		}
		return t
	case []any:
		for i, vv := range t {
			t[i] = normalizeNumbers(vv)
		}
		return t
	default:
		return v
	}
}
