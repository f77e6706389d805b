// Package records defines the row type shared by every stage of the landing
// pipelines.
//
// A Record is an open field map. Values are restricted by convention to a
// small closed set of Go types so that downstream stages can switch on them
// exhaustively:
//
//	string, int64, float64, bool, nil,
//	map[string]any, []any,
//	sanitize.Decimal (after sanitization only)
//
// Producers (decoders, the stream flattener) are responsible for emitting only
// these types.
package records

// Record is a single row keyed by field name.
type Record map[string]any

// Has reports whether the record carries field, even if its value is nil.
func (r Record) Has(field string) bool {
	_, ok := r[field]
	return ok
}

// Chunk splits rows into consecutive slices of at most size elements. The
// returned slices alias rows; callers must not append to them.
func Chunk(rows []Record, size int) [][]Record {
	if size <= 0 || len(rows) == 0 {
		return nil
	}
	out := make([][]Record, 0, (len(rows)+size-1)/size)
	for i := 0; i < len(rows); i += size {
		end := i + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[i:end:end])
	}
	return out
}
