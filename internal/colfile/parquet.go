package colfile

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"lander/internal/records"
	"lander/internal/sanitize"
)

// FormatParquet is the registry name of the Parquet encoder.
const FormatParquet = "parquet"

// ErrNoColumns is returned when none of the rows carries a field.
var ErrNoColumns = errors.New("colfile: rows have no columns")

// Parquet writes one Snappy-compressed row group per chunk.
//
// The schema is the sorted union of field names across the chunk. Every
// column is nullable and typed from the values it holds:
//
//	only bool                     -> BOOLEAN
//	only int64                    -> INT64
//	only numbers (int, float, dec) -> DOUBLE
//	integers wider than int64     -> UTF8, the exact literal
//	anything else                 -> UTF8, maps and lists as JSON
type Parquet struct{}

// Extension implements Encoder.
func (Parquet) Extension() string { return "parquet" }

// ContentType implements Encoder.
func (Parquet) ContentType() string { return "application/vnd.apache.parquet" }

// Encode implements Encoder.
func (Parquet) Encode(rows []records.Record) ([]byte, error) {
	schema, err := inferSchema(rows)
	if err != nil {
		return nil, err
	}

	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for i, f := range schema.Fields() {
		fb := b.Field(i)
		for _, r := range rows {
			v := r[f.Name]
			if v == nil {
				fb.AppendNull()
				continue
			}
			if err := appendValue(fb, v); err != nil {
				return nil, fmt.Errorf("colfile: column %q: %w", f.Name, err)
			}
		}
	}

	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	var buf bytes.Buffer
	chunk := int64(len(rows))
	if chunk < 1 {
		chunk = 1
	}
	if err := pqarrow.WriteTable(tbl, &buf, chunk, props, pqarrow.DefaultWriterProps()); err != nil {
		return nil, fmt.Errorf("colfile: write parquet: %w", err)
	}
	return buf.Bytes(), nil
}

type colKind int

const (
	kindUnset colKind = iota
	kindBool
	kindInt
	kindFloat
	kindString
)

func inferSchema(rows []records.Record) (*arrow.Schema, error) {
	kinds := map[string]colKind{}
	for _, r := range rows {
		for name, v := range r {
			kinds[name] = widen(kinds[name], v)
		}
	}
	if len(kinds) == 0 {
		return nil, ErrNoColumns
	}

	names := make([]string, 0, len(kinds))
	for name := range kinds {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrowType(kinds[name]), Nullable: true}
	}
	return arrow.NewSchema(fields, nil), nil
}

func widen(cur colKind, v any) colKind {
	var k colKind
	switch t := v.(type) {
	case nil:
		return cur
	case bool:
		k = kindBool
	case int, int32, int64:
		k = kindInt
	case sanitize.Decimal:
		if exceedsInt64(t) {
			// A double would round it; keep the literal.
			k = kindString
		} else {
			k = kindFloat
		}
	case float32, float64:
		k = kindFloat
	default:
		k = kindString
	}
	switch {
	case cur == kindUnset || cur == k:
		return k
	case isNumeric(cur) && isNumeric(k):
		return kindFloat
	default:
		return kindString
	}
}

// exceedsInt64 reports whether d is an integer literal outside the int64
// range.
func exceedsInt64(d sanitize.Decimal) bool {
	_, err := strconv.ParseInt(string(d), 10, 64)
	return errors.Is(err, strconv.ErrRange)
}

func isNumeric(k colKind) bool { return k == kindInt || k == kindFloat }

func arrowType(k colKind) arrow.DataType {
	switch k {
	case kindBool:
		return arrow.FixedWidthTypes.Boolean
	case kindInt:
		return arrow.PrimitiveTypes.Int64
	case kindFloat:
		return arrow.PrimitiveTypes.Float64
	default:
		// All-null columns land here too.
		return arrow.BinaryTypes.String
	}
}

func appendValue(b array.Builder, v any) error {
	switch fb := b.(type) {
	case *array.BooleanBuilder:
		fb.Append(v.(bool))
	case *array.Int64Builder:
		fb.Append(toInt64(v))
	case *array.Float64Builder:
		f, err := toFloat64(v)
		if err != nil {
			return err
		}
		fb.Append(f)
	case *array.StringBuilder:
		s, err := toString(v)
		if err != nil {
			return err
		}
		fb.Append(s)
	default:
		return fmt.Errorf("unsupported builder %T", b)
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return n.(int64)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case sanitize.Decimal:
		return n.Float64()
	default:
		return float64(toInt64(v)), nil
	}
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case map[string]any, []any, records.Record:
		b, err := json.Marshal(s)
		if err != nil {
			return "", err
		}
		return string(b), nil
	case fmt.Stringer:
		return s.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}
