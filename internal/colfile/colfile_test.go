package colfile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"lander/internal/records"
	"lander/internal/sanitize"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	if got, want := ListFormats(), []string{"jsonl", "parquet"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ListFormats = %v, want %v", got, want)
	}
	enc, err := New("parquet")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if enc.Extension() != "parquet" {
		t.Fatalf("Extension = %q", enc.Extension())
	}
	if _, err := New("avro"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("New(avro) err = %v, want ErrUnknownFormat", err)
	}
}

func readTable(t *testing.T, b []byte) arrow.Table {
	t.Helper()
	tbl, err := pqarrow.ReadTable(
		context.Background(),
		bytes.NewReader(b),
		parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{},
		memory.DefaultAllocator,
	)
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	t.Cleanup(tbl.Release)
	return tbl
}

func TestParquetSchemaInference(t *testing.T) {
	t.Parallel()

	rows := []records.Record{
		{"id": "a", "n": int64(1), "price": int64(2), "ok": true, "calc_dt": "2024-05-01", "meta": map[string]any{"x": "y"}},
		{"id": "b", "n": int64(2), "price": 2.5, "ok": false, "calc_dt": "2024-05-01"},
		{"id": "c", "n": nil, "price": sanitize.Decimal("0.1"), "calc_dt": "2024-05-01", "meta": "plain"},
	}
	b, err := Parquet{}.Encode(rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tbl := readTable(t, b)

	if tbl.NumRows() != 3 {
		t.Fatalf("NumRows = %d, want 3", tbl.NumRows())
	}

	want := map[string]arrow.DataType{
		"calc_dt": arrow.BinaryTypes.String,
		"id":      arrow.BinaryTypes.String,
		"meta":    arrow.BinaryTypes.String,
		"n":       arrow.PrimitiveTypes.Int64,
		"ok":      arrow.FixedWidthTypes.Boolean,
		"price":   arrow.PrimitiveTypes.Float64,
	}
	fields := tbl.Schema().Fields()
	if len(fields) != len(want) {
		t.Fatalf("fields = %d, want %d", len(fields), len(want))
	}
	for i, f := range fields {
		wt, ok := want[f.Name]
		if !ok {
			t.Fatalf("unexpected field %q", f.Name)
		}
		if !arrow.TypeEqual(f.Type, wt) {
			t.Errorf("field %q type = %s, want %s", f.Name, f.Type, wt)
		}
		if i > 0 && fields[i-1].Name > f.Name {
			t.Errorf("fields not sorted: %q before %q", fields[i-1].Name, f.Name)
		}
	}

	idx := tbl.Schema().FieldIndices("meta")[0]
	meta := tbl.Column(idx).Data().Chunk(0).(*array.String)
	if got := meta.Value(0); got != `{"x":"y"}` {
		t.Errorf("meta[0] = %q", got)
	}
	if !meta.IsNull(1) {
		t.Errorf("meta[1] should be null")
	}

	idx = tbl.Schema().FieldIndices("price")[0]
	price := tbl.Column(idx).Data().Chunk(0).(*array.Float64)
	if got := []float64{price.Value(0), price.Value(1), price.Value(2)}; !reflect.DeepEqual(got, []float64{2, 2.5, 0.1}) {
		t.Errorf("price = %v", got)
	}
}

func TestParquetKeepsWideIntegersExact(t *testing.T) {
	t.Parallel()

	rows := []records.Record{
		{"n": sanitize.Decimal("12345678901234567890123")},
		{"n": int64(7)},
	}
	b, err := Parquet{}.Encode(rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	tbl := readTable(t, b)

	col := tbl.Column(0)
	if !arrow.TypeEqual(col.DataType(), arrow.BinaryTypes.String) {
		t.Fatalf("type = %s, want utf8", col.DataType())
	}
	n := col.Data().Chunk(0).(*array.String)
	if got := []string{n.Value(0), n.Value(1)}; !reflect.DeepEqual(got, []string{"12345678901234567890123", "7"}) {
		t.Fatalf("values = %q", got)
	}
}

func TestParquetRowCountAndFileMetadata(t *testing.T) {
	t.Parallel()

	rows := make([]records.Record, 5000)
	for i := range rows {
		rows[i] = records.Record{"id": int64(i), "calc_dt": "2024-05-01"}
	}
	b, err := Parquet{}.Encode(rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	rdr, err := file.NewParquetReader(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("NewParquetReader: %v", err)
	}
	defer rdr.Close()
	if rdr.NumRows() != 5000 {
		t.Fatalf("NumRows = %d, want 5000", rdr.NumRows())
	}
}

func TestParquetNoColumns(t *testing.T) {
	t.Parallel()

	if _, err := (Parquet{}).Encode([]records.Record{{}}); !errors.Is(err, ErrNoColumns) {
		t.Fatalf("err = %v, want ErrNoColumns", err)
	}
}

func TestWiden(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		vals []any
		want colKind
	}{
		{"bools", []any{true, false}, kindBool},
		{"ints", []any{int64(1), int64(2)}, kindInt},
		{"int_then_float", []any{int64(1), 2.5}, kindFloat},
		{"decimal", []any{sanitize.Decimal("1.5"), int64(1)}, kindFloat},
		{"wide_integer", []any{int64(1), sanitize.Decimal("12345678901234567890123")}, kindString},
		{"int64_max_decimal", []any{sanitize.Decimal("9223372036854775807")}, kindFloat},
		{"mixed", []any{int64(1), "x"}, kindString},
		{"bool_and_int", []any{true, int64(1)}, kindString},
		{"nulls", []any{nil, nil}, kindUnset},
		{"nested", []any{map[string]any{}}, kindString},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			k := kindUnset
			for _, v := range tc.vals {
				k = widen(k, v)
			}
			if k != tc.want {
				t.Fatalf("kind = %d, want %d", k, tc.want)
			}
		})
	}
}

func TestJSONL(t *testing.T) {
	t.Parallel()

	rows := []records.Record{
		{"b": int64(2), "a": "x"},
		{"a": "y"},
	}
	b, err := JSONL{}.Encode(rows)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	want := []string{`{"a":"x","b":2}`, `{"a":"y"}`}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}
}
