package decoder

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"lander/internal/records"
)

func TestNewKnownAndUnknownKinds(t *testing.T) {
	t.Parallel()

	for _, kind := range []string{KindStruct, KindJSON} {
		if _, err := New(kind); err != nil {
			t.Errorf("New(%q) error = %v", kind, err)
		}
	}
	if _, err := New("avro"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("New(avro) error = %v, want ErrUnknownKind", err)
	}
	if got := ListKinds(); !reflect.DeepEqual(got, []string{KindJSON, KindStruct}) {
		t.Fatalf("ListKinds() = %v", got)
	}
}

func TestStructDecoder(t *testing.T) {
	t.Parallel()

	in := map[string][]records.Record{
		"users": {
			{"name": "a", "age": int64(31), "score": 0.5, "active": true, "note": nil},
			{"name": "b", "tags": []any{"x", int64(2)}, "addr": map[string]any{"zip": "12345"}},
		},
		"orders": {},
	}
	payload, err := EncodeStruct(in)
	if err != nil {
		t.Fatalf("EncodeStruct() error = %v", err)
	}

	got, err := StructDecoder{}.Decode(context.Background(), payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("Decode() = %#v\nwant %#v", got, in)
	}
}

func TestStructDecoderMalformed(t *testing.T) {
	t.Parallel()

	notList, err := proto.Marshal(&structpb.Struct{Fields: map[string]*structpb.Value{
		"users": structpb.NewStringValue("oops"),
	}})
	if err != nil {
		t.Fatalf("proto.Marshal() error = %v", err)
	}
	rowNotObject, err := encodeStructRaw(map[string]any{"users": []any{"scalar"}})
	if err != nil {
		t.Fatalf("encodeStructRaw() error = %v", err)
	}

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "garbage bytes", payload: []byte{0xff, 0xff, 0xff}},
		{name: "table is not a list", payload: notList},
		{name: "row is not an object", payload: rowNotObject},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := (StructDecoder{}).Decode(context.Background(), tt.payload); !errors.Is(err, ErrMalformed) {
				t.Fatalf("Decode() error = %v, want ErrMalformed", err)
			}
		})
	}
}

// encodeStructRaw builds a payload from arbitrary structpb-compatible values.
func encodeStructRaw(fields map[string]any) ([]byte, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func TestJSONDecoder(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"users": [{"id": 7, "name": "a", "score": 1.5, "big": 12345678901234567890, "nested": {"n": 1, "l": [2, 2.5]}}],
		"empty": []
	}`)
	got, err := JSONDecoder{}.Decode(context.Background(), payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	want := map[string][]records.Record{
		"users": {{
			"id":     int64(7),
			"name":   "a",
			"score":  1.5,
			"big":    float64(12345678901234567890),
			"nested": map[string]any{"n": int64(1), "l": []any{int64(2), 2.5}},
		}},
		"empty": {},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Decode() = %#v\nwant %#v", got, want)
	}
}

func TestJSONDecoderMalformed(t *testing.T) {
	t.Parallel()

	for _, payload := range []string{`not json`, `{"users": {"a": 1}}`, `{"users": [1, 2]}`} {
		if _, err := (JSONDecoder{}).Decode(context.Background(), []byte(payload)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Decode(%s) error = %v, want ErrMalformed", payload, err)
		}
	}
}

func TestFuncAdapter(t *testing.T) {
	t.Parallel()

	want := map[string][]records.Record{"t": {{"a": "b"}}}
	d := Func(func(ctx context.Context, payload []byte) (map[string][]records.Record, error) {
		return want, nil
	})
	got, err := d.Decode(context.Background(), nil)
	if err != nil || !reflect.DeepEqual(got, want) {
		t.Fatalf("Func.Decode() = %v, %v", got, err)
	}
}
