package decoder

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"lander/internal/records"
)

// KindStruct decodes a binary google.protobuf.Struct whose fields are table
// names, each holding a list of row structs.
const KindStruct = "struct"

// StructDecoder implements KindStruct. Protobuf numbers are doubles; integral
// values in int64 range come back as int64 so identifiers keep their form.
type StructDecoder struct{}

// Decode implements Decoder.
func (StructDecoder) Decode(ctx context.Context, payload []byte) (map[string][]records.Record, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	out := make(map[string][]records.Record, len(s.GetFields()))
	for table, v := range s.GetFields() {
		list := v.GetListValue()
		if list == nil {
			return nil, fmt.Errorf("%w: table %q is not a list", ErrMalformed, table)
		}
		raw := make([]any, len(list.GetValues()))
		for i, item := range list.GetValues() {
			raw[i] = fromValue(item)
		}
		rows, err := rowsFromList(table, raw)
		if err != nil {
			return nil, err
		}
		out[table] = rows
	}
	return out, nil
}

func fromValue(v *structpb.Value) any {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_BoolValue:
		return k.BoolValue
	case *structpb.Value_StringValue:
		return k.StringValue
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f >= -(1<<53) && f <= 1<<53 && f == math.Trunc(f) {
			return int64(f)
		}
		return f
	case *structpb.Value_StructValue:
		m := make(map[string]any, len(k.StructValue.GetFields()))
		for name, fv := range k.StructValue.GetFields() {
			m[name] = fromValue(fv)
		}
		return m
	case *structpb.Value_ListValue:
		l := make([]any, len(k.ListValue.GetValues()))
		for i, lv := range k.ListValue.GetValues() {
			l[i] = fromValue(lv)
		}
		return l
	default:
		return nil
	}
}

// EncodeStruct is the inverse of StructDecoder.Decode, used by tools that
// produce payloads.
func EncodeStruct(sets map[string][]records.Record) ([]byte, error) {
	fields := make(map[string]any, len(sets))
	for table, rows := range sets {
		l := make([]any, len(rows))
		for i, r := range rows {
			l[i] = toPlain(map[string]any(r))
		}
		fields[table] = l
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("decoder: build struct: %w", err)
	}
	return proto.Marshal(s)
}

// toPlain rewrites values structpb.NewValue does not accept.
func toPlain(v any) any {
	switch t := v.(type) {
	case records.Record:
		return toPlain(map[string]any(t))
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[k] = toPlain(vv)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, vv := range t {
			l[i] = toPlain(vv)
		}
		return l
	case fmt.Stringer:
		return t.String()
	default:
		return v
	}
}
