// Package decoder turns an extraction payload into named row-sets.
//
// Decoders are registered by kind, mirroring the storage backend registry:
//
//	d, err := decoder.New("struct")
//	sets, err := d.Decode(ctx, payload)
package decoder

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lander/internal/records"
)

// ErrUnknownKind is returned by New for an unregistered decoder kind.
var ErrUnknownKind = errors.New("decoder: unknown kind")

// ErrMalformed wraps payloads a decoder could not interpret.
var ErrMalformed = errors.New("decoder: malformed payload")

// Decoder converts raw payload bytes into rows grouped by destination name.
type Decoder interface {
	Decode(ctx context.Context, payload []byte) (map[string][]records.Record, error)
}

// Func adapts a function to Decoder.
type Func func(ctx context.Context, payload []byte) (map[string][]records.Record, error)

// Decode implements Decoder.
func (f Func) Decode(ctx context.Context, payload []byte) (map[string][]records.Record, error) {
	return f(ctx, payload)
}

var (
	regMu    sync.RWMutex
	registry = map[string]func() Decoder{}
)

// Register makes a decoder available under kind, replacing any earlier one.
func Register(kind string, f func() Decoder) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[kind] = f
}

// New returns the decoder registered for kind.
func New(kind string) (Decoder, error) {
	regMu.RLock()
	f, ok := registry[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f(), nil
}

// ListKinds returns a sorted snapshot of the registered kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func init() {
	Register(KindStruct, func() Decoder { return StructDecoder{} })
	Register(KindJSON, func() Decoder { return JSONDecoder{} })
}

// rowsFromList converts one table's list of row objects. Non-object entries
// are malformed.
func rowsFromList(table string, list []any) ([]records.Record, error) {
	rows := make([]records.Record, 0, len(list))
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: table %q row %d is %T, want object", ErrMalformed, table, i, v)
		}
		rows = append(rows, records.Record(m))
	}
	return rows, nil
}
