// Package colfile encodes row chunks into self-describing column files for
// the partitioned object-storage sink.
//
// Encoders are registered by format name:
//
//	enc, err := colfile.New("parquet")
//	body, err := enc.Encode(rows)
package colfile

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"lander/internal/records"
)

// ErrUnknownFormat is returned by New for an unregistered format.
var ErrUnknownFormat = errors.New("colfile: unknown format")

// Encoder turns one chunk of rows into a single file body.
type Encoder interface {
	// Extension is the file name suffix without the leading dot.
	Extension() string
	ContentType() string
	Encode(rows []records.Record) ([]byte, error)
}

var (
	regMu    sync.RWMutex
	registry = map[string]func() Encoder{}
)

// Register makes an encoder available under format, replacing any earlier one.
func Register(format string, f func() Encoder) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[format] = f
}

// New returns the encoder registered for format.
func New(format string) (Encoder, error) {
	regMu.RLock()
	f, ok := registry[format]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return f(), nil
}

// ListFormats returns a sorted snapshot of the registered formats.
func ListFormats() []string {
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
	Register(FormatParquet, func() Encoder { return Parquet{} })
	Register(FormatJSONL, func() Encoder { return JSONL{} })
}
