// Package transformer contains row-set transformations applied before a
// batch reaches a sink.
//
// DeDup collapses rows that share a key and picks a winner according to a
// policy:
//
//   - "keep-first"   : keep the earliest occurrence
//   - "keep-last"    : keep the latest occurrence (default; matches the
//     overwrite semantics of a key-value put)
//   - "most-complete": keep the row with the most non-empty fields; ties
//     break by keep-last
//
// Sinks such as DynamoDB reject a batch that names the same key twice, so the
// writer runs DeDup on every batch before handing it over.
package transformer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"lander/internal/records"
)

// Policy names accepted by DeDup.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DeDup implements a configurable, in-memory de-duplication policy.
type DeDup struct {
	// Keys are the field names that form the key, e.g. ["id"].
	Keys []string

	// Policy selects the winner among duplicates. Empty means keep-last.
	Policy string
}

// ValidPolicy reports whether p names a known policy. Empty is valid.
func ValidPolicy(p string) bool {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "", KeepFirst, KeepLast, MostComplete:
		return true
	}
	return false
}

// Collapse returns only the winning rows, in ascending order of the winner's
// input position, followed by rows that lack a key field in input order. It
// also reports, for every input row i, the index in out of the row that
// represents it. Rows absent from the key domain represent themselves.
func (d DeDup) Collapse(in []records.Record) (out []records.Record, owner []int) {
	owner = make([]int, len(in))
	if len(in) == 0 || len(d.Keys) == 0 {
		for i := range owner {
			owner[i] = i
		}
		return in, owner
	}

	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = KeepLast
	}

	type slot struct {
		index int
		score int
	}

	winners := make(map[xxh3.Uint128]slot, len(in))
	keys := make([]xxh3.Uint128, len(in))
	keyed := make([]bool, len(in))

	for i, r := range in {
		k, ok := d.keyOf(r)
		if !ok {
			continue
		}
		keys[i], keyed[i] = k, true

		switch policy {
		case KeepFirst:
			if _, exists := winners[k]; !exists {
				winners[k] = slot{index: i}
			}
		case MostComplete:
			s := slot{index: i, score: completeness(r)}
			if prev, exists := winners[k]; !exists || s.score >= prev.score {
				winners[k] = s
			}
		default:
			winners[k] = slot{index: i}
		}
	}

	indexes := make([]int, 0, len(winners))
	for _, s := range winners {
		indexes = append(indexes, s.index)
	}
	sort.Ints(indexes)

	out = make([]records.Record, 0, len(in))
	pos := make(map[int]int, len(indexes))
	for _, idx := range indexes {
		pos[idx] = len(out)
		out = append(out, in[idx])
	}
	for i, r := range in {
		if keyed[i] {
			owner[i] = pos[winners[keys[i]].index]
			continue
		}
		owner[i] = len(out)
		out = append(out, r)
	}
	return out, owner
}

// keyOf hashes the configured key fields. Rows missing any key field are
// outside the de-dup domain.
func (d DeDup) keyOf(r records.Record) (xxh3.Uint128, bool) {
	var b strings.Builder
	for i, k := range d.Keys {
		v, ok := r[k]
		if !ok {
			return xxh3.Uint128{}, false
		}
		if i > 0 {
			b.WriteByte('\x1f')
		}
		switch t := v.(type) {
		case nil:
			b.WriteByte('\x00')
		case string:
			b.WriteString(t)
		default:
			b.WriteString(fmt.Sprint(t))
		}
	}
	return xxh3.HashString128(b.String()), true
}

// completeness counts non-empty values; nil and "" don't count.
func completeness(r records.Record) int {
	n := 0
	for _, v := range r {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		n++
	}
	return n
}
