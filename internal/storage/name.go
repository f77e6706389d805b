package storage

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// TableName builds the destination name "{prefix}_{name}".
//
// The row-set name comes from payload data, so it is normalized to the
// character set every backend accepts:
//  1. strip accents (NFD → remove Mn → NFC)
//  2. keep [A-Za-z0-9_.-]; convert spaces and anything else to '_'
//  3. fall back to "table" if nothing is left
//
// Case is preserved; DynamoDB table names are case-sensitive.
func TableName(prefix, name string) string {
	n := normalizeName(name)
	if prefix == "" {
		return n
	}
	return prefix + "_" + n
}

func normalizeName(s string) string {
	t := transform.Chain(
		norm.NFD,
		runes.Remove(runes.In(unicode.Mn)),
		norm.NFC,
	)
	ascii, _, _ := transform.String(t, strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(ascii))
	for _, r := range ascii {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "table"
	}
	return b.String()
}
