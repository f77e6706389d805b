// Package objstore defines the object storage contract used to fetch
// extraction payloads and to publish column files.
package objstore

import (
	"context"
	"errors"
	"net/url"
	"strings"
)

// ErrNotFound is returned by Download when the bucket or key does not exist.
var ErrNotFound = errors.New("objstore: object not found")

// Store reads and writes whole objects. Implementations must be safe for
// concurrent use.
type Store interface {
	Download(ctx context.Context, bucket, key string) ([]byte, error)
	Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error
}

// ParseURL splits "s3://bucket/key" into its parts. ok is false for anything
// that is not an s3 URL with both a bucket and a key.
func ParseURL(raw string) (bucket, key string, ok bool) {
	if !strings.HasPrefix(raw, "s3://") {
		return "", "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", false
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", false
	}
	return u.Host, key, true
}
