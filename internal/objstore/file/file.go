// Package file implements a local filesystem-backed object store. Buckets
// are subdirectories of the root and keys are slash-separated paths below
// them.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lander/internal/objstore"
)

// Store keeps objects under a root directory.
type Store struct{ root string }

var _ objstore.Store = (*Store)(nil)

// New returns a Store rooted at root. It is safe for concurrent use; each
// upload lands through a temp file and rename so readers never see a
// partial object.
func New(root string) *Store { return &Store{root: root} }

// Download implements objstore.Store.
//
// If ctx is already done, Download returns the context error without
// touching the filesystem.
func (s *Store) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w", p, objstore.ErrNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return b, nil
}

// Upload implements objstore.Store. contentType is not recorded.
func (s *Store) Upload(ctx context.Context, bucket, key string, body []byte, contentType string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(p), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", p, err)
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename %s: %w", p, err)
	}
	return nil
}

// path maps bucket/key below root and rejects anything that escapes it.
func (s *Store) path(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("file store: bucket and key are required (bucket=%q key=%q)", bucket, key)
	}
	rel := filepath.Clean(filepath.Join(bucket, filepath.FromSlash(key)))
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("file store: %s/%s escapes root", bucket, key)
	}
	return filepath.Join(s.root, rel), nil
}
