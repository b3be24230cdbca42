// Package storage publishes run artifacts to an object store.
package storage

import (
	"context"
	"io"
	"path"
	"strings"
)

// Uploader stores report files under a key.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	URL(key string) string
}

// Checker is implemented by uploaders that can confirm their destination
// is reachable before anything is written.
type Checker interface {
	Check(ctx context.Context) error
}

// Key joins a configured prefix and a file name into an object key.
func Key(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
