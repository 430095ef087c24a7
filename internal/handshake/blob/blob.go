// Package blob stores accepted uploads once their checksum has been
// verified. Partial content never reaches a blob store; it lives in the
// upload spool until the final byte arrives.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// ErrNotFound is returned by Open for an unknown reference.
var ErrNotFound = errors.New("blob: not found")

// Store is a write-once object store keyed by path-like names.
type Store interface {
	// Put stores size bytes from r under key and returns a reference that
	// Open and Delete accept. sha256 is the verified lowercase hex digest.
	Put(ctx context.Context, key string, r io.ReadSeeker, size int64, sha256 string) (string, error)

	// Open returns the content for ref.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Delete removes ref. Deleting a missing object is not an error.
	Delete(ctx context.Context, ref string) error

	// Available reports whether the backend can be reached.
	Available(ctx context.Context) bool

	// Name identifies the backend in logs.
	Name() string
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "file" (default) or "s3"

	Dir string // file backend root

	S3Bucket    string
	S3Region    string
	S3Endpoint  string // for S3-compatible services
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
}

// New builds the backend named by cfg.Backend.
func New(cfg Config, log *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "file":
		return NewFileBackend(cfg.Dir, log)
	case "s3":
		return NewS3Backend(S3Options{
			Bucket:    cfg.S3Bucket,
			Prefix:    cfg.S3Prefix,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, log)
	default:
		return nil, fmt.Errorf("blob: unknown backend %q", cfg.Backend)
	}
}

// cleanKey rejects keys that could escape the backend root.
func cleanKey(key string) (string, error) {
	key = strings.Trim(key, "/")
	if key == "" {
		return "", fmt.Errorf("blob: empty key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return "", fmt.Errorf("blob: invalid key %q", key)
		}
	}
	return key, nil
}
