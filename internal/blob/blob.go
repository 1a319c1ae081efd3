// Package blob stores pipeline artifacts (generated scripts, rendered video segments)
// in an object store and hands out time-limited signed URLs for them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/config"
)

var (
	ErrNotFound      = errors.New("object not found")
	ErrAlreadyExists = errors.New("object already exists")
)

// UploadOptions controls a single upload.
type UploadOptions struct {
	ContentType string
	// FailIfExists makes the upload fail with ErrAlreadyExists instead of overwriting.
	FailIfExists bool
}

// Store is the object storage interface. Implementations must be safe for concurrent use.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, opts UploadOptions) error
	Download(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// SignedURL returns a URL granting read access to key until ttl elapses.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Close() error
}

// New constructs the backend named by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Backend {
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, cfg.CredentialsFile)
	case "memory":
		return NewMemoryStore(cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q: must be one of gcs, memory", cfg.Backend)
	}
}
