package blob

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for local runs and tests. Its signed URLs are
// not fetchable; they only encode the bucket, key and lifetime.
type MemoryStore struct {
	bucket string

	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string][]byte)}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Upload(_ context.Context, key string, data []byte, opts UploadOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; ok && opts.FailIfExists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	u := url.URL{
		Scheme:   "https",
		Host:     "storage.invalid",
		Path:     "/" + s.bucket + "/" + key,
		RawQuery: url.Values{"X-Goog-Expires": {strconv.Itoa(int(ttl.Seconds()))}}.Encode(),
	}
	return u.String(), nil
}

var _ Store = (*MemoryStore)(nil)
