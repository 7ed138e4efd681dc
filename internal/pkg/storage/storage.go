package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/familring/album-service/internal/pkg/logger"
)

const defaultUploadConcurrency = 4

// Backend is a single-object store: S3-compatible or local disk.
type Backend interface {
	// Put stores data under key.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes key. Returns nil if the object doesn't exist.
	Delete(ctx context.Context, key string) error

	// URL returns the public URL for key.
	URL(key string) string

	// KeyFromURL reverses URL. ok is false for URLs this backend did not issue.
	KeyFromURL(rawURL string) (key string, ok bool)
}

// Payload is one normalized file ready for upload.
type Payload struct {
	Data        []byte
	ContentType string
	Ext         string
}

// BlobStore uploads batches of files and deletes them by URL.
type BlobStore struct {
	backend     Backend
	concurrency int
}

// NewBlobStore creates a blob store over backend. concurrency <= 0 uses a default.
func NewBlobStore(backend Backend, concurrency int) *BlobStore {
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	return &BlobStore{backend: backend, concurrency: concurrency}
}

// UploadFiles stores every payload under prefix and returns their URLs in input order.
// The first failure cancels the remaining uploads; the error is returned together
// with the URLs already stored so the caller can clean them up.
func (s *BlobStore) UploadFiles(ctx context.Context, payloads []Payload, prefix string) ([]string, error) {
	urls := make([]string, len(payloads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, p := range payloads {
		i, p := i, p
		g.Go(func() error {
			key := objectKey(prefix, p.Ext)
			if err := s.backend.Put(gctx, key, p.Data, p.ContentType); err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			urls[i] = s.backend.URL(key)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stored(urls), err
	}
	return urls, nil
}

func stored(urls []string) []string {
	var out []string
	for _, u := range urls {
		if u != "" {
			out = append(out, u)
		}
	}
	return out
}

// DeleteFiles removes every URL. All deletions are attempted; failures are joined.
func (s *BlobStore) DeleteFiles(ctx context.Context, urls []string) error {
	var errs []error
	for _, u := range urls {
		key, ok := s.backend.KeyFromURL(u)
		if !ok {
			logger.FromContext(ctx).Warn().Str("url", u).Msg("Skipping delete of foreign blob URL")
			continue
		}
		if err := s.backend.Delete(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

func objectKey(prefix, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join(strings.Trim(prefix, "/"), uuid.New().String()+ext)
}
