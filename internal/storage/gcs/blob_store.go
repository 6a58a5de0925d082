// Package gcs provides an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// BlobStore reads and writes objects in a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
	}, nil
}

// Head fetches object attributes only.
func (s *BlobStore) Head(ctx context.Context, key string) (mirror.ObjectAttrs, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return mirror.ObjectAttrs{}, fmt.Errorf("head %s: %w", key, mirror.ErrObjectNotFound)
		}
		return mirror.ObjectAttrs{}, fmt.Errorf("head %s: %w", key, err)
	}
	return mirror.ObjectAttrs{Key: key, Metadata: attrs.Metadata}, nil
}

// Get downloads the object body.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	reader, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("get %s: %w", key, mirror.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("open reader %s: %w", key, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Put uploads body with its metadata. GCS finalizes both in one object
// generation when the writer closes, so they cannot diverge.
func (s *BlobStore) Put(ctx context.Context, key, contentType string, body []byte, metadata map[string]string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("path is required")
	}
	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	writer.Metadata = metadata
	if _, err := writer.Write(body); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
