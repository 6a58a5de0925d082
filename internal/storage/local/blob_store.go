// Package local implements a local filesystem blob store.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where blobs will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// envelope is the on-disk form of one object. Body and metadata share a
// file so a rename publishes both at once.
type envelope struct {
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata"`
	Body        []byte            `json:"body"`
}

// BlobStore writes objects to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	// Check if the directory exists and is writable.
	info, err := os.Stat(cfg.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
				return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("failed to stat base directory: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{
		baseDir: cfg.BaseDir,
	}, nil
}

// Head returns the object's metadata.
func (s *BlobStore) Head(_ context.Context, key string) (mirror.ObjectAttrs, error) {
	env, err := s.read(key)
	if err != nil {
		return mirror.ObjectAttrs{}, err
	}
	return mirror.ObjectAttrs{Key: key, Metadata: env.Metadata}, nil
}

// Get returns the object's body.
func (s *BlobStore) Get(_ context.Context, key string) ([]byte, error) {
	env, err := s.read(key)
	if err != nil {
		return nil, err
	}
	return env.Body, nil
}

// Put writes body and metadata to a temp file and renames it into place.
func (s *BlobStore) Put(_ context.Context, key, contentType string, body []byte, metadata map[string]string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create parent directories: %w", err)
	}

	data, err := json.Marshal(envelope{ContentType: contentType, Metadata: metadata, Body: body})
	if err != nil {
		return fmt.Errorf("encode object %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		return fmt.Errorf("publish object %s: %w", key, err)
	}
	return nil
}

func (s *BlobStore) read(key string) (envelope, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return envelope{}, err
	}
	data, err := os.ReadFile(fullPath) // #nosec G304 -- path is confined to baseDir by resolve.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return envelope{}, fmt.Errorf("read %s: %w", key, mirror.ErrObjectNotFound)
		}
		return envelope{}, fmt.Errorf("read %s: %w", key, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("decode object %s: %w", key, err)
	}
	return env, nil
}

// resolve cleans the path and verifies it stays within baseDir.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBaseDir := filepath.Clean(s.baseDir)
	cleanFullPath := filepath.Clean(filepath.Join(s.baseDir, key))
	if !strings.HasPrefix(cleanFullPath, cleanBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return cleanFullPath, nil
}
