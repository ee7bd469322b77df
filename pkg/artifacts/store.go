// Package artifacts is the blob-storage collaborator: it stores bytes and
// hands back an opaque, content-addressed locator ("sha256:<hex>") that the
// registries record for proposal content, pair images and metadata.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const locatorPrefix = "sha256:"

var (
	// ErrNotFound is returned when no blob exists for a locator.
	ErrNotFound = errors.New("artifact not found")
	// ErrInvalidLocator is returned for locators that are not sha256 digests.
	ErrInvalidLocator = errors.New("invalid artifact locator")
	// ErrCorrupt is returned when stored bytes no longer match their locator.
	ErrCorrupt = errors.New("artifact content does not match locator")
)

// Store is content-addressed blob storage.
type Store interface {
	// Put persists data and returns its locator. Storing the same bytes
	// twice returns the same locator.
	Put(ctx context.Context, data []byte) (string, error)
	// Get returns the bytes behind a locator.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Exists reports whether a blob is stored under locator.
	Exists(ctx context.Context, locator string) (bool, error)
}

// Locator returns the locator data would be stored under.
func Locator(data []byte) string {
	h := sha256.Sum256(data)
	return locatorPrefix + hex.EncodeToString(h[:])
}

// parseLocator validates a locator and returns its hex digest.
func parseLocator(locator string) (string, error) {
	digest, ok := strings.CutPrefix(locator, locatorPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	raw, err := hex.DecodeString(digest)
	if err != nil || len(raw) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidLocator, locator)
	}
	return strings.ToLower(digest), nil
}

// verify checks fetched bytes against the locator they were read under.
func verify(locator string, data []byte) ([]byte, error) {
	if !strings.EqualFold(Locator(data), locator) {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, locator)
	}
	return data, nil
}

func objectKey(prefix, digest string) string {
	return prefix + digest + ".blob"
}

// FileStore is a filesystem-backed implementation of Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	//nolint:gosec // G301: shared artifact directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure artifact dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(digest string) string {
	return filepath.Join(s.baseDir, objectKey("", digest))
}

func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	locator := Locator(data)
	digest := strings.TrimPrefix(locator, locatorPrefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(digest)
	if _, err := os.Stat(path); err == nil {
		return locator, nil
	}

	tmp, err := os.CreateTemp(s.baseDir, digest+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create blob: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to commit blob: %w", err)
	}
	return locator, nil
}

func (s *FileStore) Get(ctx context.Context, locator string) ([]byte, error) {
	digest, err := parseLocator(locator)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(digest)) //nolint:gosec // digest validated as hex
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, locator)
		}
		return nil, fmt.Errorf("read artifact %s: %w", locator, err)
	}
	return verify(locator, data)
}

func (s *FileStore) Exists(ctx context.Context, locator string) (bool, error) {
	digest, err := parseLocator(locator)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(s.path(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat artifact %s: %w", locator, err)
	}
}
