package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore defines the interface for emoji image storage operations
type ObjectStore interface {
	// Upload stores data under name and returns its public URL
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)

	// Remove deletes a stored object by name
	Remove(ctx context.Context, name string) error
}

// ErrInvalidName is returned for object names that would escape the bucket.
var ErrInvalidName = errors.New("invalid object name")

// NewObjectName returns a timestamp-derived name for a new emoji image.
func NewObjectName(now time.Time) string {
	return fmt.Sprintf("emoji_%d_%s.png", now.UnixMilli(), uuid.NewString()[:8])
}

// ObjectNameFromURL extracts the object name (last path segment) from a
// public URL produced by Upload.
func ObjectNameFromURL(publicURL string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse image URL: %w", err)
	}
	name := path.Base(u.Path)
	if err := validateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == "/" || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// LocalStorage implements ObjectStore using the local filesystem. Files are
// expected to be served from baseURL.
type LocalStorage struct {
	dir     string
	baseURL string
}

// NewLocalStorage creates a new LocalStorage instance
func NewLocalStorage(dir, baseURL string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir is the directory objects are written to.
func (s *LocalStorage) Dir() string {
	return s.dir
}

func (s *LocalStorage) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	file, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := bytes.NewReader(data).WriteTo(file); err != nil {
		os.Remove(file.Name()) // Clean up on error
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return s.baseURL + "/" + url.PathEscape(name), nil
}

func (s *LocalStorage) Remove(ctx context.Context, name string) error {
	// Names must stay inside the storage directory
	if err := validateName(name); err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		return fmt.Errorf("failed to remove file: %w", err)
	}
	return nil
}
