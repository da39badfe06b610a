// Package local implements a filesystem blob store for archived pages.
package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathEscapesBase is returned for object paths that resolve outside BaseDir.
var ErrPathEscapesBase = errors.New("path traversal detected")

// Config configures the archive root.
type Config struct {
	BaseDir string `mapstructure:"base_dir"`
}

// BlobStore archives page bodies below a base directory. A re-crawl of the
// same page replaces the previous file in one rename.
type BlobStore struct {
	root string
}

// New prepares cfg.BaseDir, creating it when missing, and checks that it is
// writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("base directory is required")
	}
	root, err := filepath.Abs(filepath.Clean(cfg.BaseDir))
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("base directory %s is not a directory", root)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	check, err := os.CreateTemp(root, ".writable-*")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	name := check.Name()
	_ = check.Close()
	if err := os.Remove(name); err != nil {
		return nil, fmt.Errorf("remove writability check file: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject writes data to root/path and returns a file:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	target, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("replace %s: %w", path, err)
	}
	return "file://" + target, nil
}

func (s *BlobStore) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("path is required")
	}
	target := filepath.Join(s.root, filepath.FromSlash(path))
	if !strings.HasPrefix(target, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapesBase, path)
	}
	return target, nil
}
