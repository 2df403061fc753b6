package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage writes objects under a directory that some web server exposes
// at readRoot. Read URLs are derived by substituting the write root with the
// read root.
type LocalStorage struct {
	writeRoot string
	readRoot  string
}

func NewLocalStorage(writeRoot, readRoot string) (*LocalStorage, error) {
	if writeRoot == "" {
		return nil, fmt.Errorf("local storage write root is required")
	}
	if readRoot == "" {
		return nil, fmt.Errorf("local storage read root is required")
	}
	if err := os.MkdirAll(writeRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create write root: %w", err)
	}
	return &LocalStorage{
		writeRoot: filepath.Clean(writeRoot),
		readRoot:  strings.TrimSuffix(readRoot, "/"),
	}, nil
}

func (s *LocalStorage) Upload(_ context.Context, key string, data io.Reader, _ string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return fmt.Errorf("create file: %w", err)
	}

	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("sync file: %w", err)
	}
	return f.Close()
}

func (s *LocalStorage) Delete(_ context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

func (s *LocalStorage) URL(key string) string {
	written := filepath.ToSlash(filepath.Join(s.writeRoot, key))
	return s.readRoot + strings.TrimPrefix(written, filepath.ToSlash(s.writeRoot))
}

func (s *LocalStorage) path(key string) (string, error) {
	path := filepath.Join(s.writeRoot, key)
	if !strings.HasPrefix(path, s.writeRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes write root", key)
	}
	return path, nil
}
