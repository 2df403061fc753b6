package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nikhilbhutani/voicebridge/internal/config"
)

// Storage is a write-side object store whose objects are fetchable by URL.
type Storage interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// ErrExists is returned by Upload when the key is already taken.
var ErrExists = errors.New("object already exists")

// StagingError reports a failure to persist or remove staged audio.
type StagingError struct {
	Op  string
	Key string
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// New builds the backend selected by cfg.Backend.
func New(cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "local":
		return NewLocalStorage(cfg.WriteRoot, cfg.ReadRoot)
	case "supabase":
		return NewSupabaseStorage(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
