package storage

import (
	"bytes"
	"context"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PurgeScheduler arranges for a staged object to be deleted later.
type PurgeScheduler interface {
	SchedulePurge(ctx context.Context, key string, after time.Duration) error
}

// StagedObject is audio made fetchable for a remote service.
type StagedObject struct {
	Key string
	URL string
}

// Stager writes raw audio under a fresh unique name.
type Stager struct {
	store     Storage
	prefix    string
	timeout   time.Duration
	purge     PurgeScheduler
	retention time.Duration
}

type StagerOption func(*Stager)

// WithPrefix places staged objects under a key prefix.
func WithPrefix(prefix string) StagerOption {
	return func(s *Stager) { s.prefix = strings.Trim(prefix, "/") }
}

// WithTimeout bounds each staging write.
func WithTimeout(d time.Duration) StagerOption {
	return func(s *Stager) { s.timeout = d }
}

// WithPurge schedules deletion of every staged object after retention.
func WithPurge(p PurgeScheduler, retention time.Duration) StagerOption {
	return func(s *Stager) {
		s.purge = p
		s.retention = retention
	}
}

func NewStager(store Storage, opts ...StagerOption) *Stager {
	s := &Stager{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stage persists data and returns its key and read URL. Errors are *StagingError.
func (s *Stager) Stage(ctx context.Context, data []byte, contentType string) (*StagedObject, error) {
	key := uuid.New().String()
	key = strings.ReplaceAll(key, "-", "") + ExtensionFor(contentType)
	if s.prefix != "" {
		key = path.Join(s.prefix, key)
	}

	uploadCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.store.Upload(uploadCtx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, &StagingError{Op: "write", Key: key, Err: err}
	}

	if s.purge != nil && s.retention > 0 {
		if err := s.purge.SchedulePurge(ctx, key, s.retention); err != nil {
			slog.Warn("failed to schedule staged audio purge", "key", key, "error", err)
		}
	}

	return &StagedObject{Key: key, URL: s.store.URL(key)}, nil
}

// ExtensionFor maps an audio content type to a file extension. Media type
// parameters such as ";codecs=opus" are ignored. Unknown types map to ".wav".
func ExtensionFor(contentType string) string {
	mediaType, _, _ := strings.Cut(contentType, ";")
	switch strings.TrimSpace(strings.ToLower(mediaType)) {
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/ogg", "audio/opus":
		return ".ogg"
	case "audio/webm":
		return ".webm"
	case "audio/flac", "audio/x-flac":
		return ".flac"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return ".m4a"
	default:
		return ".wav"
	}
}
