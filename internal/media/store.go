// Package media stores product images behind a driver-agnostic Store.
package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-grocery/internal/obs"
)

var (
	// ErrUnsupportedType is returned for uploads that are not jpeg, png, gif or webp.
	ErrUnsupportedType = errors.New("media: unsupported file type")
	// ErrTooLarge is returned when an upload exceeds the configured byte limit.
	ErrTooLarge = errors.New("media: file too large")
	// ErrInvalidKey is returned for keys that escape the storage root.
	ErrInvalidKey = errors.New("media: invalid key")
)

// Store persists binary objects under a key and exposes them by URL.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Driver() string
}

// Object identifies a stored file.
type Object struct {
	Key string
	URL string
}

// Manager turns raw uploads into stored JPEG objects.
type Manager struct {
	Store     Store
	Processor Processor
	Logger    zerolog.Logger
}

// Upload normalises data and stores it under prefix with a random name.
func (m Manager) Upload(ctx context.Context, prefix string, data []byte) (Object, error) {
	if m.Store == nil {
		return Object{}, errors.New("media: store not configured")
	}
	driver := m.Store.Driver()
	img, err := m.Processor.Process(data)
	if err != nil {
		obs.ObserveMediaUpload(driver, "rejected")
		return Object{}, err
	}
	key := path.Join(strings.Trim(prefix, "/"), uuid.NewString()+".jpg")
	url, err := m.Store.Put(ctx, key, img.Data, img.ContentType)
	if err != nil {
		obs.ObserveMediaUpload(driver, "error")
		return Object{}, fmt.Errorf("put %s: %w", key, err)
	}
	obs.ObserveMediaUpload(driver, "ok")
	return Object{Key: key, URL: url}, nil
}

// Remove deletes key, logging instead of failing so that a stale image never
// blocks a product write.
func (m Manager) Remove(ctx context.Context, key string) {
	if m.Store == nil || strings.TrimSpace(key) == "" {
		return
	}
	if err := m.Store.Delete(ctx, key); err != nil {
		m.Logger.Warn().Err(err).Str("key", key).Msg("media delete failed")
	}
}

func cleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return cleaned, nil
}
