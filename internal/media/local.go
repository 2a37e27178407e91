package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes objects below Dir and serves them under BaseURL.
type LocalStore struct {
	Dir     string
	BaseURL string
}

// NewLocalStore ensures dir exists.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("media: local dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &LocalStore{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Driver implements Store.
func (s *LocalStore) Driver() string { return "local" }

// Put writes data atomically via a temp file and rename.
func (s *LocalStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	target := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return "", err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return s.BaseURL + "/" + key, nil
}

// Delete removes key. Missing files are not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = os.Remove(filepath.Join(s.Dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Ping checks that the directory is still present.
func (s *LocalStore) Ping(context.Context) error {
	info, err := os.Stat(s.Dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("media: %s is not a directory", s.Dir)
	}
	return nil
}

// Handler serves stored files. Mount it under BaseURL with the prefix stripped.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(noDirFS{http.Dir(s.Dir)})
}

// noDirFS hides directory listings.
type noDirFS struct{ http.FileSystem }

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fs.ErrNotExist
	}
	return f, nil
}
