package blob

import (
	"context"
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// FSStore keeps documents under a local directory and returns file:// URIs.
type FSStore struct {
	root string
	now  func() time.Time
}

// NewFSStore creates the root directory if needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		dir = "data/blobs"
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "blob: resolve %s", dir)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create %s", abs)
	}
	return &FSStore{root: abs, now: time.Now}, nil
}

func (s *FSStore) Put(_ context.Context, data []byte, filename, _ string) (string, error) {
	key := ObjectKey(s.now(), filename)
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", eris.Wrapf(err, "blob: create dir for %s", key)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", eris.Wrapf(err, "blob: write %s", key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(full)}).String(), nil
}

func (s *FSStore) Get(_ context.Context, uri string) ([]byte, error) {
	p, err := s.path(uri)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(ErrNotFound, "blob: %s", uri)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: read %s", uri)
	}
	return data, nil
}

// SignedURL returns the file:// URI itself; local files do not expire.
func (s *FSStore) SignedURL(_ context.Context, uri string, _ time.Duration) (string, error) {
	if _, err := s.path(uri); err != nil {
		return "", err
	}
	return uri, nil
}

func (s *FSStore) Delete(_ context.Context, uri string) error {
	p, err := s.path(uri)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return eris.Wrapf(ErrNotFound, "blob: %s", uri)
		}
		return eris.Wrapf(err, "blob: delete %s", uri)
	}
	return nil
}

// path resolves a file:// URI and rejects anything outside the root.
func (s *FSStore) path(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return "", eris.Errorf("blob: invalid file URI %q", uri)
	}
	p := filepath.Clean(filepath.FromSlash(u.Path))
	if p != s.root && !strings.HasPrefix(p, s.root+string(filepath.Separator)) {
		return "", eris.Errorf("blob: %q is outside %s", uri, s.root)
	}
	return p, nil
}
