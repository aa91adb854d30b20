package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

var ErrInvalidKey = errors.New("invalid blob key")

// BlobWriter accepts artifacts addressed by slash-separated keys.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type BlobStore interface {
	BlobWriter
	Get(ctx context.Context, key string) ([]byte, error)
}

// DirStore keeps blobs as files under a root directory.
type DirStore struct {
	dir string
	mu  sync.Mutex
}

func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (d *DirStore) Dir() string {
	return d.dir
}

// Path maps key to a file below the store's directory. Keys may not escape it.
func (d *DirStore) Path(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(d.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (d *DirStore) Put(_ context.Context, key string, data []byte, _ string) error {
	p, err := d.Path(key)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(p), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-"+filepath.Base(p)+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", key, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (d *DirStore) Get(_ context.Context, key string) ([]byte, error) {
	p, err := d.Path(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Mirror writes to a primary store and copies every artifact to best-effort
// secondaries. Reads come from the primary only.
type Mirror struct {
	primary     BlobStore
	secondaries []BlobWriter
}

func NewMirror(primary BlobStore, secondaries ...BlobWriter) *Mirror {
	return &Mirror{primary: primary, secondaries: secondaries}
}

func (m *Mirror) Get(ctx context.Context, key string) ([]byte, error) {
	return m.primary.Get(ctx, key)
}

func (m *Mirror) Put(ctx context.Context, key string, data []byte, contentType string) error {
	if err := m.primary.Put(ctx, key, data, contentType); err != nil {
		return err
	}
	for _, s := range m.secondaries {
		if err := s.Put(ctx, key, data, contentType); err != nil {
			slog.Warn("mirror: secondary put failed", "key", key, "error", err)
		}
	}
	return nil
}
