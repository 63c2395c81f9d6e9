package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ashureev/ecoplan/internal/domain"
)

// Local writes images below a directory.
type Local struct {
	dir    string
	prefix string
}

// NewLocal creates dir if needed.
func NewLocal(dir, urlPrefix string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("image directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	if urlPrefix == "" {
		urlPrefix = DefaultURLPrefix
	}
	return &Local{dir: dir, prefix: urlPrefix}, nil
}

// Put implements Store. The file is written to a temp name and renamed so
// readers never see a partial image.
func (l *Local) Put(ctx context.Context, sessionID, name string, data []byte, mimeType string) (domain.ImageRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImageRef{}, err
	}
	key, err := ObjectKey(sessionID, name, mimeType)
	if err != nil {
		return domain.ImageRef{}, err
	}
	dst := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return domain.ImageRef{}, fmt.Errorf("create session image directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return domain.ImageRef{}, fmt.Errorf("create image file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.ImageRef{}, fmt.Errorf("write image %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return domain.ImageRef{}, fmt.Errorf("write image %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return domain.ImageRef{}, fmt.Errorf("store image %s: %w", key, err)
	}
	return ref(key, l.prefix, mimeType), nil
}

// Open implements Store.
func (l *Local) Open(_ context.Context, key string) (io.ReadCloser, string, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(filepath.Join(l.dir, filepath.FromSlash(key)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("open image %s: %w", key, err)
	}
	return f, mimeFromKey(key), nil
}
