// Package imagestore persists generated design images.
package imagestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
)

// ErrNotFound is returned when a key has no stored image.
var ErrNotFound = errors.New("image not found")

// ErrBadKey is returned for keys that escape the session namespace.
var ErrBadKey = errors.New("invalid image key")

// DefaultURLPrefix is where the HTTP API serves stored images.
const DefaultURLPrefix = "/api/design/images/"

// Store saves images and hands back a reference clients can load.
type Store interface {
	Put(ctx context.Context, sessionID, name string, data []byte, mimeType string) (domain.ImageRef, error)
	// Open returns the image body and its media type.
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

var extensions = map[string]string{
	"image/png":     ".png",
	"image/jpeg":    ".jpg",
	"image/webp":    ".webp",
	"image/svg+xml": ".svg",
}

var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
}

// ObjectKey builds the key for one image of a session.
func ObjectKey(sessionID, name, mimeType string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	name = strings.TrimSpace(name)
	if sessionID == "" || name == "" {
		return "", fmt.Errorf("%w: session id and name are required", ErrBadKey)
	}
	ext, ok := extensions[mimeType]
	if !ok {
		ext = ".bin"
	}
	return CleanKey(sessionID + "/" + name + ext)
}

// CleanKey normalizes a key and rejects anything outside a session folder.
func CleanKey(key string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(key))[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") || strings.Count(cleaned, "/") != 1 {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return cleaned, nil
}

func mimeFromKey(key string) string {
	if m, ok := mimeTypes[path.Ext(key)]; ok {
		return m
	}
	return "application/octet-stream"
}

func ref(key, prefix, mimeType string) domain.ImageRef {
	return domain.ImageRef{Key: key, URL: prefix + key, MIMEType: mimeType}
}

// Load reads an image back from its reference. Inline data URLs are decoded
// without touching the store.
func Load(ctx context.Context, s Store, r domain.ImageRef) ([]byte, string, error) {
	if rest, ok := strings.CutPrefix(r.URL, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !found || !isBase64 {
			return nil, "", fmt.Errorf("%w: malformed data url", ErrBadKey)
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("decode inline image: %w", err)
		}
		return data, mimeType, nil
	}
	rc, mimeType, err := s.Open(ctx, r.Key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("read image %s: %w", r.Key, err)
	}
	return data, mimeType, nil
}
