package imagestore

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"s1/blueprint.png", "s1/blueprint.png", true},
		{"/s1/blueprint.png", "s1/blueprint.png", true},
		{"../etc/passwd", "", false},
		{"s1/../../x.png", "", false},
		{"s1/a/b.png", "", false},
		{"blueprint.png", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := CleanKey(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrBadKey, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestInline(t *testing.T) {
	r, err := Inline{}.Put(context.Background(), "s1", "blueprint", []byte("abc"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,YWJj", r.URL)
	assert.Empty(t, r.Key)

	_, _, err = Inline{}.Open(context.Background(), "s1/blueprint.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalRoundTrip(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	r, err := l.Put(context.Background(), "s1", "isometric", []byte("<svg/>"), "image/svg+xml")
	require.NoError(t, err)
	assert.Equal(t, "s1/isometric.svg", r.Key)
	assert.Equal(t, "/api/design/images/s1/isometric.svg", r.URL)

	rc, mimeType, err := l.Open(context.Background(), r.Key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(body))
	assert.Equal(t, "image/svg+xml", mimeType)

	// Overwrite on regeneration.
	_, err = l.Put(context.Background(), "s1", "isometric", []byte("<svg>2</svg>"), "image/svg+xml")
	require.NoError(t, err)
	rc2, _, err := l.Open(context.Background(), r.Key)
	require.NoError(t, err)
	defer rc2.Close()
	body, _ = io.ReadAll(rc2)
	assert.Equal(t, "<svg>2</svg>", string(body))

	_, _, err = l.Open(context.Background(), "s1/missing.png")
	assert.ErrorIs(t, err, ErrNotFound)
	_, _, err = l.Open(context.Background(), "../secret.png")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestS3RoundTrip(t *testing.T) {
	endpoint := os.Getenv("S3_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("S3_TEST_ENDPOINT not set")
	}
	s, err := NewS3(S3Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("S3_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("S3_TEST_SECRET_KEY"),
		Bucket:    "ecoplan-test",
	})
	require.NoError(t, err)

	r, err := s.Put(context.Background(), "s1", "blueprint", []byte("png"), "image/png")
	require.NoError(t, err)
	rc, mimeType, err := s.Open(context.Background(), r.Key)
	require.NoError(t, err)
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	assert.Equal(t, "png", string(body))
	assert.Equal(t, "image/png", mimeType)

	_, _, err = s.Open(context.Background(), "s1/nope.png")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewS3Validation(t *testing.T) {
	_, err := NewS3(S3Config{Endpoint: "localhost:9000", Bucket: "b"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "access key"))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	inline, err := Inline{}.Put(ctx, "s1", "blueprint", []byte("abc"), "image/png")
	require.NoError(t, err)
	data, mimeType, err := Load(ctx, Inline{}, inline)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
	assert.Equal(t, "image/png", mimeType)

	l, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)
	stored, err := l.Put(ctx, "s1", "blueprint", []byte("svg"), "image/svg+xml")
	require.NoError(t, err)
	data, mimeType, err = Load(ctx, l, stored)
	require.NoError(t, err)
	assert.Equal(t, "svg", string(data))
	assert.Equal(t, "image/svg+xml", mimeType)

	_, _, err = Load(ctx, l, domain.ImageRef{URL: "data:image/png,abc"})
	assert.ErrorIs(t, err, ErrBadKey)
}
