package survey

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestParseDocument(t *testing.T) {
	b64 := base64.StdEncoding.EncodeToString(pngHeader)

	tests := []struct {
		name     string
		in       domain.Value
		wantMIME string
		wantErr  bool
	}{
		{"data url", domain.Text("data:image/jpeg;base64," + b64), "image/jpeg", false},
		{"bare base64 sniffs type", domain.Text(b64), "image/png", false},
		{"form", domain.Fields(map[string]string{"data": b64, "mimeType": "application/pdf", "name": "survey.pdf"}), "application/pdf", false},
		{"not base64", domain.Text("hello world!"), "", true},
		{"url without base64", domain.Text("data:image/png," + b64), "", true},
		{"list", domain.List("a"), "", true},
		{"empty", domain.Text("  "), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadDocument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMIME, doc.MIMEType)
			assert.Equal(t, pngHeader, doc.Data)
		})
	}
}

func TestAccepts(t *testing.T) {
	doc := Document{MIMEType: "image/png"}
	assert.True(t, Accepts(nil, doc))
	assert.True(t, Accepts([]string{"image/jpeg", "image/png"}, doc))
	assert.False(t, Accepts([]string{"application/pdf"}, doc))
}

type fakeModels struct {
	reply string
	err   error
	got   []*genai.Content
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, _ *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.got = contents
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}}}},
	}, nil
}

func TestGeminiExtractor(t *testing.T) {
	doc := Document{Data: pngHeader, MIMEType: "image/png"}

	t.Run("reads dimensions", func(t *testing.T) {
		fm := &fakeModels{reply: "```json\n{\"width\": 40, \"depth\": 60, \"roadSide\": \"South\", \"confidence\": 0.9}\n```"}
		dims, err := NewGeminiExtractor(fm, "vision").Extract(context.Background(), doc)
		require.NoError(t, err)
		assert.Equal(t, &Dimensions{Width: 40, Depth: 60, Unit: "feet", RoadSide: "south", Confidence: 0.9}, dims)

		require.Len(t, fm.got, 1)
		require.Len(t, fm.got[0].Parts, 2)
		assert.Equal(t, "image/png", fm.got[0].Parts[1].InlineData.MIMEType)
	})

	t.Run("unreadable sketch", func(t *testing.T) {
		fm := &fakeModels{reply: `{"width": 0, "depth": 0, "confidence": 0}`}
		_, err := NewGeminiExtractor(fm, "vision").Extract(context.Background(), doc)
		assert.ErrorIs(t, err, ErrUnreadable)
	})

	t.Run("low confidence", func(t *testing.T) {
		fm := &fakeModels{reply: `{"width": 40, "depth": 60, "roadSide": "east", "confidence": 0.1}`}
		_, err := NewGeminiExtractor(fm, "vision").Extract(context.Background(), doc)
		assert.ErrorIs(t, err, ErrUnreadable)
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("quota exceeded")
		_, err := NewGeminiExtractor(&fakeModels{err: boom}, "vision").Extract(context.Background(), doc)
		assert.ErrorIs(t, err, boom)
	})
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Extract(context.Background(), Document{})
	assert.ErrorIs(t, err, ErrUnavailable)
}
