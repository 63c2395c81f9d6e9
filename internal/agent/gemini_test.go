package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeModels struct {
	resp     *genai.GenerateContentResponse
	err      error
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func reply(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: parts}}}}
}

func TestGeminiRendererReturnsInlineImage(t *testing.T) {
	fm := &fakeModels{resp: reply(
		&genai.Part{Text: "Here is your plan."},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/jpeg", Data: []byte("jpg")}},
	)}
	r := NewGeminiRenderer(fm, "image-model", nil)

	res, err := r.Render(context.Background(), RenderRequest{
		View:      ViewExterior,
		Design:    &domain.DesignContext{},
		Reference: &Image{Data: []byte("bp"), MIMEType: "image/png"},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpg"), res.Data)
	assert.Equal(t, "image/jpeg", res.MIMEType)
	assert.Equal(t, "Here is your plan.", res.Notes)
	assert.Equal(t, "gemini:image-model", r.Name())

	require.Len(t, fm.contents, 1)
	parts := fm.contents[0].Parts
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].Text, "exterior")
	assert.Equal(t, []byte("bp"), parts[1].InlineData.Data)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, fm.config.ResponseModalities)
}

func TestGeminiRendererTextOnly(t *testing.T) {
	fm := &fakeModels{resp: reply(&genai.Part{Text: "I cannot draw that."})}
	_, err := NewGeminiRenderer(fm, "m", nil).Render(context.Background(), RenderRequest{View: ViewBlueprint})
	assert.ErrorIs(t, err, ErrNoImage)
}

func TestGeminiRendererError(t *testing.T) {
	fm := &fakeModels{err: errors.New("quota exceeded")}
	_, err := NewGeminiRenderer(fm, "m", nil).Render(context.Background(), RenderRequest{View: ViewBlueprint})
	assert.ErrorContains(t, err, "quota exceeded")
}
