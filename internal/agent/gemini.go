package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// ContentGenerator is the subset of the genai Models service used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiRenderer draws views with a Gemini image model.
type GeminiRenderer struct {
	models ContentGenerator
	model  string
	logger *slog.Logger
}

// NewGeminiRenderer creates a renderer for model.
func NewGeminiRenderer(models ContentGenerator, model string, logger *slog.Logger) *GeminiRenderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiRenderer{models: models, model: model, logger: logger}
}

// Name implements Renderer.
func (g *GeminiRenderer) Name() string { return "gemini:" + g.model }

// Render sends the prompt, plus the reference blueprint when present, and
// returns the first inline image of the reply.
func (g *GeminiRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	parts := []*genai.Part{{Text: BuildPrompt(req)}}
	if req.Reference != nil && len(req.Reference.Data) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: req.Reference.MIMEType,
			Data:     req.Reference.Data,
		}})
	}

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini %s render: %w", req.View, err)
	}

	result, ok := imageFromResponse(resp)
	if !ok {
		return nil, fmt.Errorf("gemini %s render: %w", req.View, ErrNoImage)
	}
	if result.Notes != "" {
		g.logger.Debug("model text response", "session_id", req.SessionID, "view", req.View, "notes", truncate(result.Notes, 200))
	}
	return result, nil
}

func imageFromResponse(resp *genai.GenerateContentResponse) (*RenderResult, bool) {
	if resp == nil {
		return nil, false
	}
	var notes []string
	var img *genai.Blob
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p == nil {
				continue
			}
			if p.Text != "" {
				notes = append(notes, p.Text)
			}
			if img == nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				img = p.InlineData
			}
		}
		if img != nil {
			break
		}
	}
	if img == nil {
		return nil, false
	}
	mime := img.MIMEType
	if mime == "" {
		mime = "image/png"
	}
	return &RenderResult{
		Image: Image{Data: img.Data, MIMEType: mime},
		Notes: strings.TrimSpace(strings.Join(notes, "\n")),
	}, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
