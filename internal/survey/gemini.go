package survey

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// ContentGenerator is the subset of the genai Models service used here.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

const extractionPrompt = `This is a survey sketch or site plan of a residential plot in India.
Read the plot boundary dimensions and the side of the plot that faces the road.

Return JSON only, with this shape:
{"width": <frontage width in feet>, "depth": <depth in feet>, "unit": "feet",
 "roadSide": "north" | "south" | "east" | "west", "confidence": <0..1>}

Convert metres to feet (1 m = 3.281 ft). Width is the side along the road.
If the sketch is unreadable, return {"width": 0, "depth": 0, "confidence": 0}.`

// GeminiExtractor asks a Gemini vision model to read the sketch.
type GeminiExtractor struct {
	models ContentGenerator
	model  string
	// MinConfidence rejects low-confidence readings.
	MinConfidence float64
}

// NewGeminiExtractor creates an extractor using model.
func NewGeminiExtractor(models ContentGenerator, model string) *GeminiExtractor {
	return &GeminiExtractor{models: models, model: model, MinConfidence: 0.3}
}

// Extract sends the document with the extraction instruction and parses the
// JSON reply.
func (g *GeminiExtractor) Extract(ctx context.Context, doc Document) (*Dimensions, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: extractionPrompt},
				{InlineData: &genai.Blob{MIMEType: doc.MIMEType, Data: doc.Data}},
			},
		}},
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini extract: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, fmt.Errorf("%w: empty model response", ErrUnreadable)
	}

	var dims Dimensions
	if err := json.Unmarshal([]byte(text), &dims); err != nil {
		return nil, fmt.Errorf("%w: decode model response: %v", ErrUnreadable, err)
	}
	dims.RoadSide = strings.ToLower(strings.TrimSpace(dims.RoadSide))
	if dims.Unit == "" {
		dims.Unit = "feet"
	}
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if dims.Confidence < g.MinConfidence {
		return nil, fmt.Errorf("%w: confidence %.2f", ErrUnreadable, dims.Confidence)
	}

	slog.Debug("survey dimensions extracted",
		"width", dims.Width, "depth", dims.Depth, "road_side", dims.RoadSide, "confidence", dims.Confidence)
	return &dims, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" {
			b.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}
