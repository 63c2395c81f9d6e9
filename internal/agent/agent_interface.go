package agent

import (
	"context"
	"errors"

	"github.com/ashureev/ecoplan/internal/domain"
)

// View is the kind of image an agent is asked to draw.
type View string

const (
	ViewBlueprint View = "blueprint"
	ViewIsometric View = "isometric"
	ViewExterior  View = "exterior"
	ViewInterior  View = "interior"
)

// IsometricViews are rendered together once the blueprint is confirmed.
var IsometricViews = []View{ViewIsometric, ViewExterior, ViewInterior}

// ErrNoImage is returned when an agent answers without an image.
var ErrNoImage = errors.New("agent returned no image")

// Image is raw image bytes with their media type.
type Image struct {
	Data     []byte
	MIMEType string
}

// RenderRequest asks for one view of a design.
type RenderRequest struct {
	SessionID string
	AttemptID string
	View      View
	Style     string
	Design    *domain.DesignContext
	// Reference is the confirmed blueprint when rendering 3D views.
	Reference *Image
}

// RenderResult is a generated image and any text the agent returned with it.
type RenderResult struct {
	Image
	Notes string
}

// Renderer generates design images.
type Renderer interface {
	// Name identifies the agent in progress snapshots and metrics.
	Name() string

	// Render produces one view. Implementations must honour ctx cancellation.
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// Ensure implementations satisfy Renderer.
var (
	_ Renderer = (*GrpcRenderer)(nil)
	_ Renderer = (*GeminiRenderer)(nil)
	_ Renderer = (*PlaceholderRenderer)(nil)
	_ Renderer = (*Guard)(nil)
)
