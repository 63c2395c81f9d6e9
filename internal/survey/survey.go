// Package survey reads plot dimensions and road side from an uploaded survey
// sketch.
package survey

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
)

var (
	// ErrUnavailable is returned when no extraction backend is configured.
	ErrUnavailable = errors.New("survey extraction unavailable")
	// ErrUnreadable is returned when the document yields no usable dimensions.
	ErrUnreadable = errors.New("survey sketch could not be read")
	// ErrBadDocument is returned for an upload answer that is not a file.
	ErrBadDocument = errors.New("invalid survey document")
)

// maxDocumentBytes bounds decoded uploads.
const maxDocumentBytes = 10 << 20

// Document is a decoded upload.
type Document struct {
	Data     []byte
	MIMEType string
	Name     string
}

// Dimensions are the values read from a survey sketch, in feet.
type Dimensions struct {
	Width      float64 `json:"width"`
	Depth      float64 `json:"depth"`
	Unit       string  `json:"unit"`
	RoadSide   string  `json:"roadSide"`
	Confidence float64 `json:"confidence"`
}

// Validate rejects non-positive sizes and unknown road sides.
func (d *Dimensions) Validate() error {
	if d.Width <= 0 || d.Depth <= 0 {
		return fmt.Errorf("%w: non-positive dimensions %gx%g", ErrUnreadable, d.Width, d.Depth)
	}
	switch d.RoadSide {
	case "north", "south", "east", "west":
	default:
		return fmt.Errorf("%w: road side %q", ErrUnreadable, d.RoadSide)
	}
	return nil
}

// Extractor reads dimensions from a survey document.
type Extractor interface {
	Extract(ctx context.Context, doc Document) (*Dimensions, error)
}

// Unavailable is the extractor used when no backend is configured.
type Unavailable struct{}

// Extract always fails.
func (Unavailable) Extract(context.Context, Document) (*Dimensions, error) {
	return nil, ErrUnavailable
}

// ParseDocument decodes an upload answer. Accepted shapes are a data URL, a
// bare base64 string, or a form with data, mimeType and name fields.
func ParseDocument(v domain.Value) (Document, error) {
	var raw, mime, name string
	switch v.Kind {
	case domain.ValueText:
		raw = v.Text
	case domain.ValueFields:
		raw = v.Fields["data"]
		mime = v.Fields["mimeType"]
		name = v.Fields["name"]
	default:
		return Document{}, fmt.Errorf("%w: expected a file", ErrBadDocument)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Document{}, fmt.Errorf("%w: empty upload", ErrBadDocument)
	}

	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return Document{}, fmt.Errorf("%w: data URL must be base64 encoded", ErrBadDocument)
		}
		mime = strings.TrimSuffix(meta, ";base64")
		raw = payload
	}

	if base64.StdEncoding.DecodedLen(len(raw)) > maxDocumentBytes {
		return Document{}, fmt.Errorf("%w: file exceeds %d bytes", ErrBadDocument, maxDocumentBytes)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(raw); err != nil {
			return Document{}, fmt.Errorf("%w: %v", ErrBadDocument, err)
		}
	}
	if len(data) == 0 {
		return Document{}, fmt.Errorf("%w: empty upload", ErrBadDocument)
	}
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return Document{Data: data, MIMEType: mime, Name: name}, nil
}

// Accepts reports whether the document's type is in accept. An empty list
// accepts everything.
func Accepts(accept []string, doc Document) bool {
	if len(accept) == 0 {
		return true
	}
	mime, _, _ := strings.Cut(doc.MIMEType, ";")
	for _, a := range accept {
		if strings.EqualFold(strings.TrimSpace(a), mime) {
			return true
		}
	}
	return false
}
