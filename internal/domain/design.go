package domain

// Severity grades a design conflict.
type Severity string

const (
	SeverityMinor Severity = "minor"
	SeverityMajor Severity = "major"
)

// Plot is the site geometry in feet.
type Plot struct {
	Width float64 `json:"width"`
	Depth float64 `json:"depth"`
	Unit  string  `json:"unit"`
	Area  float64 `json:"area"`
}

// Room is one entry of the derived room program.
type Room struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Zone           string  `json:"zone"`
	Floor          int     `json:"floor"`
	Width          float64 `json:"width"`
	Depth          float64 `json:"depth"`
	Area           float64 `json:"area"`
	VastuDirection string  `json:"vastuDirection,omitempty"`
}

// Features are the eco and layout preferences carried into rendering.
type Features struct {
	Courtyard   bool     `json:"courtyard"`
	Verandah    bool     `json:"verandah"`
	EcoFeatures []string `json:"ecoFeatures,omitempty"`
	Materials   string   `json:"materials,omitempty"`
	Vastu       string   `json:"vastu,omitempty"`
	Style       string   `json:"style,omitempty"`
}

// Conflict is a constraint violation found while deriving the design.
type Conflict struct {
	Code        string   `json:"code"`
	Severity    Severity `json:"severity"`
	Message     string   `json:"message"`
	QuestionIDs []string `json:"questionIds,omitempty"`
}

// ImageRef points at a generated image.
type ImageRef struct {
	Key      string `json:"key,omitempty"`
	URL      string `json:"url"`
	MIMEType string `json:"mimeType"`
	Agent    string `json:"agent,omitempty"`
}

// DesignContext is the design data accumulated by the generation pipeline.
type DesignContext struct {
	ProjectType ProjectType         `json:"projectType"`
	ClientName  string              `json:"clientName,omitempty"`
	Location    string              `json:"location,omitempty"`
	Plot        Plot                `json:"plot"`
	RoadSide    string              `json:"roadSide"`
	Orientation string              `json:"orientation"`
	Floors      int                 `json:"floors"`
	Rooms       []Room              `json:"rooms"`
	Features    Features            `json:"features"`
	Conflicts   []Conflict          `json:"conflicts,omitempty"`
	BuiltUpArea float64             `json:"builtUpArea"`
	Buildable   float64             `json:"buildableArea"`
	Feedback    string              `json:"feedback,omitempty"`
	Images      map[string]ImageRef `json:"images,omitempty"`
}

// MajorConflicts returns the conflicts that block generation.
func (d *DesignContext) MajorConflicts() []Conflict {
	if d == nil {
		return nil
	}
	var out []Conflict
	for _, c := range d.Conflicts {
		if c.Severity == SeverityMajor {
			out = append(out, c)
		}
	}
	return out
}

// Clone returns a deep copy.
func (d *DesignContext) Clone() *DesignContext {
	if d == nil {
		return nil
	}
	out := *d
	out.Rooms = append([]Room(nil), d.Rooms...)
	out.Conflicts = nil
	for _, c := range d.Conflicts {
		c.QuestionIDs = append([]string(nil), c.QuestionIDs...)
		out.Conflicts = append(out.Conflicts, c)
	}
	out.Features.EcoFeatures = append([]string(nil), d.Features.EcoFeatures...)
	if d.Images != nil {
		out.Images = make(map[string]ImageRef, len(d.Images))
		for k, v := range d.Images {
			out.Images[k] = v
		}
	}
	return &out
}

// Summary is the human-facing digest of a blueprint.
type Summary struct {
	PlotSize       string   `json:"plotSize"`
	PlotArea       float64  `json:"plotArea"`
	BuiltUpArea    float64  `json:"builtUpArea"`
	RoomCount      int      `json:"roomCount"`
	Floors         int      `json:"floors"`
	HasCourtyard   bool     `json:"hasCourtyard"`
	HasVerandah    bool     `json:"hasVerandah"`
	VastuCompliant bool     `json:"vastuCompliant"`
	Materials      string   `json:"materials,omitempty"`
	EcoFeatures    []string `json:"ecoFeatures,omitempty"`
	Notes          []string `json:"notes,omitempty"`
	Text           string   `json:"text"`
}

// GenerationResult is attached when the isometric phase completes.
type GenerationResult struct {
	Images        map[string]ImageRef `json:"images"`
	DesignContext *DesignContext      `json:"designContext"`
	Summary       Summary             `json:"summary"`
	SummaryText   string              `json:"summaryText"`
}

// OpenQuestion asks the client to revisit an answer after a halt.
type OpenQuestion struct {
	QuestionID string `json:"questionId"`
	Prompt     string `json:"prompt"`
	Reason     string `json:"reason"`
}
