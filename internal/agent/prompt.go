package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
)

// Style describes how a drawing should look.
type Style struct {
	Name        string
	Background  string
	Lines       string
	Accents     string
	Description string
}

// Styles are the drawing styles a client can pick for the blueprint.
var Styles = map[string]Style{
	"professional": {
		Name:        "Professional CAD",
		Background:  "white",
		Lines:       "black",
		Accents:     "red for dimensions",
		Description: "Clean professional CAD drawing suitable for construction documents",
	},
	"blueprint": {
		Name:        "Classic Blueprint",
		Background:  "dark blue (#003366)",
		Lines:       "white/cyan",
		Accents:     "light blue",
		Description: "Traditional blueprint style with white lines on dark blue background",
	},
	"sketch": {
		Name:        "Architectural Sketch",
		Background:  "cream/off-white",
		Lines:       "dark gray",
		Accents:     "sepia tones",
		Description: "Hand-drawn architectural sketch feel",
	},
}

// DefaultStyle is used when the client did not choose one.
const DefaultStyle = "professional"

// StyleFor returns the named style or the default.
func StyleFor(name string) Style {
	if s, ok := Styles[name]; ok {
		return s
	}
	return Styles[DefaultStyle]
}

// BuildPrompt writes the instruction text for one view.
func BuildPrompt(req RenderRequest) string {
	d := req.Design
	if d == nil {
		d = &domain.DesignContext{}
	}
	var b strings.Builder

	switch req.View {
	case ViewBlueprint:
		s := StyleFor(req.Style)
		fmt.Fprintf(&b, "Draw a %s architectural floor plan for an eco-friendly %s building in %s.\n\n",
			s.Name, d.ProjectType, orDefault(d.Location, "Tamil Nadu, India"))
		fmt.Fprintf(&b, "## Style: %s\n- Background: %s\n- Lines: %s\n- Accents: %s\n- %s\n\n",
			s.Name, s.Background, s.Lines, s.Accents, s.Description)
	case ViewIsometric:
		b.WriteString("Using the attached confirmed floor plan, draw a 3D isometric cutaway of the building with the roof removed so every room is visible.\n\n")
	case ViewExterior:
		b.WriteString("Using the attached confirmed floor plan, render a photorealistic exterior street view of the building at golden hour.\n\n")
	case ViewInterior:
		b.WriteString("Using the attached confirmed floor plan, render a photorealistic interior view of the main living space looking towards the courtyard or garden.\n\n")
	}

	b.WriteString("## Site\n")
	fmt.Fprintf(&b, "- Plot: %s x %s ft (%.0f sq.ft), road on the %s side\n",
		trimFloat(d.Plot.Width), trimFloat(d.Plot.Depth), d.Plot.Area, orDefault(d.RoadSide, "south"))
	fmt.Fprintf(&b, "- Floors: %d, built-up area about %.0f sq.ft\n\n", max(d.Floors, 1), d.BuiltUpArea)

	if len(d.Rooms) > 0 {
		b.WriteString("## Room schedule\n")
		for _, r := range d.Rooms {
			fmt.Fprintf(&b, "- %s (floor %d): %s' x %s' = %.0f sq.ft", r.Name, r.Floor, trimFloat(r.Width), trimFloat(r.Depth), r.Area)
			if r.VastuDirection != "" {
				fmt.Fprintf(&b, ", %s", r.VastuDirection)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("## Materials and eco features\n")
	fmt.Fprintf(&b, "- Walling: %s\n", orDefault(materialNames[d.Features.Materials], "burnt clay brick masonry"))
	if len(d.Features.EcoFeatures) > 0 {
		feats := append([]string(nil), d.Features.EcoFeatures...)
		sort.Strings(feats)
		fmt.Fprintf(&b, "- Eco features: %s\n", strings.ReplaceAll(strings.Join(feats, ", "), "_", " "))
	}
	if d.Features.Courtyard {
		b.WriteString("- Open-to-sky central courtyard (nadumuttam)\n")
	}
	if d.Features.Verandah {
		b.WriteString("- Front verandah (thinnai) on the road side\n")
	}
	if d.Features.Vastu == "strict" || d.Features.Vastu == "flexible" {
		fmt.Fprintf(&b, "- Follow Vastu zoning (%s)\n", d.Features.Vastu)
	}
	if d.Feedback != "" {
		fmt.Fprintf(&b, "\n## Client feedback on the previous draft\n%s\n", d.Feedback)
	}

	if req.View == ViewBlueprint {
		b.WriteString(`
## Requirements
1. Room names and areas centered in each space
2. Dimensions in feet-inches format (e.g. 15'-6")
3. External walls bold, internal walls medium weight
4. Door swings, staircase step lines with arrow, north arrow and scale bar
5. Follow NBC 2016 drawing conventions

Generate the floor plan now.`)
	} else {
		b.WriteString("\nKeep the geometry consistent with the floor plan. Show the walling material and eco features clearly.")
	}
	return b.String()
}

var materialNames = map[string]string{
	"cseb":         "compressed stabilised earth blocks",
	"laterite":     "laterite stone",
	"rammed_earth": "rammed earth",
	"flyash_brick": "fly-ash bricks",
	"clay_brick":   "burnt clay bricks",
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func trimFloat(f float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.1f", f), "0"), ".")
}
