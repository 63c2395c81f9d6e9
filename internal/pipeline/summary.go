package pipeline

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
)

var materialLabels = map[string]string{
	"cseb":         "CSEB (compressed stabilised earth blocks)",
	"laterite":     "Laterite stone",
	"rammed_earth": "Rammed earth",
	"flyash_brick": "Fly-ash bricks",
	"clay_brick":   "Burnt clay bricks",
}

// Summarize digests a design context for the client.
func Summarize(d *domain.DesignContext) domain.Summary {
	if d == nil {
		return domain.Summary{}
	}
	s := domain.Summary{
		PlotSize:       fmt.Sprintf("%s' x %s'", trim(d.Plot.Width), trim(d.Plot.Depth)),
		PlotArea:       d.Plot.Area,
		BuiltUpArea:    d.BuiltUpArea,
		RoomCount:      len(d.Rooms),
		Floors:         max(d.Floors, 1),
		HasCourtyard:   d.Features.Courtyard,
		HasVerandah:    d.Features.Verandah,
		VastuCompliant: len(d.MajorConflicts()) == 0,
		Materials:      materialLabels[d.Features.Materials],
		EcoFeatures:    append([]string(nil), d.Features.EcoFeatures...),
	}
	sort.Strings(s.EcoFeatures)
	for _, c := range d.Conflicts {
		if c.Severity == domain.SeverityMinor {
			s.Notes = append(s.Notes, c.Message)
		}
	}

	var b strings.Builder
	name := d.ClientName
	if name == "" {
		name = "Your"
	} else {
		name += "'s"
	}
	fmt.Fprintf(&b, "%s %s design: %s plot (%.0f sq.ft), %d floor(s), %d spaces, about %.0f sq.ft built-up.",
		name, d.ProjectType, s.PlotSize, s.PlotArea, s.Floors, s.RoomCount, s.BuiltUpArea)

	var feats []string
	if s.HasCourtyard {
		feats = append(feats, "central courtyard")
	}
	if s.HasVerandah {
		feats = append(feats, "front verandah")
	}
	for _, f := range s.EcoFeatures {
		feats = append(feats, strings.ReplaceAll(f, "_", " "))
	}
	if len(feats) > 0 {
		fmt.Fprintf(&b, " Features: %s.", strings.Join(feats, ", "))
	}
	if s.Materials != "" {
		fmt.Fprintf(&b, " Walling: %s.", s.Materials)
	}
	if d.Features.Vastu == "strict" || d.Features.Vastu == "flexible" {
		b.WriteString(" Rooms follow Vastu zoning.")
	}
	s.Text = b.String()
	return s
}
