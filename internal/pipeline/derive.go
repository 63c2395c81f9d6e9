// Package pipeline turns collected answers into a design and drives the two
// generation phases.
package pipeline

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/questionflow"
)

const (
	// groundCoverage is the share of the plot a floor may cover.
	groundCoverage = 0.7
	// circulation adds walls and passages to the net room areas.
	circulation = 1.1
	// minCourtyardPlotWidth is the narrowest plot that takes a courtyard.
	minCourtyardPlotWidth = 30.0
	// minVerandahSetback is the front setback a verandah needs.
	minVerandahSetback = 10.0
	feetPerMetre       = 3.28084
)

// Conflict codes.
const (
	ConflictMissingPlot     = "missing_plot_dimensions"
	ConflictOverBuildable   = "program_exceeds_buildable_area"
	ConflictUnitsDoNotFit   = "units_do_not_fit"
	ConflictNarrowCourtyard = "courtyard_on_narrow_plot"
	ConflictVastuRoadSide   = "vastu_road_side"
	ConflictShallowVerandah = "verandah_without_setback"
)

const (
	defaultRoadSide          = "south"
	defaultResidentialFloors = 1
)

// vastuPlacement lists preferred directions per room type, best first.
var vastuPlacement = map[string][]string{
	"kitchen":           {"southeast", "east"},
	"master-bedroom":    {"southwest", "south"},
	"bedroom":           {"south", "northwest", "west", "southwest"},
	"pooja":             {"northeast", "north"},
	"living":            {"northeast", "north", "east"},
	"dining":            {"west", "northwest"},
	"attached-bathroom": {"northwest", "west"},
	"common-bathroom":   {"northwest", "west"},
	"courtyard":         {"center"},
	"staircase":         {"southwest", "south", "west"},
	"store":             {"northwest", "west"},
	"utility":           {"northwest", "southeast"},
	"study":             {"west", "north"},
	"guest":             {"northwest"},
	"balcony":           {"north", "east"},
	"unit":              {"west", "south", "east", "north"},
	"play-area":         {"north"},
	"community-hall":    {"northwest"},
	"garden":            {"northeast"},
	"workspace":         {"north"},
	"meeting":           {"west"},
	"pantry":            {"southeast"},
	"restrooms":         {"northwest"},
	"storage":           {"southwest"},
}

type roomSpec struct {
	typ    string
	name   string
	zone   string
	width  float64
	depth  float64
	upper  bool // goes on an upper floor when there is one
	open   bool // open to sky, not counted as built-up
	facing bool // sits on the road side
}

var additionalRooms = map[string]roomSpec{
	"pooja":   {typ: "pooja", name: "Pooja", zone: "private", width: 6, depth: 6},
	"study":   {typ: "study", name: "Study", zone: "private", width: 10, depth: 9, upper: true},
	"store":   {typ: "store", name: "Store", zone: "service", width: 6, depth: 6},
	"utility": {typ: "utility", name: "Utility", zone: "service", width: 6, depth: 5},
	"parking": {typ: "parking", name: "Car Parking", zone: "outdoor", width: 10, depth: 18, open: true, facing: true},
	"balcony": {typ: "balcony", name: "Balcony", zone: "outdoor", width: 10, depth: 5, upper: true},
	"guest":   {typ: "guest", name: "Guest Room", zone: "private", width: 11, depth: 10},
}

var unitAreas = map[string]float64{"1bhk": 500, "2bhk": 800, "3bhk": 1100}

var sharedAmenities = map[string]roomSpec{
	"courtyard":      {typ: "courtyard", name: "Shared Courtyard", zone: "outdoor", width: 15, depth: 15, open: true},
	"play_area":      {typ: "play-area", name: "Play Area", zone: "outdoor", width: 20, depth: 15, open: true},
	"parking":        {typ: "parking", name: "Shared Parking", zone: "outdoor", width: 20, depth: 18, open: true, facing: true},
	"community_hall": {typ: "community-hall", name: "Community Hall", zone: "public", width: 20, depth: 15},
	"garden":         {typ: "garden", name: "Garden", zone: "outdoor", width: 15, depth: 12, open: true},
}

var commercialSpaces = map[string]roomSpec{
	"reception": {typ: "reception", name: "Reception", zone: "public", width: 12, depth: 10, facing: true},
	"workspace": {typ: "workspace", name: "Workspace", zone: "public", width: 20, depth: 15},
	"meeting":   {typ: "meeting", name: "Meeting Room", zone: "public", width: 12, depth: 12, upper: true},
	"pantry":    {typ: "pantry", name: "Pantry", zone: "service", width: 8, depth: 8},
	"restrooms": {typ: "restrooms", name: "Restrooms", zone: "service", width: 8, depth: 6},
	"storage":   {typ: "storage", name: "Storage", zone: "service", width: 8, depth: 8},
	"display":   {typ: "display", name: "Display Area", zone: "public", width: 16, depth: 12, facing: true},
}

// Derive builds the design context from the collected inputs. Conflicts are
// reported in the context, not as an error; the error is reserved for input
// that cannot be interpreted at all.
func Derive(pt domain.ProjectType, inputs domain.Inputs) (*domain.DesignContext, error) {
	if !pt.Valid() {
		return nil, fmt.Errorf("unknown project type %q", pt)
	}

	d := &domain.DesignContext{
		ProjectType: pt,
		ClientName:  inputs.TextOf("clientName"),
		Location:    inputs.TextOf("location"),
		RoadSide:    inputs.TextOf(questionflow.KeyRoadSide),
		Floors:      atoiOr(inputs.TextOf("floors"), defaultResidentialFloors),
		Features: domain.Features{
			EcoFeatures: inputs.ListOf("ecoFeatures"),
			Materials:   inputs.TextOf("materials"),
			Vastu:       inputs.TextOf("vastu"),
			Style:       inputs.TextOf("renderStyle"),
		},
		Feedback: inputs.TextOf(questionflow.KeyFeedback),
	}
	if d.RoadSide == "" {
		d.RoadSide = defaultRoadSide
	}
	d.Orientation = d.RoadSide + "-facing"

	plot, ok := plotFrom(inputs.FieldsOf(questionflow.KeyPlotDimensions))
	if !ok {
		d.Conflicts = append(d.Conflicts, domain.Conflict{
			Code:        ConflictMissingPlot,
			Severity:    domain.SeverityMajor,
			Message:     "Plot width and depth are needed before a floor plan can be drawn.",
			QuestionIDs: []string{"plotInput", questionflow.KeyPlotDimensions},
		})
		return d, nil
	}
	d.Plot = plot

	var specs []roomSpec
	switch pt {
	case domain.ProjectResidential:
		d.Features.Courtyard = inputs.TextOf("courtyard") == "yes"
		d.Features.Verandah = inputs.TextOf("verandah") == "yes"
		specs = residentialProgram(inputs, d)
	case domain.ProjectCompound:
		if d.Floors < 2 {
			d.Floors = 2
		}
		d.Features.Courtyard = slices.Contains(inputs.ListOf("sharedAmenities"), "courtyard")
		specs = compoundProgram(inputs)
	case domain.ProjectCommercial:
		specs = commercialProgram(inputs, d)
	}
	d.Rooms = placeRooms(specs, d)

	ground := 0.0
	for i, r := range d.Rooms {
		if specs[i].open {
			continue
		}
		d.BuiltUpArea += r.Area
		if r.Floor == 0 {
			ground += r.Area
		}
	}
	d.BuiltUpArea = math.Round(d.BuiltUpArea * circulation)
	ground = math.Round(ground * circulation)
	d.Buildable = math.Round(plot.Area * groundCoverage * float64(d.Floors))

	d.Conflicts = append(d.Conflicts, checkConflicts(pt, inputs, d, ground)...)
	return d, nil
}

func plotFrom(f map[string]string) (domain.Plot, bool) {
	w, okW := domain.ParseNumber(f["width"])
	dp, okD := domain.ParseNumber(f["depth"])
	if !okW || !okD || w <= 0 || dp <= 0 {
		return domain.Plot{}, false
	}
	unit := strings.ToLower(strings.TrimSpace(f["unit"]))
	switch unit {
	case "m", "meter", "meters", "metre", "metres":
		w, dp = w*feetPerMetre, dp*feetPerMetre
	}
	w, dp = math.Round(w*10)/10, math.Round(dp*10)/10
	return domain.Plot{Width: w, Depth: dp, Unit: "feet", Area: math.Round(w * dp)}, true
}

func residentialProgram(inputs domain.Inputs, d *domain.DesignContext) []roomSpec {
	bedrooms := max(atoiOr(inputs.TextOf("bedrooms"), 2), 1)
	specs := []roomSpec{
		{typ: "living", name: "Living Room", zone: "public", width: 14, depth: 12},
		{typ: "dining", name: "Dining", zone: "public", width: 10, depth: 10},
		{typ: "kitchen", name: "Kitchen", zone: "service", width: 10, depth: 9},
		{typ: "master-bedroom", name: "Master Bedroom", zone: "private", width: 12, depth: 12},
		{typ: "attached-bathroom", name: "Attached Bath", zone: "service", width: 8, depth: 5},
	}
	for i := 2; i <= bedrooms; i++ {
		specs = append(specs, roomSpec{typ: "bedroom", name: fmt.Sprintf("Bedroom %d", i), zone: "private", width: 11, depth: 10, upper: true})
	}
	specs = append(specs, roomSpec{typ: "common-bathroom", name: "Common Bath", zone: "service", width: 7, depth: 5, upper: true})
	for _, extra := range inputs.ListOf("additionalRooms") {
		if s, ok := additionalRooms[extra]; ok {
			specs = append(specs, s)
		}
	}
	if d.Features.Courtyard {
		specs = append(specs, roomSpec{typ: "courtyard", name: "Courtyard", zone: "outdoor", width: 10, depth: 10, open: true})
	}
	if d.Features.Verandah {
		specs = append(specs, roomSpec{typ: "verandah", name: "Verandah", zone: "transition", width: 10, depth: 6, facing: true})
	}
	if d.Floors > 1 {
		specs = append(specs, roomSpec{typ: "staircase", name: "Staircase", zone: "transition", width: 10, depth: 8})
	}
	return specs
}

func compoundProgram(inputs domain.Inputs) []roomSpec {
	count := max(atoiOr(inputs.TextOf("unitCount"), 2), 1)
	unitType := inputs.TextOf("unitType")
	area, ok := unitAreas[unitType]
	if !ok {
		unitType, area = "2bhk", unitAreas["2bhk"]
	}
	side := math.Round(math.Sqrt(area))

	var specs []roomSpec
	for i := 1; i <= count; i++ {
		specs = append(specs, roomSpec{
			typ:   "unit",
			name:  fmt.Sprintf("Unit %d (%s)", i, strings.ToUpper(unitType)),
			zone:  "private",
			width: side,
			depth: area / side,
			upper: i%2 == 0,
		})
	}
	for _, a := range inputs.ListOf("sharedAmenities") {
		if s, ok := sharedAmenities[a]; ok {
			specs = append(specs, s)
		}
	}
	specs = append(specs, roomSpec{typ: "staircase", name: "Common Staircase", zone: "transition", width: 10, depth: 8})
	return specs
}

func commercialProgram(inputs domain.Inputs, d *domain.DesignContext) []roomSpec {
	var specs []roomSpec
	for _, s := range inputs.ListOf("spaces") {
		if spec, ok := commercialSpaces[s]; ok {
			specs = append(specs, spec)
		}
	}
	if inputs.TextOf("parking") == "yes" {
		specs = append(specs, roomSpec{typ: "parking", name: "Parking", zone: "outdoor", width: 18, depth: 20, open: true, facing: true})
	}
	if d.Floors > 1 {
		specs = append(specs, roomSpec{typ: "staircase", name: "Staircase", zone: "transition", width: 10, depth: 8})
	}
	return specs
}

// placeRooms assigns floors and vastu directions. Rooms of a type cycle
// through that type's preferred directions; rooms marked facing take the
// road side.
func placeRooms(specs []roomSpec, d *domain.DesignContext) []domain.Room {
	seen := map[string]int{}
	upperFloor := 0
	rooms := make([]domain.Room, 0, len(specs))
	for _, s := range specs {
		n := seen[s.typ]
		seen[s.typ] = n + 1

		dir := d.RoadSide
		if !s.facing {
			if prefs, ok := vastuPlacement[s.typ]; ok {
				dir = prefs[n%len(prefs)]
			} else {
				dir = "center"
			}
		}
		if s.typ == "living" && (d.RoadSide == "north" || d.RoadSide == "east") {
			dir = d.RoadSide
		}

		floor := 0
		if s.upper && d.Floors > 1 {
			upperFloor = upperFloor%(d.Floors-1) + 1
			floor = upperFloor
		}

		rooms = append(rooms, domain.Room{
			ID:             fmt.Sprintf("%s-%d", s.typ, n+1),
			Name:           s.name,
			Type:           s.typ,
			Zone:           s.zone,
			Floor:          floor,
			Width:          s.width,
			Depth:          s.depth,
			Area:           math.Round(s.width * s.depth),
			VastuDirection: dir,
		})
	}
	return rooms
}

func checkConflicts(pt domain.ProjectType, inputs domain.Inputs, d *domain.DesignContext, ground float64) []domain.Conflict {
	var out []domain.Conflict

	if d.BuiltUpArea > d.Buildable {
		c := domain.Conflict{
			Severity: domain.SeverityMajor,
			Message: fmt.Sprintf("The requested spaces need about %.0f sq.ft but only %.0f sq.ft can be built on this plot with %d floor(s).",
				d.BuiltUpArea, d.Buildable, d.Floors),
		}
		switch pt {
		case domain.ProjectCompound:
			c.Code = ConflictUnitsDoNotFit
			c.Message = unitsMessage(inputs, d)
			c.QuestionIDs = []string{"unitCount", "unitType", "sharedAmenities"}
		case domain.ProjectCommercial:
			c.Code = ConflictOverBuildable
			c.QuestionIDs = []string{"floors", "spaces", "parking"}
		default:
			c.Code = ConflictOverBuildable
			c.QuestionIDs = []string{"floors", "bedrooms", "additionalRooms"}
		}
		out = append(out, c)
	}

	if d.Features.Courtyard && d.Plot.Width < minCourtyardPlotWidth {
		out = append(out, domain.Conflict{
			Code:        ConflictNarrowCourtyard,
			Severity:    domain.SeverityMinor,
			Message:     fmt.Sprintf("A %s ft wide plot leaves little room around a central courtyard; it will be drawn compact.", trim(d.Plot.Width)),
			QuestionIDs: []string{"courtyard"},
		})
	}
	if d.Features.Vastu == "strict" && (d.RoadSide == "south" || d.RoadSide == "west") {
		out = append(out, domain.Conflict{
			Code:        ConflictVastuRoadSide,
			Severity:    domain.SeverityMinor,
			Message:     fmt.Sprintf("A %s-facing plot cannot keep a north-east entrance; the entrance will follow the road.", d.RoadSide),
			QuestionIDs: []string{"vastu"},
		})
	}
	if d.Features.Verandah && d.Plot.Width > 0 {
		setback := d.Plot.Depth - ground/d.Plot.Width
		if setback < minVerandahSetback {
			out = append(out, domain.Conflict{
				Code:        ConflictShallowVerandah,
				Severity:    domain.SeverityMinor,
				Message:     fmt.Sprintf("Only about %s ft is left in front of the building; the verandah will be kept shallow.", trim(math.Max(setback, 0))),
				QuestionIDs: []string{"verandah"},
			})
		}
	}
	return out
}

func unitsMessage(inputs domain.Inputs, d *domain.DesignContext) string {
	count := max(atoiOr(inputs.TextOf("unitCount"), 2), 1)
	unitType := strings.ToUpper(orDefault(inputs.TextOf("unitType"), "2bhk"))
	return fmt.Sprintf("%d %s units need about %.0f sq.ft but only %.0f sq.ft can be built on this plot.",
		count, unitType, d.BuiltUpArea, d.Buildable)
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func trim(f float64) string {
	return strconv.FormatFloat(math.Round(f*10)/10, 'f', -1, 64)
}
