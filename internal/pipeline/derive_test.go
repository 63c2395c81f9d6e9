package pipeline

import (
	"testing"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kumarInputs() domain.Inputs {
	return domain.Inputs{
		"clientName":      domain.Text("Kumar Residence"),
		"location":        domain.Text("Auroville"),
		"plotInput":       domain.Text("manual"),
		"plotDimensions":  domain.Fields(map[string]string{"width": "40", "depth": "60", "unit": "feet"}),
		"roadSide":        domain.Text("east"),
		"floors":          domain.Text("1"),
		"bedrooms":        domain.Text("3"),
		"additionalRooms": domain.List("pooja"),
		"courtyard":       domain.Text("yes"),
		"verandah":        domain.Text("yes"),
		"ecoFeatures":     domain.List("solar_pv", "rainwater_harvesting"),
		"materials":       domain.Text("cseb"),
		"vastu":           domain.Text("strict"),
	}
}

func roomByType(d *domain.DesignContext, typ string) domain.Room {
	for _, r := range d.Rooms {
		if r.Type == typ {
			return r
		}
	}
	return domain.Room{}
}

func conflictCodes(d *domain.DesignContext) []string {
	var codes []string
	for _, c := range d.Conflicts {
		codes = append(codes, c.Code)
	}
	return codes
}

func TestDeriveResidential(t *testing.T) {
	d, err := Derive(domain.ProjectResidential, kumarInputs())
	require.NoError(t, err)

	assert.Equal(t, domain.Plot{Width: 40, Depth: 60, Unit: "feet", Area: 2400}, d.Plot)
	assert.Equal(t, "east-facing", d.Orientation)
	assert.Equal(t, "Kumar Residence", d.ClientName)
	assert.Empty(t, d.Conflicts)
	assert.Equal(t, 1680.0, d.Buildable)

	assert.Equal(t, "southeast", roomByType(d, "kitchen").VastuDirection)
	assert.Equal(t, "southwest", roomByType(d, "master-bedroom").VastuDirection)
	assert.Equal(t, "northeast", roomByType(d, "pooja").VastuDirection)
	assert.Equal(t, "center", roomByType(d, "courtyard").VastuDirection)
	assert.Equal(t, "east", roomByType(d, "living").VastuDirection, "living faces an east road")
	assert.Equal(t, "east", roomByType(d, "verandah").VastuDirection)

	// The open courtyard is not built-up area.
	assert.Equal(t, 982.0, d.BuiltUpArea)
}

func TestDeriveUpperFloors(t *testing.T) {
	in := kumarInputs()
	in["floors"] = domain.Text("2")
	d, err := Derive(domain.ProjectResidential, in)
	require.NoError(t, err)

	assert.Equal(t, 0, roomByType(d, "master-bedroom").Floor)
	assert.Equal(t, 1, roomByType(d, "bedroom").Floor)
	assert.Equal(t, "staircase", roomByType(d, "staircase").Type)
}

func TestDeriveConflicts(t *testing.T) {
	tests := []struct {
		name   string
		pt     domain.ProjectType
		modify func(domain.Inputs)
		major  bool
		codes  []string
	}{
		{
			name: "program exceeds buildable area",
			pt:   domain.ProjectResidential,
			modify: func(in domain.Inputs) {
				in["plotDimensions"] = domain.Fields(map[string]string{"width": "25", "depth": "30"})
				in["bedrooms"] = domain.Text("5")
			},
			major: true,
			codes: []string{ConflictOverBuildable, ConflictNarrowCourtyard, ConflictShallowVerandah},
		},
		{
			name:   "missing plot",
			pt:     domain.ProjectResidential,
			modify: func(in domain.Inputs) { delete(in, "plotDimensions") },
			major:  true,
			codes:  []string{ConflictMissingPlot},
		},
		{
			name: "strict vastu on a south road",
			pt:   domain.ProjectResidential,
			modify: func(in domain.Inputs) {
				in["roadSide"] = domain.Text("south")
			},
			codes: []string{ConflictVastuRoadSide},
		},
		{
			name: "compound units do not fit",
			pt:   domain.ProjectCompound,
			modify: func(in domain.Inputs) {
				in["unitCount"] = domain.Text("8")
				in["unitType"] = domain.Text("3bhk")
			},
			major: true,
			codes: []string{ConflictUnitsDoNotFit},
		},
		{
			name: "compound fits",
			pt:   domain.ProjectCompound,
			modify: func(in domain.Inputs) {
				in["unitCount"] = domain.Text("2")
				in["unitType"] = domain.Text("1bhk")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := kumarInputs()
			tt.modify(in)
			d, err := Derive(tt.pt, in)
			require.NoError(t, err)
			assert.ElementsMatch(t, tt.codes, conflictCodes(d))
			assert.Equal(t, tt.major, len(d.MajorConflicts()) > 0)
		})
	}
}

func TestDeriveMetres(t *testing.T) {
	in := kumarInputs()
	in["plotDimensions"] = domain.Fields(map[string]string{"width": "10", "depth": "15", "unit": "m"})
	d, err := Derive(domain.ProjectResidential, in)
	require.NoError(t, err)
	assert.Equal(t, 32.8, d.Plot.Width)
	assert.Equal(t, 49.2, d.Plot.Depth)
	assert.Equal(t, "feet", d.Plot.Unit)
}

func TestDeriveCommercial(t *testing.T) {
	in := kumarInputs()
	in["businessType"] = domain.Text("office")
	in["spaces"] = domain.List("reception", "workspace", "pantry")
	in["parking"] = domain.Text("yes")
	d, err := Derive(domain.ProjectCommercial, in)
	require.NoError(t, err)

	assert.Len(t, d.Rooms, 4)
	assert.Equal(t, "east", roomByType(d, "reception").VastuDirection)
	assert.Equal(t, "east", roomByType(d, "parking").VastuDirection)
	assert.Empty(t, d.MajorConflicts())
}

func TestDeriveUnknownProject(t *testing.T) {
	_, err := Derive("villa", domain.Inputs{})
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	d, err := Derive(domain.ProjectResidential, kumarInputs())
	require.NoError(t, err)
	s := Summarize(d)

	assert.Equal(t, "40' x 60'", s.PlotSize)
	assert.Equal(t, 2400.0, s.PlotArea)
	assert.Equal(t, len(d.Rooms), s.RoomCount)
	assert.True(t, s.VastuCompliant)
	assert.True(t, s.HasCourtyard)
	assert.Equal(t, []string{"rainwater_harvesting", "solar_pv"}, s.EcoFeatures)
	assert.Contains(t, s.Text, "Kumar Residence's residential design")
	assert.Contains(t, s.Text, "Vastu")
	assert.Contains(t, s.Materials, "CSEB")

	in := kumarInputs()
	in["roadSide"] = domain.Text("west")
	d, err = Derive(domain.ProjectResidential, in)
	require.NoError(t, err)
	s = Summarize(d)
	assert.True(t, s.VastuCompliant, "minor conflicts do not break compliance")
	assert.Len(t, s.Notes, 1)
}
