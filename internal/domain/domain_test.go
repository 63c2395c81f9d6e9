package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Value
		out  string
	}{
		{`"east"`, Text("east"), `"east"`},
		{`3`, Text("3"), `"3"`},
		{`true`, Text("true"), `"true"`},
		{`["solar_pv", "biogas"]`, List("solar_pv", "biogas"), `["solar_pv","biogas"]`},
		{`[]`, List(), `[]`},
		{`{"width": 40, "depth": "60", "note": null}`, Fields(map[string]string{"width": "40", "depth": "60", "note": ""}), `{"depth":"60","note":"","width":"40"}`},
		{`null`, Value{}, `null`},
	}
	for _, tt := range tests {
		var got Value
		require.NoError(t, json.Unmarshal([]byte(tt.in), &got), tt.in)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Unmarshal(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
		raw, err := json.Marshal(got)
		require.NoError(t, err)
		assert.JSONEq(t, tt.out, string(raw), tt.in)
	}
}

func TestValueRejectsNesting(t *testing.T) {
	for _, in := range []string{`[["a"]]`, `{"a": {"b": "c"}}`, `{"a": [1]}`} {
		var v Value
		assert.Error(t, json.Unmarshal([]byte(in), &v), in)
	}
}

func TestValueCloneIsDeep(t *testing.T) {
	orig := Inputs{
		"ecoFeatures":    List("solar_pv"),
		"plotDimensions": Fields(map[string]string{"width": "40"}),
	}
	cp := orig.Clone()
	cp["ecoFeatures"].List[0] = "biogas"
	cp["plotDimensions"].Fields["width"] = "99"

	assert.Equal(t, "solar_pv", orig["ecoFeatures"].List[0])
	assert.Equal(t, "40", orig["plotDimensions"].Fields["width"])
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Status{
		{StatusCollecting, StatusGenerating},
		{StatusGenerating, StatusAwaitingBlueprintConfirmation},
		{StatusGenerating, StatusHalted},
		{StatusGenerating, StatusFailed},
		{StatusHalted, StatusCollecting},
		{StatusAwaitingBlueprintConfirmation, StatusGeneratingIsometric},
		{StatusAwaitingBlueprintConfirmation, StatusCollecting},
		{StatusGeneratingIsometric, StatusComplete},
		{StatusGeneratingIsometric, StatusFailed},
		{StatusFailed, StatusGenerating},
		{StatusFailed, StatusGeneratingIsometric},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]Status{
		{StatusCollecting, StatusComplete},
		{StatusGenerating, StatusComplete},
		{StatusGenerating, StatusGeneratingIsometric},
		{StatusComplete, StatusCollecting},
		{StatusComplete, StatusGenerating},
		{StatusHalted, StatusGenerating},
		{StatusFailed, StatusCollecting},
	}
	for _, tr := range denied {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func completeSession() *DesignSession {
	s := NewDesignSession("s1", ProjectResidential, time.Unix(0, 0))
	s.Status = StatusComplete
	s.DesignContext = &DesignContext{ProjectType: ProjectResidential, Floors: 1}
	s.BlueprintImage = &ImageRef{URL: "/api/design/images/s1/blueprint.svg", MIMEType: "image/svg+xml"}
	s.Result = &GenerationResult{
		Images:        map[string]ImageRef{"isometric": {URL: "x"}},
		DesignContext: s.DesignContext.Clone(),
	}
	return s
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *DesignSession)
		ok     bool
	}{
		{"new session", func(s *DesignSession) { *s = *NewDesignSession("s1", ProjectCompound, time.Now()) }, true},
		{"complete", func(*DesignSession) {}, true},
		{"complete without result", func(s *DesignSession) { s.Result = nil }, false},
		{"error without failure", func(s *DesignSession) { s.Error = "boom" }, false},
		{"failed without error", func(s *DesignSession) { s.Status = StatusFailed }, false},
		{"failed keeps blueprint", func(s *DesignSession) {
			s.Status, s.Error, s.Result = StatusFailed, "render agent timed out", nil
		}, true},
		{"awaiting without blueprint", func(s *DesignSession) {
			s.Status, s.Result, s.BlueprintImage = StatusAwaitingBlueprintConfirmation, nil, nil
		}, false},
		{"generating with blueprint", func(s *DesignSession) {
			s.Status, s.Result = StatusGenerating, nil
		}, false},
		{"halted without open questions", func(s *DesignSession) {
			s.Status, s.Result, s.BlueprintImage = StatusHalted, nil, nil
		}, false},
		{"halted", func(s *DesignSession) {
			s.Status, s.Result, s.BlueprintImage = StatusHalted, nil, nil
			s.OpenQuestions = []OpenQuestion{{QuestionID: "floors"}}
		}, true},
		{"open questions while collecting", func(s *DesignSession) {
			s.Status, s.Result = StatusCollecting, nil
			s.OpenQuestions = []OpenQuestion{{QuestionID: "floors"}}
		}, false},
		{"unknown project type", func(s *DesignSession) { s.ProjectType = "castle" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := completeSession()
			tt.mutate(s)
			err := s.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInconsistentSession)
			}
		})
	}
}

func TestSessionCloneIsDeep(t *testing.T) {
	s := completeSession()
	s.Inputs["floors"] = Text("1")
	cp := s.Clone()

	if diff := cmp.Diff(s, cp); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}
	cp.Inputs["floors"] = Text("2")
	cp.Result.Images["isometric"] = ImageRef{URL: "y"}
	cp.BlueprintImage.URL = "changed"

	assert.Equal(t, "1", s.Inputs.TextOf("floors"))
	assert.Equal(t, "x", s.Result.Images["isometric"].URL)
	assert.NotEqual(t, "changed", s.BlueprintImage.URL)
}

func TestConditionEval(t *testing.T) {
	in := Inputs{
		"plotInput":   Text("upload"),
		"ecoFeatures": List("solar_pv", "biogas"),
	}
	yes, no := true, false

	tests := []struct {
		name string
		c    *Condition
		want bool
	}{
		{"nil always applies", nil, true},
		{"equals", FieldEquals("plotInput", "upload"), true},
		{"equals miss", FieldEquals("plotInput", "manual"), false},
		{"equals in list", FieldEquals("ecoFeatures", "biogas"), true},
		{"any", AnyOf(FieldEquals("plotInput", "manual"), FieldEquals("surveyStatus", "failed")), false},
		{"in", &Condition{Field: "plotInput", In: []string{"manual", "upload"}}, true},
		{"present", &Condition{Field: "surveyStatus", Present: &yes}, false},
		{"absent", &Condition{Field: "surveyStatus", Present: &no}, true},
		{"not equals on missing", &Condition{Field: "vastu", NotEquals: strPtr("none")}, true},
		{"all", &Condition{All: []Condition{*FieldEquals("plotInput", "upload"), *FieldEquals("ecoFeatures", "solar_pv")}}, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.c.Eval(in), tt.name)
	}
}

func strPtr(s string) *string { return &s }
