// Package questionflow decides which question comes next and folds answers
// into a session's inputs.
package questionflow

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/ashureev/ecoplan/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Derived input keys written by the orchestrator rather than by an answer.
const (
	KeySurveyStatus   = "surveyStatus"
	KeyPlotDimensions = "plotDimensions"
	KeyRoadSide       = "roadSide"
	KeyFeedback       = "blueprintFeedback"
)

// Survey status values stored under KeySurveyStatus.
const (
	SurveyExtracted = "extracted"
	SurveyFailed    = "failed"
)

type catalogFile struct {
	Derived   []string                        `yaml:"derived"`
	Questions map[string]domain.Question      `yaml:"questions"`
	Projects  map[domain.ProjectType][]string `yaml:"projects"`
}

// Catalog holds the ordered question list of every project type. Lists are
// shared and must not be modified by callers.
type Catalog struct {
	lists   map[domain.ProjectType][]domain.Question
	derived map[string]bool
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
	defaultErr  error
)

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	defaultOnce.Do(func() {
		defaultCat, defaultErr = Load(defaultCatalog)
	})
	return defaultCat, defaultErr
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	c := &Catalog{
		lists:   make(map[domain.ProjectType][]domain.Question, len(f.Projects)),
		derived: make(map[string]bool, len(f.Derived)),
	}
	for _, k := range f.Derived {
		c.derived[k] = true
	}

	for _, pt := range domain.ProjectTypes {
		ids, ok := f.Projects[pt]
		if !ok {
			return nil, fmt.Errorf("catalog has no questions for project type %q", pt)
		}
		list := make([]domain.Question, 0, len(ids))
		for _, id := range ids {
			q, ok := f.Questions[id]
			if !ok {
				return nil, fmt.Errorf("%s: undefined question %q", pt, id)
			}
			q.ID = id
			list = append(list, q)
		}
		if err := c.validate(list); err != nil {
			return nil, fmt.Errorf("%s: %w", pt, err)
		}
		c.lists[pt] = list
	}
	for pt := range f.Projects {
		if !pt.Valid() {
			return nil, fmt.Errorf("catalog lists unknown project type %q", pt)
		}
	}
	return c, nil
}

// For returns the question list of a project type.
func (c *Catalog) For(pt domain.ProjectType) ([]domain.Question, error) {
	list, ok := c.lists[pt]
	if !ok {
		return nil, fmt.Errorf("unknown project type %q", pt)
	}
	return list, nil
}

func (c *Catalog) validate(list []domain.Question) error {
	if len(list) == 0 {
		return fmt.Errorf("empty question list")
	}
	if !list[0].Identity || list[0].Kind != domain.KindForm {
		return fmt.Errorf("first question %q must be the identity form", list[0].ID)
	}

	known := make(map[string]bool)
	revisit := false
	for i := range list {
		q := &list[i]
		if known[q.ID] {
			return fmt.Errorf("duplicate question id %q", q.ID)
		}
		if i > 0 && q.Identity {
			return fmt.Errorf("question %q: only the first question may be the identity form", q.ID)
		}
		if q.Prompt == "" {
			return fmt.Errorf("question %q: missing prompt", q.ID)
		}

		switch q.Kind {
		case domain.KindSingleSelect, domain.KindMultiSelect:
			if len(q.Options) == 0 {
				return fmt.Errorf("question %q: select without options", q.ID)
			}
		case domain.KindForm:
			if len(q.Fields) == 0 {
				return fmt.Errorf("question %q: form without fields", q.ID)
			}
		case domain.KindFileUpload:
		default:
			return fmt.Errorf("question %q: unknown kind %q", q.ID, q.Kind)
		}

		// Conditions may only look backwards.
		for _, ref := range q.When.Fields() {
			if !known[ref] && !c.derived[ref] {
				return fmt.Errorf("question %q: condition references %q before it can be answered", q.ID, ref)
			}
		}

		known[q.ID] = true
		if q.Identity {
			for _, f := range q.Fields {
				known[f.Name] = true
			}
		}
		revisit = revisit || q.Revisit
	}
	if !revisit {
		return fmt.Errorf("no question is marked revisit")
	}
	return nil
}
