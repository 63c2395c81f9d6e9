package questionflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
)

// ErrUnknownQuestion is returned for a question id not in the list.
var ErrUnknownQuestion = errors.New("unknown question")

// ValidationError describes a rejected answer. Fields maps the offending
// field (or "answer") to a message.
type ValidationError struct {
	QuestionID string
	Fields     map[string]string
	err        error
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	if e.QuestionID == "" {
		return "invalid answer: " + strings.Join(parts, "; ")
	}
	return fmt.Sprintf("invalid answer to %s: %s", e.QuestionID, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return e.err }

// Invalid builds a single-field validation error.
func Invalid(questionID, field, msg string) *ValidationError {
	return &ValidationError{QuestionID: questionID, Fields: map[string]string{field: msg}}
}

// NextQuestion returns the first applicable question at or after cursor and
// the new cursor, its index + 1. When none remains it returns nil and
// len(questions).
func NextQuestion(questions []domain.Question, cursor int, inputs domain.Inputs) (*domain.Question, int) {
	if cursor < 0 {
		cursor = 0
	}
	for i := cursor; i < len(questions); i++ {
		if questions[i].Applies(inputs) {
			return &questions[i], i + 1
		}
	}
	return nil, len(questions)
}

// Pending returns the index of the question a cursor has presented, or 0
// before any has been.
func Pending(cursor int) int {
	return max(cursor-1, 0)
}

// BranchChanges returns the ids of questions before limit, other than the
// one at answered, whose applicability differs between before and after.
func BranchChanges(questions []domain.Question, answered, limit int, before, after domain.Inputs) []string {
	var changed []string
	for i := 0; i < min(limit, len(questions)); i++ {
		if i == answered {
			continue
		}
		if questions[i].Applies(before) != questions[i].Applies(after) {
			changed = append(changed, questions[i].ID)
		}
	}
	return changed
}

// IndexOf returns the position of id, or -1.
func IndexOf(questions []domain.Question, id string) int {
	for i := range questions {
		if questions[i].ID == id {
			return i
		}
	}
	return -1
}

// RevisitIndex returns the position of the first question marked revisit,
// or 0 when none is.
func RevisitIndex(questions []domain.Question) int {
	for i := range questions {
		if questions[i].Revisit {
			return i
		}
	}
	return 0
}

// Apply validates answer against the question and returns a copy of inputs
// with it merged in. The identity form is unpacked into top-level keys; every
// other answer is stored under the question id. inputs is not modified.
func Apply(questions []domain.Question, questionID string, answer domain.Value, inputs domain.Inputs) (domain.Inputs, error) {
	idx := IndexOf(questions, questionID)
	if idx < 0 {
		return nil, &ValidationError{
			QuestionID: questionID,
			Fields:     map[string]string{"questionId": fmt.Sprintf("%q is not a question of this session", questionID)},
			err:        ErrUnknownQuestion,
		}
	}
	q := &questions[idx]

	normalized, err := normalize(q, answer)
	if err != nil {
		return nil, err
	}

	out := inputs.Clone()
	if q.Identity {
		for _, f := range q.Fields {
			if v := normalized.Fields[f.Name]; v != "" {
				out[f.Name] = domain.Text(v)
			} else {
				delete(out, f.Name)
			}
		}
		return out, nil
	}
	out[q.ID] = normalized
	return out, nil
}

func normalize(q *domain.Question, answer domain.Value) (domain.Value, error) {
	if answer.IsZero() {
		return domain.Value{}, Invalid(q.ID, "answer", "an answer is required")
	}

	switch q.Kind {
	case domain.KindSingleSelect:
		if answer.Kind == domain.ValueList && len(answer.List) == 1 {
			answer = domain.Text(answer.List[0])
		}
		if answer.Kind != domain.ValueText {
			return domain.Value{}, Invalid(q.ID, "answer", "expected a single choice")
		}
		v := strings.TrimSpace(answer.Text)
		if !q.HasOption(v) {
			return domain.Value{}, Invalid(q.ID, "answer", fmt.Sprintf("%q is not one of the options", v))
		}
		return domain.Text(v), nil

	case domain.KindMultiSelect:
		var items []string
		switch answer.Kind {
		case domain.ValueList:
			items = answer.List
		case domain.ValueText:
			if answer.Text != "" {
				items = []string{answer.Text}
			}
		default:
			return domain.Value{}, Invalid(q.ID, "answer", "expected a list of choices")
		}
		seen := make(map[string]bool, len(items))
		out := make([]string, 0, len(items))
		for _, it := range items {
			it = strings.TrimSpace(it)
			if !q.HasOption(it) {
				return domain.Value{}, Invalid(q.ID, "answer", fmt.Sprintf("%q is not one of the options", it))
			}
			if !seen[it] {
				seen[it] = true
				out = append(out, it)
			}
		}
		if len(out) == 0 && !q.Optional {
			return domain.Value{}, Invalid(q.ID, "answer", "choose at least one option")
		}
		return domain.List(out...), nil

	case domain.KindForm:
		if answer.Kind != domain.ValueFields {
			return domain.Value{}, Invalid(q.ID, "answer", "expected form fields")
		}
		return normalizeForm(q, answer.Fields)

	case domain.KindFileUpload:
		if answer.Kind == domain.ValueList {
			return domain.Value{}, Invalid(q.ID, "answer", "expected a single file")
		}
		return answer.Clone(), nil
	}
	return domain.Value{}, Invalid(q.ID, "answer", "unsupported question kind")
}

func normalizeForm(q *domain.Question, in map[string]string) (domain.Value, error) {
	problems := make(map[string]string)
	out := make(map[string]string, len(q.Fields))

	for name := range in {
		if _, ok := q.Field(name); !ok {
			problems[name] = "unknown field"
		}
	}
	for _, f := range q.Fields {
		v := strings.TrimSpace(in[f.Name])
		if v == "" {
			if f.Required {
				problems[f.Name] = f.Label + " is required"
			}
			continue
		}
		if f.Type == "number" {
			if _, ok := domain.ParseNumber(v); !ok {
				problems[f.Name] = f.Label + " must be a positive number"
				continue
			}
		}
		out[f.Name] = v
	}
	if len(problems) > 0 {
		return domain.Value{}, &ValidationError{QuestionID: q.ID, Fields: problems}
	}
	return domain.Fields(out), nil
}
