package domain

import "strconv"

// InputKind is the widget a question is answered with.
type InputKind string

const (
	KindSingleSelect InputKind = "single_select"
	KindMultiSelect  InputKind = "multi_select"
	KindForm         InputKind = "form"
	KindFileUpload   InputKind = "file_upload"
)

// Option is one selectable answer.
type Option struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// Field is one entry of a structured form.
type Field struct {
	Name        string `json:"name" yaml:"name"`
	Label       string `json:"label" yaml:"label"`
	Type        string `json:"type" yaml:"type"` // text, number, tel
	Required    bool   `json:"required,omitempty" yaml:"required"`
	Placeholder string `json:"placeholder,omitempty" yaml:"placeholder"`
}

// Question is an immutable question definition.
type Question struct {
	ID       string     `json:"id" yaml:"id"`
	Prompt   string     `json:"prompt" yaml:"prompt"`
	Kind     InputKind  `json:"kind" yaml:"kind"`
	Options  []Option   `json:"options,omitempty" yaml:"options"`
	Fields   []Field    `json:"fields,omitempty" yaml:"fields"`
	Accept   []string   `json:"accept,omitempty" yaml:"accept"`
	When     *Condition `json:"-" yaml:"when"`
	Identity bool       `json:"-" yaml:"identity"`
	Revisit  bool       `json:"-" yaml:"revisit"`
	Optional bool       `json:"optional,omitempty" yaml:"optional"`
}

// Applies reports whether the question should be shown for inputs.
func (q *Question) Applies(inputs Inputs) bool {
	if q.When == nil {
		return true
	}
	return q.When.Eval(inputs)
}

// HasOption reports whether value is one of the question's options.
func (q *Question) HasOption(value string) bool {
	for _, o := range q.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// Field returns the named form field.
func (q *Question) Field(name string) (Field, bool) {
	for _, f := range q.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Condition is a serializable applicability predicate. Exactly one of the
// comparison members, Any or All is expected to be set.
type Condition struct {
	Field     string      `json:"field,omitempty" yaml:"field"`
	Equals    *string     `json:"equals,omitempty" yaml:"equals"`
	NotEquals *string     `json:"notEquals,omitempty" yaml:"notEquals"`
	In        []string    `json:"in,omitempty" yaml:"in"`
	Present   *bool       `json:"present,omitempty" yaml:"present"`
	Any       []Condition `json:"any,omitempty" yaml:"any"`
	All       []Condition `json:"all,omitempty" yaml:"all"`
}

// Eval evaluates the condition against inputs. It only reads inputs.
func (c *Condition) Eval(inputs Inputs) bool {
	if c == nil {
		return true
	}
	if len(c.Any) > 0 {
		for i := range c.Any {
			if c.Any[i].Eval(inputs) {
				return true
			}
		}
		return false
	}
	if len(c.All) > 0 {
		for i := range c.All {
			if !c.All[i].Eval(inputs) {
				return false
			}
		}
		return true
	}

	v, ok := inputs.Get(c.Field)
	switch {
	case c.Present != nil:
		return ok == *c.Present
	case c.Equals != nil:
		return ok && v.Contains(*c.Equals)
	case c.NotEquals != nil:
		return !ok || !v.Contains(*c.NotEquals)
	case len(c.In) > 0:
		if !ok {
			return false
		}
		for _, want := range c.In {
			if v.Contains(want) {
				return true
			}
		}
		return false
	}
	return ok
}

// Fields lists every input key the condition reads.
func (c *Condition) Fields() []string {
	if c == nil {
		return nil
	}
	var out []string
	if c.Field != "" {
		out = append(out, c.Field)
	}
	for i := range c.Any {
		out = append(out, c.Any[i].Fields()...)
	}
	for i := range c.All {
		out = append(out, c.All[i].Fields()...)
	}
	return out
}

// FieldEquals builds a field-equals-value condition.
func FieldEquals(field, value string) *Condition {
	return &Condition{Field: field, Equals: &value}
}

// AnyOf builds a disjunction.
func AnyOf(conds ...*Condition) *Condition {
	c := &Condition{}
	for _, cc := range conds {
		c.Any = append(c.Any, *cc)
	}
	return c
}

// ParseNumber reads a positive decimal number from a form field.
func ParseNumber(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, false
	}
	return f, true
}
