package core

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// ParamType identifies the input control of a dashboard parameter.
type ParamType string

// Supported parameter types.
const (
	ParamSingleSelect ParamType = "single_select"
	ParamMultiSelect  ParamType = "multi_select"
	ParamSingleInput  ParamType = "single_input"
	ParamMultiInput   ParamType = "multi_input"
	ParamDatePicker   ParamType = "date_picker"
	ParamDateRange    ParamType = "date_range"
)

// IsMulti reports whether values of this type are lists.
func (t ParamType) IsMulti() bool {
	return t == ParamMultiSelect || t == ParamMultiInput
}

// IsSelect reports whether the parameter picks from declared choices.
func (t ParamType) IsSelect() bool {
	return t == ParamSingleSelect || t == ParamMultiSelect
}

// Valid reports whether t is a known parameter type.
func (t ParamType) Valid() bool {
	switch t {
	case ParamSingleSelect, ParamMultiSelect, ParamSingleInput, ParamMultiInput, ParamDatePicker, ParamDateRange:
		return true
	}
	return false
}

// Format defaults applied when a parameter leaves a field empty.
const (
	DefaultSeparator  = ","
	DefaultDateFormat = "yyyy-MM-dd"
)

// ParamFormat controls how a parameter value is rendered into query text.
type ParamFormat struct {
	Separator  string `json:"sep,omitempty" yaml:"sep,omitempty"`
	Wrapper    string `json:"wrapper,omitempty" yaml:"wrapper,omitempty"`
	DateFormat string `json:"dateFormat,omitempty" yaml:"dateFormat,omitempty"`
}

// Sep returns the list separator, defaulting to ",".
func (f ParamFormat) Sep() string {
	if f.Separator == "" {
		return DefaultSeparator
	}
	return f.Separator
}

// Date returns the date layout, defaulting to yyyy-MM-dd.
func (f ParamFormat) Date() string {
	if f.DateFormat == "" {
		return DefaultDateFormat
	}
	return f.DateFormat
}

// Parameter is a named, typed input of a dashboard query.
type Parameter struct {
	Name        string      `json:"name" yaml:"name" validate:"required,identifier"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Type        ParamType   `json:"type" yaml:"type" validate:"required,oneof=single_select multi_select single_input multi_input date_picker date_range"`
	Default     ParamValue  `json:"default,omitzero" yaml:"default,omitempty"`
	Choices     []string    `json:"choices,omitempty" yaml:"choices,omitempty"`
	Format      ParamFormat `json:"format,omitzero" yaml:"format,omitempty"`
}

// Query holds the raw query text with ${name} placeholders.
type Query struct {
	Code string `json:"code" yaml:"code" validate:"required"`
}

// Visualization is one transformation snippet with its controls.
type Visualization struct {
	Title       string                `json:"title" yaml:"title"`
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Code        string                `json:"code" yaml:"code"`
	Options     []VisualizationOption `json:"options,omitempty" yaml:"options,omitempty" validate:"dive"`
}

// Dashboard is a complete dashboard definition.
type Dashboard struct {
	ID             string          `json:"id,omitempty" yaml:"id,omitempty"`
	Title          string          `json:"title,omitempty" yaml:"title,omitempty"`
	Query          Query           `json:"query" yaml:"query"`
	Parameters     []Parameter     `json:"parameters,omitempty" yaml:"parameters,omitempty" validate:"dive"`
	Visualizations []Visualization `json:"visualizations,omitempty" yaml:"visualizations,omitempty" validate:"dive"`
}

// Parameter looks up a parameter by name.
func (d *Dashboard) Parameter(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Visualization returns the visualization at index i.
func (d *Dashboard) Visualization(i int) (Visualization, error) {
	if i < 0 || i >= len(d.Visualizations) {
		return Visualization{}, Errorf(KindNotFound, "visualize", "visualization index %d out of range (%d defined)", i, len(d.Visualizations))
	}
	return d.Visualizations[i], nil
}

// Check verifies invariants that struct tags cannot express: unique
// parameter names, known option sources, and select defaults that are
// members of the declared choices.
func (d *Dashboard) Check() error {
	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if seen[p.Name] {
			return Errorf(KindInvalidArgument, "validate", "duplicate parameter %q", p.Name)
		}
		seen[p.Name] = true

		if !p.Type.IsSelect() || len(p.Choices) == 0 || p.Default.IsZero() {
			continue
		}
		for _, v := range p.Default.Values() {
			if !slices.Contains(p.Choices, v) && !strings.HasPrefix(v, "${") {
				return Errorf(KindInvalidArgument, "validate", "parameter %q: default %q is not among its choices", p.Name, v)
			}
		}
	}

	for i, v := range d.Visualizations {
		names := make(map[string]bool, len(v.Options))
		for _, o := range v.Options {
			if names[o.Name] {
				return Errorf(KindInvalidArgument, "validate", "visualization %d: duplicate option %q", i, o.Name)
			}
			names[o.Name] = true
			if o.Source == nil {
				return Errorf(KindInvalidArgument, "validate", "visualization %d: option %q has no source", i, o.Name)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the dashboard so that later edits of the
// original are not observed by the copy.
func (d Dashboard) Clone() Dashboard {
	out := d
	out.Parameters = slices.Clone(d.Parameters)
	for i, p := range out.Parameters {
		p.Choices = slices.Clone(p.Choices)
		p.Default = p.Default.Clone()
		out.Parameters[i] = p
	}
	out.Visualizations = slices.Clone(d.Visualizations)
	for i, v := range out.Visualizations {
		v.Options = slices.Clone(v.Options)
		for j, o := range v.Options {
			v.Options[j] = o.Clone()
		}
		out.Visualizations[i] = v
	}
	return out
}

// Normalize folds declared option defaults into static choice lists when
// they are missing, keeping the declared default selectable.
func (d Dashboard) Normalize() Dashboard {
	out := d.Clone()
	for i := range out.Visualizations {
		for j, o := range out.Visualizations[i].Options {
			list, ok := o.Source.(ListSource)
			if !ok || o.Default == nil {
				continue
			}
			defaults := []any{o.Default}
			if vs, isList := o.Default.([]any); isList {
				defaults = vs
			}
			for _, dv := range defaults {
				if !containsValue(list.Choices, dv) {
					list.Choices = append(list.Choices, dv)
				}
			}
			out.Visualizations[i].Options[j].Source = list
		}
	}
	return out
}

// ValueKey is the canonical comparison key of a scalar option value.
// Drivers disagree on numeric widths, so 1, int64(1) and 1.0 share a key.
func ValueKey(v any) string {
	switch x := v.(type) {
	case nil:
		return "\x00null"
	case string:
		return "s:" + x
	case bool:
		return fmt.Sprintf("b:%t", x)
	case json.Number:
		return "n:" + x.String()
	case float32:
		return fmt.Sprintf("n:%v", float64(x))
	case float64:
		return fmt.Sprintf("n:%v", x)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("n:%d", x)
	default:
		return fmt.Sprintf("v:%v", x)
	}
}

func containsValue(list []any, v any) bool {
	key := ValueKey(v)
	for _, e := range list {
		if ValueKey(e) == key {
			return true
		}
	}
	return false
}
