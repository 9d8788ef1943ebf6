package core

import (
	"encoding/json"
	"fmt"
	"slices"
)

// OptionType is the declared scalar type of a visualization option.
type OptionType string

// Supported option types.
const (
	OptionString  OptionType = "string"
	OptionInteger OptionType = "integer"
	OptionFloat   OptionType = "float"
	OptionBoolean OptionType = "boolean"
)

// ParseOptionType parses a declared type, accepting the short aliases
// str, int, double and bool. An empty string is a string option.
func ParseOptionType(s string) (OptionType, error) {
	switch s {
	case "", "string", "str":
		return OptionString, nil
	case "integer", "int":
		return OptionInteger, nil
	case "float", "double":
		return OptionFloat, nil
	case "boolean", "bool":
		return OptionBoolean, nil
	default:
		return "", fmt.Errorf("unknown option type %q", s)
	}
}

// SourceKind names where an option's choices come from.
type SourceKind string

// Option sources.
const (
	SourceColumn SourceKind = "column"
	SourceList   SourceKind = "list"
)

// OptionSource is the closed set of choice sources: ColumnSource or
// ListSource. Switches over it must handle both.
type OptionSource interface {
	Kind() SourceKind
	sealed()
}

// ColumnSource draws choices from a column of the query result.
type ColumnSource struct {
	Column string
}

// Kind implements OptionSource.
func (ColumnSource) Kind() SourceKind { return SourceColumn }
func (ColumnSource) sealed()          {}

// ListSource offers a statically declared list of choices.
type ListSource struct {
	Choices []any
}

// Kind implements OptionSource.
func (ListSource) Kind() SourceKind { return SourceList }
func (ListSource) sealed()          {}

// Cascade places an option in a filter hierarchy: options sharing a
// dashboard visualization are ordered by Level and each narrows the
// choices of the levels below it on Column.
type Cascade struct {
	Column string `json:"column" yaml:"column"`
	Level  int    `json:"level" yaml:"level"`
}

// VisualizationOption is one control of a visualization.
type VisualizationOption struct {
	Name        string
	Description string
	Type        OptionType
	Multiple    bool
	Source      OptionSource
	Default     any
	Cascade     *Cascade
}

// OptionValues are the current option selections of one visualization.
type OptionValues map[string]any

// AllOptionValues maps visualization index to its option selections.
type AllOptionValues map[int]OptionValues

// Clone returns a copy of the selections.
func (ov OptionValues) Clone() OptionValues {
	if ov == nil {
		return nil
	}
	out := make(OptionValues, len(ov))
	for k, v := range ov {
		if list, ok := v.([]any); ok {
			v = slices.Clone(list)
		}
		out[k] = v
	}
	return out
}

// Clone returns a copy of every visualization's selections.
func (av AllOptionValues) Clone() AllOptionValues {
	if av == nil {
		return nil
	}
	out := make(AllOptionValues, len(av))
	for k, v := range av {
		out[k] = v.Clone()
	}
	return out
}

// Clone returns a deep copy of the option.
func (o VisualizationOption) Clone() VisualizationOption {
	if l, ok := o.Source.(ListSource); ok {
		o.Source = ListSource{Choices: slices.Clone(l.Choices)}
	}
	if list, ok := o.Default.([]any); ok {
		o.Default = slices.Clone(list)
	}
	if o.Cascade != nil {
		c := *o.Cascade
		o.Cascade = &c
	}
	return o
}

// optionWire is the flat document form of a VisualizationOption.
type optionWire struct {
	Name          string   `json:"name" yaml:"name"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
	Type          string   `json:"type,omitempty" yaml:"type,omitempty"`
	Multiple      bool     `json:"multiple,omitempty" yaml:"multiple,omitempty"`
	SelectionMode string   `json:"selectionMode,omitempty" yaml:"selectionMode,omitempty"`
	Source        string   `json:"source,omitempty" yaml:"source,omitempty"`
	Column        string   `json:"column,omitempty" yaml:"column,omitempty"`
	Choices       []any    `json:"choices,omitempty" yaml:"choices,omitempty"`
	Default       any      `json:"default,omitempty" yaml:"default,omitempty"`
	Cascade       *Cascade `json:"cascade,omitempty" yaml:"cascade,omitempty"`
}

func (w optionWire) option() (VisualizationOption, error) {
	typ, err := ParseOptionType(w.Type)
	if err != nil {
		return VisualizationOption{}, fmt.Errorf("option %q: %w", w.Name, err)
	}
	o := VisualizationOption{
		Name:        w.Name,
		Description: w.Description,
		Type:        typ,
		Multiple:    w.Multiple || w.SelectionMode == "multiple",
		Default:     w.Default,
		Cascade:     w.Cascade,
	}

	kind := SourceKind(w.Source)
	if kind == "" {
		// Legacy documents omit the source and imply it from the fields present.
		kind = SourceList
		if w.Column != "" || w.Cascade != nil {
			kind = SourceColumn
		}
	}
	switch kind {
	case SourceColumn:
		col := w.Column
		if col == "" && w.Cascade != nil {
			col = w.Cascade.Column
		}
		if col == "" {
			return VisualizationOption{}, fmt.Errorf("option %q: source column requires a column name", w.Name)
		}
		o.Source = ColumnSource{Column: col}
	case SourceList:
		o.Source = ListSource{Choices: w.Choices}
	default:
		return VisualizationOption{}, fmt.Errorf("option %q: unknown source %q", w.Name, w.Source)
	}
	return o, nil
}

func (o VisualizationOption) wire() optionWire {
	w := optionWire{
		Name:        o.Name,
		Description: o.Description,
		Type:        string(o.Type),
		Multiple:    o.Multiple,
		Default:     o.Default,
		Cascade:     o.Cascade,
	}
	switch s := o.Source.(type) {
	case ColumnSource:
		w.Source = string(SourceColumn)
		w.Column = s.Column
	case ListSource:
		w.Source = string(SourceList)
		w.Choices = s.Choices
	}
	return w
}

// MarshalJSON encodes the option in its flat document form.
func (o VisualizationOption) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.wire())
}

// UnmarshalJSON decodes the flat document form into the source variant.
func (o *VisualizationOption) UnmarshalJSON(b []byte) error {
	var w optionWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	opt, err := w.option()
	if err != nil {
		return err
	}
	*o = opt
	return nil
}

// MarshalYAML encodes the option for gopkg.in/yaml.v3.
func (o VisualizationOption) MarshalYAML() (any, error) {
	return o.wire(), nil
}

// UnmarshalYAML decodes the option from gopkg.in/yaml.v3.
func (o *VisualizationOption) UnmarshalYAML(unmarshal func(any) error) error {
	var w optionWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	opt, err := w.option()
	if err != nil {
		return err
	}
	*o = opt
	return nil
}
