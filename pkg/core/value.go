package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// ParamValue is the runtime value of one parameter: a string or a list
// of strings. Dates travel as ISO-8601 strings and are parsed by the
// resolver for date_picker parameters.
type ParamValue struct {
	scalar string
	list   []string
	isList bool
	valid  bool
}

// ParamValues maps parameter names to their current values.
type ParamValues map[string]ParamValue

// Clone returns a copy of the value set.
func (pv ParamValues) Clone() ParamValues {
	if pv == nil {
		return nil
	}
	out := make(ParamValues, len(pv))
	for k, v := range pv {
		out[k] = v.Clone()
	}
	return out
}

// StringValue returns a scalar parameter value.
func StringValue(s string) ParamValue {
	return ParamValue{scalar: s, valid: true}
}

// ListValue returns a list parameter value. An empty call yields an
// empty (not absent) list.
func ListValue(vs ...string) ParamValue {
	return ParamValue{list: append([]string{}, vs...), isList: true, valid: true}
}

// IsZero reports whether no value was set.
func (v ParamValue) IsZero() bool { return !v.valid }

// IsList reports whether the value is a list.
func (v ParamValue) IsList() bool { return v.isList }

// Scalar returns the value as a single string. Lists yield their first
// element or "".
func (v ParamValue) Scalar() string {
	if v.isList {
		if len(v.list) == 0 {
			return ""
		}
		return v.list[0]
	}
	return v.scalar
}

// Values returns the value as a list. A non-empty scalar is a one
// element list, an empty scalar an empty list.
func (v ParamValue) Values() []string {
	if v.isList {
		return slices.Clone(v.list)
	}
	if v.scalar == "" {
		return []string{}
	}
	return []string{v.scalar}
}

// Map applies fn to every string in the value, preserving its shape.
func (v ParamValue) Map(fn func(string) (string, error)) (ParamValue, error) {
	if !v.valid {
		return v, nil
	}
	if !v.isList {
		s, err := fn(v.scalar)
		if err != nil {
			return v, err
		}
		return StringValue(s), nil
	}
	out := make([]string, len(v.list))
	for i, s := range v.list {
		r, err := fn(s)
		if err != nil {
			return v, err
		}
		out[i] = r
	}
	return ListValue(out...), nil
}

// Clone returns a copy that shares no memory with v.
func (v ParamValue) Clone() ParamValue {
	v.list = slices.Clone(v.list)
	return v
}

// Equal reports whether two values have the same shape and content.
func (v ParamValue) Equal(o ParamValue) bool {
	return v.valid == o.valid && v.isList == o.isList && v.scalar == o.scalar && slices.Equal(v.list, o.list)
}

func (v ParamValue) String() string {
	if v.isList {
		return fmt.Sprintf("%q", v.list)
	}
	return v.scalar
}

// MarshalJSON encodes the value as a JSON string, array or null.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	switch {
	case !v.valid:
		return []byte("null"), nil
	case v.isList:
		return json.Marshal(v.list)
	default:
		return json.Marshal(v.scalar)
	}
}

// UnmarshalJSON accepts strings, numbers, booleans and arrays of them.
func (v *ParamValue) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	return v.assign(raw)
}

// MarshalYAML encodes the value for gopkg.in/yaml.v3.
func (v ParamValue) MarshalYAML() (any, error) {
	switch {
	case !v.valid:
		return nil, nil
	case v.isList:
		return v.list, nil
	default:
		return v.scalar, nil
	}
}

// UnmarshalYAML decodes the value from gopkg.in/yaml.v3.
func (v *ParamValue) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return v.assign(raw)
}

func (v *ParamValue) assign(raw any) error {
	switch x := raw.(type) {
	case nil:
		*v = ParamValue{}
	case []any:
		vals := make([]string, 0, len(x))
		for _, e := range x {
			s, err := scalarString(e)
			if err != nil {
				return err
			}
			vals = append(vals, s)
		}
		*v = ListValue(vals...)
	default:
		s, err := scalarString(x)
		if err != nil {
			return err
		}
		*v = StringValue(s)
	}
	return nil
}

func scalarString(raw any) (string, error) {
	switch x := raw.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case time.Time:
		return x.Format(time.DateOnly), nil
	default:
		return "", fmt.Errorf("unsupported parameter value %T", raw)
	}
}
