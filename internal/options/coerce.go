package options

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Coerce converts raw selections to the declared option types: integer
// to int64, float to float64, boolean to bool, string to string, element
// by element for multiple options. A value that does not convert falls
// back to the option's declared default. Values of undeclared options
// pass through unchanged.
func Coerce(opts []core.VisualizationOption, values core.OptionValues) (core.OptionValues, error) {
	out := values.Clone()
	if out == nil {
		out = make(core.OptionValues)
	}
	for _, opt := range opts {
		raw, ok := out[opt.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := convert(opt, raw)
		if err == nil {
			out[opt.Name] = v
			continue
		}
		if opt.Default == nil {
			delete(out, opt.Name)
			continue
		}
		def, derr := convert(opt, opt.Default)
		if derr != nil {
			return nil, core.Errorf(core.KindInvalidArgument, "coerce",
				"option %q: default %v is not a valid %s", opt.Name, opt.Default, opt.Type)
		}
		out[opt.Name] = def
	}
	return out, nil
}

func convert(opt core.VisualizationOption, raw any) (any, error) {
	if opt.Multiple {
		return convertList(opt.Type, raw)
	}
	if list, ok := raw.([]any); ok {
		if len(list) != 1 {
			return nil, fmt.Errorf("option %q takes one value, got %d", opt.Name, len(list))
		}
		raw = list[0]
	}
	return convertScalar(opt.Type, raw)
}

func convertScalar(t core.OptionType, raw any) (any, error) {
	switch t {
	case core.OptionInteger:
		var v int64
		err := mapstructure.WeakDecode(raw, &v)
		return v, err
	case core.OptionFloat:
		var v float64
		err := mapstructure.WeakDecode(raw, &v)
		return v, err
	case core.OptionBoolean:
		var v bool
		err := mapstructure.WeakDecode(raw, &v)
		return v, err
	default:
		var v string
		err := mapstructure.WeakDecode(raw, &v)
		return v, err
	}
}

func convertList(t core.OptionType, raw any) (any, error) {
	items := asList(raw)
	out := make([]any, 0, len(items))
	for _, item := range items {
		v, err := convertScalar(t, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
