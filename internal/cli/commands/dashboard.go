package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/leapstack-labs/leapdash/internal/definitions"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// inputFlags are the parameter and option flags shared by commands that
// execute a dashboard.
type inputFlags struct {
	Params  []string
	Options []string
}

// loadDashboard loads ref from the dashboards directory. A ref naming an
// existing local file is read directly instead.
func loadDashboard(ctx context.Context, cc *CommandContext, ref string) (*core.Dashboard, error) {
	if fi, err := os.Stat(ref); err == nil && fi.Mode().IsRegular() {
		content, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", ref, err)
		}
		d, err := definitions.Decode(ref, content)
		if err != nil {
			return nil, err
		}
		if d.ID == "" {
			d.ID = strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
		}
		if err := definitions.Validate(d); err != nil {
			return nil, err
		}
		return d, nil
	}

	if cc.Engine != nil {
		return cc.Engine.LoadDashboard(ctx, ref)
	}
	store, err := cc.DefinitionStore()
	if err != nil {
		return nil, err
	}
	return store.Load(ctx, ref)
}

// parseParams turns name=value flags into parameter values. Values of
// multi-value parameters are split on the parameter's separator.
func parseParams(dash *core.Dashboard, flags []string) (core.ParamValues, error) {
	values := make(core.ParamValues, len(flags))
	for _, f := range flags {
		name, raw, err := splitAssignment(f)
		if err != nil {
			return nil, fmt.Errorf("--param: %w", err)
		}
		p, ok := dash.Parameter(name)
		if !ok {
			return nil, fmt.Errorf("--param: dashboard has no parameter %q", name)
		}
		if p.Type.IsMulti() || p.Type == core.ParamDateRange {
			parts := strings.Split(raw, p.Format.Sep())
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			values[name] = core.ListValue(parts...)
			continue
		}
		values[name] = core.StringValue(raw)
	}
	return values, nil
}

// parseOptions turns viz.name=value flags into option selections. viz is
// a visualization index or title; values of multiple options are split
// on commas.
func parseOptions(dash *core.Dashboard, flags []string) (core.AllOptionValues, error) {
	all := make(core.AllOptionValues)
	for _, f := range flags {
		key, raw, err := splitAssignment(f)
		if err != nil {
			return nil, fmt.Errorf("--option: %w", err)
		}
		vizRef, name, ok := strings.Cut(key, ".")
		if !ok {
			return nil, fmt.Errorf("--option: expected <visualization>.<option>=value, got %q", f)
		}
		idx, err := visualizationIndex(dash, vizRef)
		if err != nil {
			return nil, fmt.Errorf("--option: %w", err)
		}

		var opt *core.VisualizationOption
		for i := range dash.Visualizations[idx].Options {
			if dash.Visualizations[idx].Options[i].Name == name {
				opt = &dash.Visualizations[idx].Options[i]
				break
			}
		}
		if opt == nil {
			return nil, fmt.Errorf("--option: visualization %d has no option %q", idx, name)
		}

		if all[idx] == nil {
			all[idx] = core.OptionValues{}
		}
		if opt.Multiple {
			parts := strings.Split(raw, ",")
			list := make([]any, len(parts))
			for i, p := range parts {
				list[i] = optionValue(opt.Type, strings.TrimSpace(p))
			}
			all[idx][name] = list
			continue
		}
		all[idx][name] = optionValue(opt.Type, raw)
	}
	return all, nil
}

// optionValue parses raw as the option's declared type so it compares
// equal to choices read from a definition. Unparsable input stays a
// string and is rejected during inference.
func optionValue(t core.OptionType, raw string) any {
	switch t {
	case core.OptionInteger:
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return n
		}
	case core.OptionFloat:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return f
		}
	case core.OptionBoolean:
		if b, err := strconv.ParseBool(raw); err == nil {
			return b
		}
	}
	return raw
}

func visualizationIndex(dash *core.Dashboard, ref string) (int, error) {
	if i, err := strconv.Atoi(ref); err == nil {
		if _, err := dash.Visualization(i); err != nil {
			return 0, err
		}
		return i, nil
	}
	for i, v := range dash.Visualizations {
		if v.Title == ref {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no visualization %q", ref)
}
