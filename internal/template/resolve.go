package template

import (
	"fmt"
	"strings"
	"time"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithNow overrides the clock used for relative dates.
func WithNow(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLocation sets the zone dates are rendered in.
func WithLocation(loc *time.Location) Option {
	return func(r *Resolver) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// WithFile names the query source in error positions.
func WithFile(name string) Option {
	return func(r *Resolver) { r.file = name }
}

// Resolver substitutes parameter values into query text. It holds no
// state between calls and is safe for concurrent use.
type Resolver struct {
	now  func() time.Time
	loc  *time.Location
	file string
}

// New creates a Resolver. Without options it uses the wall clock and
// the local zone.
func New(opts ...Option) *Resolver {
	r := &Resolver{now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve is shorthand for New(opts...).Resolve.
func Resolve(query string, params []core.Parameter, values core.ParamValues, opts ...Option) (string, error) {
	return New(opts...).Resolve(query, params, values)
}

// Placeholders lists the placeholder names referenced by query,
// including relative-date expressions.
func Placeholders(query string) ([]string, error) {
	t, err := Parse(query, "")
	if err != nil {
		return nil, toCore(err)
	}
	return t.Placeholders(), nil
}

// Resolve renders query with the given values. Parameters without a
// value fall back to their default. All relative dates are evaluated
// against a single instant. A placeholder that names neither a declared
// parameter nor a relative date is a templating error.
func (r *Resolver) Resolve(query string, params []core.Parameter, values core.ParamValues) (string, error) {
	now := r.now().In(r.loc)

	t, err := Parse(query, r.file)
	if err != nil {
		return "", toCore(err)
	}

	declared := make(map[string]core.Parameter, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	var b strings.Builder
	b.Grow(len(query))
	for _, n := range t.Nodes {
		switch n := n.(type) {
		case *TextNode:
			b.WriteString(n.Text)
		case *PlaceholderNode:
			p, ok := declared[n.Name]
			if !ok {
				if rd, isDate := ParseRelativeDate(n.Name); isDate {
					b.WriteString(rd.Eval(now))
					continue
				}
				return "", toCore(NewUndeclaredError(n.Pos(), n.Name))
			}
			v, ok := values[p.Name]
			if !ok || v.IsZero() {
				v = p.Default
			}
			s, err := r.render(p, v, now)
			if err != nil {
				return "", toCore(WrapValueError(n.Pos(), p.Name, err))
			}
			b.WriteString(s)
		}
	}
	return b.String(), nil
}

func (r *Resolver) render(p core.Parameter, v core.ParamValue, now time.Time) (string, error) {
	v, err := v.Map(func(s string) (string, error) { return ExpandRelativeDates(s, now), nil })
	if err != nil {
		return "", err
	}
	w := p.Format.Wrapper

	switch p.Type {
	case core.ParamSingleInput, core.ParamSingleSelect:
		return w + v.Scalar() + w, nil

	case core.ParamMultiInput, core.ParamMultiSelect:
		vals := v.Values()
		for i, s := range vals {
			vals[i] = w + s + w
		}
		return strings.Join(vals, p.Format.Sep()), nil

	case core.ParamDatePicker:
		s := v.Scalar()
		if s == "" {
			return "", nil
		}
		d, err := r.formatDate(s, p.Format.Date())
		if err != nil {
			return "", err
		}
		return w + d + w, nil

	case core.ParamDateRange:
		vals := v.Values()
		if len(vals) == 0 {
			return "", nil
		}
		if len(vals) != 2 {
			return "", fmt.Errorf("date range needs exactly two dates, got %d", len(vals))
		}
		start, err := r.formatDate(vals[0], p.Format.Date())
		if err != nil {
			return "", err
		}
		end, err := r.formatDate(vals[1], p.Format.Date())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("BETWEEN %s%s%s AND %s%s%s", w, start, w, w, end, w), nil

	default:
		return "", fmt.Errorf("unknown parameter type %q", p.Type)
	}
}

func (r *Resolver) formatDate(s, pattern string) (string, error) {
	d, err := ParseDate(s, r.loc)
	if err != nil {
		return "", err
	}
	return FormatDate(d, pattern), nil
}

// ExpandChoices evaluates relative dates in a declared choice list.
func (r *Resolver) ExpandChoices(choices []string) []string {
	if choices == nil {
		return nil
	}
	now := r.now().In(r.loc)
	out := make([]string, len(choices))
	for i, c := range choices {
		out[i] = ExpandRelativeDates(c, now)
	}
	return out
}

// ExpandDashboard returns a copy of d with relative dates evaluated in
// parameter defaults, parameter choices, and static option lists.
func (r *Resolver) ExpandDashboard(d core.Dashboard) core.Dashboard {
	now := r.now().In(r.loc)
	expand := func(s string) (string, error) { return ExpandRelativeDates(s, now), nil }

	out := d.Clone()
	for i, p := range out.Parameters {
		out.Parameters[i].Default, _ = p.Default.Map(expand)
		for j, c := range p.Choices {
			out.Parameters[i].Choices[j] = ExpandRelativeDates(c, now)
		}
	}
	for i := range out.Visualizations {
		for j, o := range out.Visualizations[i].Options {
			if s, ok := o.Default.(string); ok {
				out.Visualizations[i].Options[j].Default = ExpandRelativeDates(s, now)
			}
			list, ok := o.Source.(core.ListSource)
			if !ok {
				continue
			}
			for k, c := range list.Choices {
				if s, isStr := c.(string); isStr {
					list.Choices[k] = ExpandRelativeDates(s, now)
				}
			}
		}
	}
	return out
}

// Effective returns the values Resolve would substitute: explicit values
// where given, defaults otherwise, with relative dates evaluated.
func (r *Resolver) Effective(params []core.Parameter, values core.ParamValues) core.ParamValues {
	now := r.now().In(r.loc)
	expand := func(s string) (string, error) { return ExpandRelativeDates(s, now), nil }

	out := make(core.ParamValues, len(params))
	for _, p := range params {
		v, ok := values[p.Name]
		if !ok || v.IsZero() {
			v = p.Default
		}
		if v.IsZero() {
			continue
		}
		out[p.Name], _ = v.Map(expand)
	}
	return out
}
