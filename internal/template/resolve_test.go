package template

import (
	"testing"
	"time"

	"github.com/leapstack-labs/leapdash/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() Option {
	return WithNow(func() time.Time { return fixedNow })
}

func TestResolve_Substitution(t *testing.T) {
	quoted := core.ParamFormat{Separator: ",", Wrapper: "'"}

	tests := []struct {
		name   string
		query  string
		params []core.Parameter
		values core.ParamValues
		want   string
	}{
		{
			name:   "multi select scenario",
			query:  "SELECT * FROM sales WHERE region IN (${region})",
			params: []core.Parameter{{Name: "region", Type: core.ParamMultiSelect, Format: quoted}},
			values: core.ParamValues{"region": core.ListValue("East", "West")},
			want:   "SELECT * FROM sales WHERE region IN ('East','West')",
		},
		{
			name:   "empty multi value",
			query:  "IN (${region})",
			params: []core.Parameter{{Name: "region", Type: core.ParamMultiInput, Format: quoted}},
			values: core.ParamValues{"region": core.ListValue()},
			want:   "IN ()",
		},
		{
			name:   "custom separator without wrapper",
			query:  "${ids}",
			params: []core.Parameter{{Name: "ids", Type: core.ParamMultiInput, Format: core.ParamFormat{Separator: " OR id = "}}},
			values: core.ParamValues{"ids": core.ListValue("1", "2", "3")},
			want:   "1 OR id = 2 OR id = 3",
		},
		{
			name:   "single input",
			query:  "name = ${name}",
			params: []core.Parameter{{Name: "name", Type: core.ParamSingleInput, Format: core.ParamFormat{Wrapper: "'"}}},
			values: core.ParamValues{"name": core.StringValue("a")},
			want:   "name = 'a'",
		},
		{
			name:   "single select takes first of a list",
			query:  "${r}",
			params: []core.Parameter{{Name: "r", Type: core.ParamSingleSelect}},
			values: core.ParamValues{"r": core.ListValue("East", "West")},
			want:   "East",
		},
		{
			name:   "missing value falls back to default",
			query:  "LIMIT ${n}",
			params: []core.Parameter{{Name: "n", Type: core.ParamSingleInput, Default: core.StringValue("10")}},
			want:   "LIMIT 10",
		},
		{
			name:   "relative date default",
			query:  "day >= ${start}",
			params: []core.Parameter{{Name: "start", Type: core.ParamSingleInput, Default: core.StringValue("${yyyy-MM-dd-7d}"), Format: quoted}},
			want:   "day >= '2024-01-24'",
		},
		{
			name:   "relative date inside a value",
			query:  "${days}",
			params: []core.Parameter{{Name: "days", Type: core.ParamMultiSelect, Format: quoted}},
			values: core.ParamValues{"days": core.ListValue("${yyyyMMdd}", "${yyyyMMdd-1d}")},
			want:   "'20240131','20240130'",
		},
		{
			name:   "relative date written in query text",
			query:  "dt = '${yyyyMMdd+7d}'",
			want:   "dt = '20240207'",
		},
		{
			name:   "date picker formats the value",
			query:  "dt = ${day}",
			params: []core.Parameter{{Name: "day", Type: core.ParamDatePicker, Format: core.ParamFormat{DateFormat: "yyyyMMdd", Wrapper: "'"}}},
			values: core.ParamValues{"day": core.StringValue("2024-03-05T00:00:00Z")},
			want:   "dt = '20240305'",
		},
		{
			name:   "date picker without value renders empty",
			query:  "dt = ${day}",
			params: []core.Parameter{{Name: "day", Type: core.ParamDatePicker}},
			want:   "dt = ",
		},
		{
			name:   "date range",
			query:  "WHERE dt ${period}",
			params: []core.Parameter{{Name: "period", Type: core.ParamDateRange, Format: quoted}},
			values: core.ParamValues{"period": core.ListValue("2024-01-01", "${yyyy-MM-dd}")},
			want:   "WHERE dt BETWEEN '2024-01-01' AND '2024-01-31'",
		},
		{
			name:   "repeated placeholder",
			query:  "${a} + ${a}",
			params: []core.Parameter{{Name: "a", Type: core.ParamSingleInput}},
			values: core.ParamValues{"a": core.StringValue("1")},
			want:   "1 + 1",
		},
		{
			name:  "declared but unused values are ignored",
			query: "SELECT 1",
			values: core.ParamValues{
				"unused": core.StringValue("x"),
			},
			want: "SELECT 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.query, tt.params, tt.values, fixedClock(), WithLocation(time.UTC))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_MultiValueShape(t *testing.T) {
	// W v1 W S W v2 W S ... S W vn W for any n, and "" for n = 0.
	p := core.Parameter{Name: "v", Type: core.ParamMultiSelect, Format: core.ParamFormat{Separator: "|", Wrapper: "\""}}
	cases := map[int]string{
		0: "",
		1: `"x0"`,
		2: `"x0"|"x1"`,
		3: `"x0"|"x1"|"x2"`,
	}
	for n, want := range cases {
		vals := make([]string, n)
		for i := range vals {
			vals[i] = "x" + string(rune('0'+i))
		}
		got, err := Resolve("${v}", []core.Parameter{p}, core.ParamValues{"v": core.ListValue(vals...)})
		require.NoError(t, err)
		assert.Equal(t, want, got, "n=%d", n)
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		params  []core.Parameter
		values  core.ParamValues
		wantErr string
		line    int
		column  int
	}{
		{
			name:    "undeclared parameter",
			query:   "SELECT *\nFROM t WHERE x = ${missing}",
			wantErr: `undeclared parameter "missing"`,
			line:    2,
			column:  18,
		},
		{
			name:    "unclosed placeholder",
			query:   "SELECT ${region",
			wantErr: "unclosed placeholder",
			line:    1,
			column:  8,
		},
		{
			name:    "bad date",
			query:   "${d}",
			params:  []core.Parameter{{Name: "d", Type: core.ParamDatePicker}},
			values:  core.ParamValues{"d": core.StringValue("not a date")},
			wantErr: `parameter "d": invalid date "not a date"`,
			line:    1,
			column:  1,
		},
		{
			name:    "date range with one date",
			query:   "${r}",
			params:  []core.Parameter{{Name: "r", Type: core.ParamDateRange}},
			values:  core.ParamValues{"r": core.ListValue("2024-01-01")},
			wantErr: "exactly two dates",
			line:    1,
			column:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Resolve(tt.query, tt.params, tt.values, fixedClock())
			require.Error(t, err)
			assert.True(t, core.IsKind(err, core.KindTemplating), "templating error expected, got %v", err)
			assert.Contains(t, err.Error(), tt.wantErr)

			e, ok := core.AsError(err)
			require.True(t, ok)
			assert.Equal(t, tt.line, e.Line)
			assert.Equal(t, tt.column, e.Column)
		})
	}
}

func TestPlaceholders(t *testing.T) {
	names, err := Placeholders("SELECT ${a}, ${b} WHERE ${a}")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	_, err = Placeholders("${a")
	assert.True(t, core.IsKind(err, core.KindTemplating))
}

func TestResolver_ExpandDashboard(t *testing.T) {
	d := core.Dashboard{
		Parameters: []core.Parameter{{
			Name:    "day",
			Type:    core.ParamSingleSelect,
			Default: core.StringValue("${yyyy-MM-dd}"),
			Choices: []string{"${yyyy-MM-dd}", "${yyyy-MM-dd-1d}"},
		}},
		Visualizations: []core.Visualization{{
			Options: []core.VisualizationOption{{
				Name:    "since",
				Source:  core.ListSource{Choices: []any{"${yyyyMMdd-1M}", 7}},
				Default: "${yyyyMMdd-1M}",
			}},
		}},
	}

	out := New(fixedClock(), WithLocation(time.UTC)).ExpandDashboard(d)

	assert.Equal(t, "2024-01-31", out.Parameters[0].Default.Scalar())
	assert.Equal(t, []string{"2024-01-31", "2024-01-30"}, out.Parameters[0].Choices)
	assert.Equal(t, []any{"20231231", 7}, out.Visualizations[0].Options[0].Source.(core.ListSource).Choices)
	assert.Equal(t, "20231231", out.Visualizations[0].Options[0].Default)

	// the input is untouched
	assert.Equal(t, "${yyyy-MM-dd}", d.Parameters[0].Choices[0])
}

func TestResolver_Effective(t *testing.T) {
	params := []core.Parameter{
		{Name: "a", Type: core.ParamSingleInput, Default: core.StringValue("${yyyyMMdd}")},
		{Name: "b", Type: core.ParamMultiSelect},
		{Name: "c", Type: core.ParamSingleInput},
	}
	got := New(fixedClock(), WithLocation(time.UTC)).Effective(params, core.ParamValues{"b": core.ListValue("x")})

	assert.Equal(t, "20240131", got["a"].Scalar())
	assert.Equal(t, []string{"x"}, got["b"].Values())
	_, ok := got["c"]
	assert.False(t, ok)
}
