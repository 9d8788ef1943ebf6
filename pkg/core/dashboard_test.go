package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVisualizationOption_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    VisualizationOption
		wantErr string
	}{
		{
			name:  "column source",
			input: `{"name":"region","type":"string","source":"column","column":"region"}`,
			want:  VisualizationOption{Name: "region", Type: OptionString, Source: ColumnSource{Column: "region"}},
		},
		{
			name:  "list source with alias type",
			input: `{"name":"top","type":"int","multiple":true,"source":"list","choices":[5,10]}`,
			want:  VisualizationOption{Name: "top", Type: OptionInteger, Multiple: true, Source: ListSource{Choices: []any{float64(5), float64(10)}}},
		},
		{
			name:  "legacy selection mode and implied list",
			input: `{"name":"flag","type":"bool","selectionMode":"multiple","choices":[true]}`,
			want:  VisualizationOption{Name: "flag", Type: OptionBoolean, Multiple: true, Source: ListSource{Choices: []any{true}}},
		},
		{
			name:  "cascade implies column",
			input: `{"name":"cat","cascade":{"column":"category","level":0}}`,
			want: VisualizationOption{
				Name: "cat", Type: OptionString,
				Source:  ColumnSource{Column: "category"},
				Cascade: &Cascade{Column: "category", Level: 0},
			},
		},
		{
			name:    "column source without column",
			input:   `{"name":"x","source":"column"}`,
			wantErr: "requires a column name",
		},
		{
			name:    "unknown source",
			input:   `{"name":"x","source":"api"}`,
			wantErr: `unknown source "api"`,
		},
		{
			name:    "unknown type",
			input:   `{"name":"x","type":"decimal"}`,
			wantErr: `unknown option type "decimal"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got VisualizationOption
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDashboard_YAML(t *testing.T) {
	doc := `
title: Sales
query:
  code: SELECT * FROM sales WHERE region IN (${region})
parameters:
  - name: region
    type: multi_select
    default: [East]
    choices: [East, West]
    format:
      sep: ","
      wrapper: "'"
visualizations:
  - title: By region
    code: result = df
    options:
      - name: region
        source: column
        column: region
`
	var d Dashboard
	require.NoError(t, yaml.Unmarshal([]byte(doc), &d))

	require.Len(t, d.Parameters, 1)
	p := d.Parameters[0]
	assert.Equal(t, ParamMultiSelect, p.Type)
	assert.Equal(t, []string{"East"}, p.Default.Values())
	assert.True(t, p.Default.IsList())
	assert.Equal(t, "'", p.Format.Wrapper)

	require.Len(t, d.Visualizations, 1)
	require.Len(t, d.Visualizations[0].Options, 1)
	assert.Equal(t, ColumnSource{Column: "region"}, d.Visualizations[0].Options[0].Source)
	require.NoError(t, d.Check())
}

func TestDashboard_Check(t *testing.T) {
	tests := []struct {
		name    string
		dash    Dashboard
		wantErr string
	}{
		{
			name: "valid",
			dash: Dashboard{Parameters: []Parameter{
				{Name: "a", Type: ParamSingleSelect, Default: StringValue("x"), Choices: []string{"x", "y"}},
			}},
		},
		{
			name: "default outside choices",
			dash: Dashboard{Parameters: []Parameter{
				{Name: "a", Type: ParamMultiSelect, Default: ListValue("x", "z"), Choices: []string{"x", "y"}},
			}},
			wantErr: `default "z" is not among its choices`,
		},
		{
			name: "relative date default is not checked",
			dash: Dashboard{Parameters: []Parameter{
				{Name: "d", Type: ParamSingleSelect, Default: StringValue("${yyyy-MM-dd}"), Choices: []string{"2024-01-01"}},
			}},
		},
		{
			name: "duplicate parameter",
			dash: Dashboard{Parameters: []Parameter{
				{Name: "a", Type: ParamSingleInput},
				{Name: "a", Type: ParamSingleInput},
			}},
			wantErr: `duplicate parameter "a"`,
		},
		{
			name: "option without source",
			dash: Dashboard{Visualizations: []Visualization{
				{Options: []VisualizationOption{{Name: "o"}}},
			}},
			wantErr: `option "o" has no source`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dash.Check()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsKind(err, KindInvalidArgument))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDashboard_CloneIsDeep(t *testing.T) {
	orig := Dashboard{
		Parameters: []Parameter{{Name: "a", Type: ParamMultiSelect, Choices: []string{"x"}}},
		Visualizations: []Visualization{{
			Options: []VisualizationOption{{Name: "o", Source: ListSource{Choices: []any{"p"}}}},
		}},
	}
	cp := orig.Clone()

	orig.Parameters[0].Choices[0] = "changed"
	orig.Visualizations[0].Options[0].Source.(ListSource).Choices[0] = "changed"

	assert.Equal(t, "x", cp.Parameters[0].Choices[0])
	assert.Equal(t, "p", cp.Visualizations[0].Options[0].Source.(ListSource).Choices[0])
}

func TestDashboard_Normalize(t *testing.T) {
	d := Dashboard{Visualizations: []Visualization{{
		Options: []VisualizationOption{
			{Name: "n", Type: OptionInteger, Source: ListSource{Choices: []any{float64(5)}}, Default: int64(10)},
			{Name: "m", Source: ListSource{Choices: []any{"a"}}, Default: []any{"a", "b"}},
		},
	}}}

	n := d.Normalize()

	assert.Equal(t, []any{float64(5), int64(10)}, n.Visualizations[0].Options[0].Source.(ListSource).Choices)
	assert.Equal(t, []any{"a", "b"}, n.Visualizations[0].Options[1].Source.(ListSource).Choices)
	// the original is untouched
	assert.Len(t, d.Visualizations[0].Options[0].Source.(ListSource).Choices, 1)
}

func TestValueKey(t *testing.T) {
	assert.Equal(t, ValueKey(1), ValueKey(int64(1)))
	assert.Equal(t, ValueKey(int64(1)), ValueKey(float64(1)))
	assert.NotEqual(t, ValueKey("1"), ValueKey(1))
	assert.NotEqual(t, ValueKey(nil), ValueKey(""))
}
