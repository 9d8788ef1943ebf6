package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResult_MarshalJSON(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "empty table keeps its keys",
			result: Result{Kind: ResultTable},
			want:   `{"kind":"table","columns":[],"records":[],"print_output":""}`,
		},
		{
			name:   "columns without rows",
			result: Result{Kind: ResultTable, Columns: []string{"region"}, Records: []Record{}},
			want:   `{"kind":"table","columns":["region"],"records":[],"print_output":""}`,
		},
		{
			name: "table",
			result: Result{
				Kind:        ResultTable,
				Columns:     []string{"region"},
				Records:     []Record{{"region": "East"}},
				PrintOutput: "kept 1\n",
			},
			want: `{"kind":"table","columns":["region"],"records":[{"region":"East"}],"print_output":"kept 1\n"}`,
		},
		{
			name:   "chart has no table keys",
			result: Result{Kind: ResultChart, Chart: &Figure{Data: []any{}}},
			want:   `{"kind":"chart","chart":{"data":[],"layout":null,"config":null},"print_output":""}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestResult_MarshalJSONThroughPointer(t *testing.T) {
	got, err := json.Marshal(map[string]*Result{"result": {Kind: ResultTable}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":{"kind":"table","columns":[],"records":[],"print_output":""}}`, string(got))
}
