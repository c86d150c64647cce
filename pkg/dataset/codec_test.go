package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wantRows = []Row{
	{TDS: 100, Flow: 10, PowerSavings: 5, CostSavings: 2},
	{TDS: 200.5, Flow: 20, PowerSavings: 8, CostSavings: 3.25},
}

func TestDecode_CSV(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name: "recorded dataset columns with index",
			input: ",Permeate_TDS,Permeate_Flow,PX_Power_Savings,Power_Cost_Savings\n" +
				"0,100,10,5,2\n" +
				"1,200.5,20,8,3.25\n",
		},
		{
			name: "short aliases in different order",
			input: "flow,tds,cost_savings,power_savings\n" +
				"10,100,2,5\n" +
				"20, 200.5, 3.25, 8\n",
		},
		{
			name: "mixed case and extra columns",
			input: "Site,TDS,FLOW,px_power_savings,POWER_COST_SAVINGS\n" +
				"a,100,10,5,2\n" +
				"b,200.5,20,8,3.25\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Decode(strings.NewReader(tt.input), FormatCSV)
			require.NoError(t, err)
			assert.Equal(t, wantRows, rows)
		})
	}
}

func TestDecode_CSVErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"empty", "", "missing header"},
		{"missing column", "tds,flow,power_savings\n1,2,3\n", "Power_Cost_Savings"},
		{"non numeric", "tds,flow,power_savings,cost_savings\n1,abc,3,4\n", "line 2"},
		{"short record", "tds,flow,power_savings,cost_savings\n1,2,3,4\n1,2\n", "line 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), FormatCSV)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDecode_JSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name: "records",
			input: `[
				{"Permeate_TDS": 100, "Permeate_Flow": 10, "PX_Power_Savings": 5, "Power_Cost_Savings": 2},
				{"Permeate_TDS": 200.5, "Permeate_Flow": "20", "PX_Power_Savings": 8, "Power_Cost_Savings": 3.25}
			]`,
		},
		{
			name:  "column lists",
			input: `{"tds": [100, 200.5], "flow": [10, 20], "power_savings": [5, 8], "cost_savings": [2, 3.25]}`,
		},
		{
			name: "column maps keyed by index",
			input: `{
				"Permeate_TDS": {"1": 200.5, "0": 100},
				"Permeate_Flow": {"0": 10, "1": 20},
				"PX_Power_Savings": {"0": 5, "1": 8},
				"Power_Cost_Savings": {"1": 3.25, "0": 2}
			}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := Decode(strings.NewReader(tt.input), FormatJSON)
			require.NoError(t, err)
			assert.Equal(t, wantRows, rows)
		})
	}
}

func TestDecode_JSONErrors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"invalid", `{"tds": [1,`, "invalid json"},
		{"scalar", `42`, "array or an object"},
		{"record missing field", `[{"tds": 1, "flow": 2, "power_savings": 3}]`, "Power_Cost_Savings"},
		{"null value", `[{"tds": null, "flow": 2, "power_savings": 3, "cost_savings": 4}]`, "null"},
		{"ragged columns", `{"tds": [1, 2], "flow": [1], "power_savings": [1, 2], "cost_savings": [1, 2]}`, "values"},
		{"bad index", `{"tds": {"x": 1}, "flow": {"0": 1}, "power_savings": {"0": 1}, "cost_savings": {"0": 1}}`, "row index"},
		{"mismatched index", `{"Permeate_TDS": {"0": 1, "2": 3}, "Permeate_Flow": {"0": 10, "1": 20}, "PX_Power_Savings": {"0": 5, "1": 8}, "Power_Cost_Savings": {"0": 2, "1": 3}}`, "row index does not match"},
		{"object index against array", `{"tds": [1, 3], "flow": {"0": 10, "5": 20}, "power_savings": [5, 8], "cost_savings": [2, 3]}`, "row index does not match"},
		{"duplicate index", `{"tds": {"0": 1, "0": 2}, "flow": [1, 2], "power_savings": [1, 2], "cost_savings": [1, 2]}`, "duplicate row index"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input), FormatJSON)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatAuto, "csv": FormatCSV, " JSON ": FormatJSON} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseFormat("pickle")
	assert.Error(t, err)
}

func TestFormatFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"hybrid_dataset.csv", FormatCSV, false},
		{"data/HYBRID.JSON", FormatJSON, false},
		{"hybrid_dataset.pkl", FormatAuto, true},
		{"noext", FormatAuto, true},
	}

	for _, tt := range tests {
		got, err := formatFromName(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}
