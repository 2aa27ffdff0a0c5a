package endpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryOrder(t *testing.T) {
	r := Default()

	assert.Equal(t, []string{
		"daily_activity",
		"daily_cardiovascular_age",
		"daily_readiness",
		"daily_resilience",
		"sleep",
		"daily_sleep",
		"sleep_time",
		"daily_spo2",
		"daily_stress",
		"daily_vo2_max",
		"workout",
	}, r.Names())

	for _, d := range r.List() {
		assert.Equal(t, d.Name, d.Path, d.Name)
		assert.Equal(t, d.Name, d.Table, d.Name)
		switch d.Name {
		case "sleep", "sleep_time", "workout":
			assert.Equal(t, "id", d.PrimaryKey, d.Name)
		default:
			assert.Equal(t, "day", d.PrimaryKey, d.Name)
		}
	}
}

func TestRegistryLookup(t *testing.T) {
	r := Default()

	d, err := r.Lookup("sleep")
	require.NoError(t, err)
	assert.Equal(t, "sleep", d.Table)
	assert.Contains(t, d.Columns, "heart_rate")

	_, err = r.Lookup("nonexistent")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistryListIsACopy(t *testing.T) {
	r := Default()
	list := r.List()
	list[0].Name = "mutated"
	assert.Equal(t, "daily_activity", r.List()[0].Name)
}

func TestNewRegistryRejects(t *testing.T) {
	ok := simple("thing", "id", Key("id"), Col("value"))

	tests := []struct {
		name  string
		descs []Descriptor
	}{
		{"duplicate", []Descriptor{ok, ok}},
		{"empty pk", []Descriptor{{Name: "x", Path: "x", Table: "x", Columns: []string{"id"}, Transform: ok.Transform}}},
		{"pk not declared", []Descriptor{{Name: "x", Path: "x", Table: "x", PrimaryKey: "day", Columns: []string{"id"}, Transform: ok.Transform}}},
		{"bad table", []Descriptor{{Name: "x", Path: "x", Table: "Bad-Table", PrimaryKey: "id", Columns: []string{"id"}, Transform: ok.Transform}}},
		{"bad column", []Descriptor{{Name: "x", Path: "x", Table: "x", PrimaryKey: "id", Columns: []string{"id", "a;b"}, Transform: ok.Transform}}},
		{"no transform", []Descriptor{{Name: "x", Path: "x", Table: "x", PrimaryKey: "id", Columns: []string{"id"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.descs...)
			assert.Error(t, err)
		})
	}
}

func TestApplyEnforcesPrimaryKey(t *testing.T) {
	d := Descriptor{
		Name:       "broken",
		Path:       "broken",
		Table:      "broken",
		PrimaryKey: "id",
		Columns:    []string{"id", "value"},
		Transform: func(rec Record) (Row, error) {
			row := NewRow("id", "value")
			_ = row.Set("value", Int(1))
			return row, nil
		},
	}

	_, err := d.Apply(Record{"id": "abc"})
	assert.True(t, errors.Is(err, ErrContractViolation))
}

func TestValidIdent(t *testing.T) {
	assert.True(t, ValidIdent("daily_sleep"))
	assert.True(t, ValidIdent("_x1"))
	assert.False(t, ValidIdent("1abc"))
	assert.False(t, ValidIdent("Daily"))
	assert.False(t, ValidIdent("sleep; DROP TABLE x"))
	assert.False(t, ValidIdent(""))
}
