package endpoint

import (
	"fmt"
	"strings"
)

// Record is one raw JSON object from a page of the remote API.
type Record map[string]any

// Lookup walks a dotted path ("contributors.deep_sleep") through nested
// objects. A missing or null segment yields (nil, false, nil). A present
// intermediate segment that is not an object is an error.
func (r Record) Lookup(path string) (any, bool, error) {
	var cur any = map[string]any(r)
	parts := strings.Split(path, ".")
	for i, part := range parts {
		var obj map[string]any
		switch m := cur.(type) {
		case map[string]any:
			obj = m
		case Record:
			obj = m
		default:
			return nil, false, fmt.Errorf("%w: %s is %T, not an object",
				ErrNotObject, strings.Join(parts[:i], "."), cur)
		}
		v, ok := obj[part]
		if !ok || v == nil {
			return nil, false, nil
		}
		cur = v
	}
	return cur, true, nil
}

// ID returns a short identifier for log lines: the record id, else its day.
func (r Record) ID() string {
	for _, key := range []string{"id", "day"} {
		if v, ok := r[key]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return "?"
}

// Schema is the ordered column set an endpoint's rows are built from.
type Schema struct {
	columns []string
	index   map[string]int
}

func NewSchema(columns ...string) *Schema {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c] = i
	}
	return &Schema{columns: columns, index: index}
}

func (s *Schema) Columns() []string { return s.columns }

func (s *Schema) Has(column string) bool {
	_, ok := s.index[column]
	return ok
}

// NewRow returns a row over the schema with every value Null.
func (s *Schema) NewRow() Row {
	return Row{schema: s, values: make([]Value, len(s.columns))}
}

// Row is a flattened record: an ordered, schema-described mapping from column
// name to Value. Every declared column is present, Null until set.
type Row struct {
	schema *Schema
	values []Value
}

// NewRow returns a row over the given columns with every value Null.
func NewRow(columns ...string) Row {
	return NewSchema(columns...).NewRow()
}

// Set assigns a declared column. Undeclared columns are rejected.
func (r Row) Set(column string, v Value) error {
	if r.schema == nil {
		return fmt.Errorf("column %q set on a row without schema", column)
	}
	i, ok := r.schema.index[column]
	if !ok {
		return fmt.Errorf("column %q is not declared for this row", column)
	}
	r.values[i] = v
	return nil
}

func (r Row) Get(column string) (Value, bool) {
	if r.schema == nil {
		return Null, false
	}
	i, ok := r.schema.index[column]
	if !ok {
		return Null, false
	}
	return r.values[i], true
}

// Columns returns the declared columns in order. The slice must not be modified.
func (r Row) Columns() []string {
	if r.schema == nil {
		return nil
	}
	return r.schema.columns
}

func (r Row) Len() int { return len(r.values) }

// Map returns a copy of the row keyed by column.
func (r Row) Map() map[string]Value {
	m := make(map[string]Value, len(r.values))
	for i, c := range r.Columns() {
		m[c] = r.values[i]
	}
	return m
}
