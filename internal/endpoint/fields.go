package endpoint

import (
	"fmt"
	"strings"
)

type fieldMode uint8

const (
	optional fieldMode = iota
	required
	nested
)

// Field maps one dotted source path onto one column.
type Field struct {
	Column string
	Path   string
	mode   fieldMode
}

// Col copies a top-level field under the same name.
func Col(name string) Field { return Field{Column: name, Path: name} }

// From copies the value at path into column.
func From(column, path string) Field { return Field{Column: column, Path: path} }

// Key is a required top-level field, normally the primary key.
func Key(name string) Field { return Field{Column: name, Path: name, mode: required} }

// Blob stores the object at path as JSON text. Absent or empty objects and
// arrays become Null.
func Blob(name string) Field { return Field{Column: name, Path: name, mode: nested} }

// Flatten maps parent.child onto parent_child for each child.
func Flatten(parent string, children ...string) []Field {
	out := make([]Field, len(children))
	for i, c := range children {
		out[i] = From(parent+"_"+c, parent+"."+c)
	}
	return out
}

// Cols is Col over several names.
func Cols(names ...string) []Field {
	out := make([]Field, len(names))
	for i, n := range names {
		out[i] = Col(n)
	}
	return out
}

// Mapping builds the column list and transform for a set of fields.
func Mapping(fields ...Field) ([]string, TransformFunc) {
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Column
	}
	schema := NewSchema(columns...)

	return columns, func(rec Record) (Row, error) {
		row := schema.NewRow()
		for _, f := range fields {
			v, err := f.extract(rec)
			if err != nil {
				return Row{}, err
			}
			if v.IsNull() {
				continue
			}
			if err := row.Set(f.Column, v); err != nil {
				return Row{}, err
			}
		}
		return row, nil
	}
}

func (f Field) extract(rec Record) (Value, error) {
	raw, ok, err := rec.Lookup(f.Path)
	if err != nil {
		return Null, err
	}
	if !ok {
		if f.mode == required {
			return Null, fmt.Errorf("%w: %s", ErrMissingField, f.Path)
		}
		return Null, nil
	}

	if f.mode == nested {
		if empty(raw) {
			return Null, nil
		}
		return JSON(raw)
	}

	v, err := ValueOf(raw)
	if err != nil {
		return Null, fmt.Errorf("field %s: %w", f.Path, err)
	}
	if f.mode == required && v.Kind() == KindString && strings.TrimSpace(v.Text()) == "" {
		return Null, fmt.Errorf("%w: %s is empty", ErrMissingField, f.Path)
	}
	return v, nil
}

func empty(v any) bool {
	switch x := v.(type) {
	case map[string]any:
		return len(x) == 0
	case Record:
		return len(x) == 0
	case []any:
		return len(x) == 0
	case string:
		return x == ""
	}
	return false
}

// simple builds a descriptor whose name, path and table coincide.
func simple(name, pk string, fields ...Field) Descriptor {
	columns, transform := Mapping(fields...)
	return Descriptor{
		Name:       name,
		Path:       name,
		Table:      name,
		PrimaryKey: pk,
		Columns:    columns,
		Transform:  transform,
	}
}

func fields(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
