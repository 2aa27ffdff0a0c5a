package endpoint

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	ErrNotFound          = errors.New("endpoint not found")
	ErrMissingField      = errors.New("required field missing")
	ErrContractViolation = errors.New("transform contract violation")
	ErrNotObject         = errors.New("nested field is not an object")
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdent reports whether name is safe to splice into SQL as a table or
// column name.
func ValidIdent(name string) bool {
	return identPattern.MatchString(name)
}

// TransformFunc flattens one raw record into a row.
type TransformFunc func(Record) (Row, error)

// Descriptor is the static description of one remote collection: where it is
// fetched from, where it lands, and how its records are flattened.
type Descriptor struct {
	Name       string
	Path       string
	Table      string
	PrimaryKey string
	Columns    []string
	Transform  TransformFunc
}

// Apply transforms rec and checks that the primary key came out non-null.
func (d Descriptor) Apply(rec Record) (Row, error) {
	row, err := d.Transform(rec)
	if err != nil {
		return Row{}, err
	}
	v, ok := row.Get(d.PrimaryKey)
	if !ok || v.IsNull() {
		return Row{}, fmt.Errorf("%w: %s row without %s", ErrContractViolation, d.Name, d.PrimaryKey)
	}
	return row, nil
}

func (d Descriptor) validate() error {
	switch {
	case d.Name == "":
		return errors.New("descriptor has no name")
	case d.Path == "":
		return fmt.Errorf("%s: empty path", d.Name)
	case d.Transform == nil:
		return fmt.Errorf("%s: no transform", d.Name)
	case d.PrimaryKey == "":
		return fmt.Errorf("%s: empty primary key", d.Name)
	}
	if !ValidIdent(d.Table) {
		return fmt.Errorf("%s: invalid table name %q", d.Name, d.Table)
	}
	hasPK := false
	for _, c := range d.Columns {
		if !ValidIdent(c) {
			return fmt.Errorf("%s: invalid column name %q", d.Name, c)
		}
		if c == d.PrimaryKey {
			hasPK = true
		}
	}
	if !hasPK {
		return fmt.Errorf("%s: primary key %q is not a declared column", d.Name, d.PrimaryKey)
	}
	return nil
}

// Registry is the ordered, read-only set of endpoints a sync pass walks.
type Registry struct {
	descs  []Descriptor
	byName map[string]int
}

func NewRegistry(descs ...Descriptor) (*Registry, error) {
	r := &Registry{
		descs:  make([]Descriptor, 0, len(descs)),
		byName: make(map[string]int, len(descs)),
	}
	for _, d := range descs {
		if err := d.validate(); err != nil {
			return nil, fmt.Errorf("invalid endpoint descriptor: %w", err)
		}
		if _, dup := r.byName[d.Name]; dup {
			return nil, fmt.Errorf("duplicate endpoint %q", d.Name)
		}
		r.byName[d.Name] = len(r.descs)
		r.descs = append(r.descs, d)
	}
	return r, nil
}

// List returns the descriptors in processing order.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, len(r.descs))
	copy(out, r.descs)
	return out
}

func (r *Registry) Lookup(name string) (Descriptor, error) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return r.descs[i], nil
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.descs))
	for i, d := range r.descs {
		names[i] = d.Name
	}
	return names
}
