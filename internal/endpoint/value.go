package endpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Kind tags the scalar held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindJSON:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a single column value of a flattened row. Numbers keep their
// literal text so integers never pass through float64.
type Value struct {
	kind Kind
	str  string
	b    bool
}

var Null = Value{}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number builds a numeric value from its JSON literal.
func Number(lit string) Value { return Value{kind: KindNumber, str: lit} }

func Int(i int64) Value { return Number(strconv.FormatInt(i, 10)) }

func Float(f float64) Value { return Number(strconv.FormatFloat(f, 'f', -1, 64)) }

// JSON serializes v and stores the text opaquely.
func JSON(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Null, fmt.Errorf("failed to serialize nested value: %w", err)
	}
	return Value{kind: KindJSON, str: string(b)}, nil
}

// ValueOf converts a decoded JSON value into a Value. Objects and arrays are
// serialized to JSON text.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		return Number(x.String()), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case map[string]any, Record, []any:
		return JSON(x)
	default:
		return Null, fmt.Errorf("unsupported value type %T", v)
	}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Text returns the textual form of strings, numbers and JSON values.
func (v Value) Text() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str
	}
}

// SQLArg returns the value as a database/sql argument. Integral numbers are
// sent as int64 and the rest as float64.
func (v Value) SQLArg() any {
	switch v.kind {
	case KindString, KindJSON:
		return v.str
	case KindBool:
		return v.b
	case KindNumber:
		if !strings.ContainsAny(v.str, ".eE") {
			if i, err := strconv.ParseInt(v.str, 10, 64); err == nil {
				return i
			}
		}
		f, err := strconv.ParseFloat(v.str, 64)
		if err != nil {
			return v.str
		}
		return f
	default:
		return nil
	}
}

// MarshalJSON renders the value as it would appear in the source payload.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindNumber, KindJSON:
		return []byte(v.str), nil
	case KindBool:
		return []byte(strconv.FormatBool(v.b)), nil
	default:
		return json.Marshal(v.str)
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "NULL"
	}
	return v.Text()
}
