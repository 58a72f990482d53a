package expression

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind is the runtime type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindBoolean
	KindString

	// kindAny is only used by static inference when a type cannot be known.
	kindAny Kind = 255
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindString:
		return "string"
	default:
		return "any"
	}
}

// ParseKind maps a declared data type name to a Kind. The aliases cover
// the names used by older point definitions (float, int, bool ...).
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "number", "float", "double", "int", "integer", "numeric":
		return KindNumber, nil
	case "boolean", "bool":
		return KindBoolean, nil
	case "string", "text":
		return KindString, nil
	default:
		return KindNull, fmt.Errorf("unknown data type %q", name)
	}
}

// Value is an immutable typed scalar produced or consumed by an expression.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	b    bool
	str  string
}

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }
func Boolean(b bool) Value { return Value{kind: KindBoolean, b: b} }
func String(s string) Value { return Value{kind: KindString, str: s} }
func Null() Value { return Value{} }

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }
func (v Value) Num() float64 { return v.num }
func (v Value) Bool() bool { return v.b }
func (v Value) Str() string { return v.str }

// Interface returns the value as a plain Go scalar (nil, float64, bool or string).
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindBoolean:
		return v.b
	case KindString:
		return v.str
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindString:
		return v.str
	default:
		return "null"
	}
}

// Equal reports whether both values have the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindBoolean:
		return v.b == o.b
	case KindString:
		return v.str == o.str
	default:
		return true
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// FromInterface converts a decoded JSON scalar or Go scalar into a Value.
func FromInterface(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case bool:
		return Boolean(t), nil
	case string:
		return String(t), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// ParseLiteral parses raw text (as stored by telemetry collaborators) into
// a value of the requested kind.
func ParseLiteral(raw string, kind Kind) (Value, error) {
	s := strings.TrimSpace(raw)
	switch kind {
	case KindNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Null(), fmt.Errorf("cannot parse %q as number", raw)
		}
		return Number(f), nil
	case KindBoolean:
		switch strings.ToLower(s) {
		case "true", "1", "on":
			return Boolean(true), nil
		case "false", "0", "off":
			return Boolean(false), nil
		}
		return Null(), fmt.Errorf("cannot parse %q as boolean", raw)
	case KindString:
		return String(raw), nil
	default:
		return Null(), fmt.Errorf("cannot parse into %s", kind)
	}
}

// Coerce checks that v matches the declared kind of a point. It never casts:
// a mismatch (or a null result) is a type_mismatch evaluation error.
func Coerce(v Value, declared Kind) (Value, error) {
	if v.IsNull() {
		return Null(), &EvalError{Kind: ErrTypeMismatch, Message: fmt.Sprintf("expression produced null for a %s point", declared)}
	}
	if v.kind != declared {
		return Null(), &EvalError{Kind: ErrTypeMismatch, Message: fmt.Sprintf("expression produced a %s but the point declares %s", v.kind, declared)}
	}
	return v, nil
}

// RoundTo rounds number values to the given decimal places; other kinds pass through.
func RoundTo(v Value, places int) Value {
	if v.kind != KindNumber || places < 0 {
		return v
	}
	return Number(roundFloat(v.num, places))
}

func roundFloat(f float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(f*p) / p
}
