// Package facts models the per-request collection of named values that rules
// are evaluated against.
//
// Numbers are exact decimals. A threshold of 600 never admits 599.9999999
// through float rounding because no value in this package is ever a float64.
package facts

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindNumber
	KindString
	KindBool
	KindList
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return "absent"
	}
}

// ParseKind maps a configuration name to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "decimal", "int", "integer":
		return KindNumber, nil
	case "string", "":
		return KindString, nil
	case "bool", "boolean":
		return KindBool, nil
	default:
		return KindAbsent, fmt.Errorf("unknown fact type %q", s)
	}
}

// Value is a tagged union over the fact types rules can reason about.
// The zero Value is absent.
type Value struct {
	kind Kind
	num  decimal.Decimal
	str  string
	b    bool
	list []Value
}

// Number wraps an exact decimal.
func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, num: d}
}

// Int wraps an integer.
func Int(n int64) Value {
	return Number(decimal.NewFromInt(n))
}

// NumberFromString parses the textual form of a number without passing
// through float64.
func NumberFromString(s string) (Value, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return Number(d), nil
}

// String wraps a string.
func String(s string) Value {
	return Value{kind: KindString, str: s}
}

// Bool wraps a boolean.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// List wraps an ordered sequence of scalar values.
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// Absent is the missing value.
func Absent() Value {
	return Value{}
}

func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether the value carries nothing.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

func (v Value) AsNumber() (decimal.Decimal, bool) {
	return v.num, v.kind == KindNumber
}

func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsList returns a copy of the list items.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	cp := make([]Value, len(v.list))
	copy(cp, v.list)
	return cp, true
}

// Equal compares two values of the same kind. Numbers compare by magnitude,
// so 600 equals 600.00. Values of different kinds are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num.Cmp(o.num) == 0
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, item := range v.list {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<absent>"
	}
}

// Interface returns a plain Go representation: decimal strings for numbers,
// for encoding into documents and logs.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromAny converts decoded JSON/driver values. Decoders must use
// json.Decoder.UseNumber so numbers arrive as json.Number.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Absent(), nil
	case Value:
		return t, nil
	case json.Number:
		return NumberFromString(t.String())
	case decimal.Decimal:
		return Number(t), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return Number(decimal.NewFromFloat32(t)), nil
	case float64:
		return Number(decimal.NewFromFloat(t)), nil
	case []any:
		items := make([]Value, 0, len(t))
		for i, raw := range t {
			item, err := FromAny(raw)
			if err != nil {
				return Value{}, fmt.Errorf("item %d: %w", i, err)
			}
			if item.kind == KindList {
				return Value{}, fmt.Errorf("item %d: nested lists are not supported", i)
			}
			items = append(items, item)
		}
		return List(items...), nil
	default:
		return Value{}, fmt.Errorf("unsupported fact value of type %T", x)
	}
}

// Coerce converts a raw string into the requested kind. Used by sources that
// only store strings, such as Redis hashes.
func Coerce(raw string, kind Kind) (Value, error) {
	switch kind {
	case KindNumber:
		return NumberFromString(raw)
	case KindBool:
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return Value{}, fmt.Errorf("invalid bool %q: %w", raw, err)
		}
		return Bool(b), nil
	case KindString:
		return String(raw), nil
	default:
		return Value{}, fmt.Errorf("cannot coerce into %s", kind)
	}
}
