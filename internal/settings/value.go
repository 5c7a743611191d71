package settings

import (
	"encoding/json"
	"strconv"
)

// ValueType is the declared type of a setting.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeBoolean ValueType = "boolean"
	TypeJSON    ValueType = "json"
)

// Valid reports whether t is one of the four known value types.
func (t ValueType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeBoolean, TypeJSON:
		return true
	}
	return false
}

// Value is a coerced setting value. Exactly one payload is meaningful,
// selected by Type(); consumers switch on Type() rather than inspecting
// the dynamic type of Interface().
type Value struct {
	typ ValueType
	s   string
	i   int64
	b   bool
	j   interface{}
}

func StringValue(s string) Value    { return Value{typ: TypeString, s: s} }
func IntValue(i int64) Value        { return Value{typ: TypeInteger, i: i} }
func BoolValue(b bool) Value        { return Value{typ: TypeBoolean, b: b} }
func JSONValue(v interface{}) Value { return Value{typ: TypeJSON, j: v} }

// Type returns the variant tag. The zero Value has an empty type.
func (v Value) Type() ValueType { return v.typ }

// IsZero reports whether v carries no variant at all.
func (v Value) IsZero() bool { return v.typ == "" }

func (v Value) Str() string       { return v.s }
func (v Value) Int() int64        { return v.i }
func (v Value) Bool() bool        { return v.b }
func (v Value) JSON() interface{} { return v.j }

// Interface returns the payload as a plain Go value.
func (v Value) Interface() interface{} {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeInteger:
		return v.i
	case TypeBoolean:
		return v.b
	case TypeJSON:
		return v.j
	}
	return nil
}

// String renders the value the way it is shown to operators.
func (v Value) String() string {
	switch v.typ {
	case TypeString:
		return v.s
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeJSON:
		b, err := json.Marshal(v.j)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return ""
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
