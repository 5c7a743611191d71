package settings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ValidationError describes a value that violates its spec.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + " " + e.Reason
}

func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ErrNoStoredValue is returned by FromStorage when a row carries neither a
// text nor a json value.
var ErrNoStoredValue = errors.New("no stored value")

var (
	truthy = map[string]bool{"1": true, "true": true, "yes": true, "on": true}
	falsy  = map[string]bool{"0": true, "false": true, "no": true, "off": true}
)

// Coerce converts raw into the spec's declared type and then enforces the
// allow-list and integer bounds.
func Coerce(spec *Spec, raw interface{}) (Value, error) {
	v, err := coerceType(spec, raw)
	if err != nil {
		return Value{}, err
	}
	if err := Check(spec, v); err != nil {
		return Value{}, err
	}
	return v, nil
}

func coerceType(spec *Spec, raw interface{}) (Value, error) {
	switch spec.Type {
	case TypeBoolean:
		switch x := raw.(type) {
		case bool:
			return BoolValue(x), nil
		case string:
			s := strings.ToLower(strings.TrimSpace(x))
			if truthy[s] {
				return BoolValue(true), nil
			}
			if falsy[s] {
				return BoolValue(false), nil
			}
		}
		return Value{}, invalid(spec.Key, "must be boolean")

	case TypeInteger:
		if i, ok := toInt64(raw); ok {
			return IntValue(i), nil
		}
		return Value{}, invalid(spec.Key, "must be integer")

	case TypeString:
		switch x := raw.(type) {
		case string:
			return StringValue(x), nil
		case nil:
			return StringValue(""), nil
		case json.Number:
			return StringValue(x.String()), nil
		case bool, int, int64, float64:
			return StringValue(fmt.Sprint(x)), nil
		default:
			b, err := json.Marshal(x)
			if err != nil {
				return StringValue(fmt.Sprint(x)), nil
			}
			return StringValue(string(b)), nil
		}

	case TypeJSON:
		return JSONValue(raw), nil
	}
	return Value{}, invalid(spec.Key, "has unknown value type %q", spec.Type)
}

func toInt64(raw interface{}) (int64, bool) {
	switch x := raw.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		if uint64(x) > math.MaxInt64 {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		i, err := x.Int64()
		return i, err == nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x >= math.Exp2(63) || x < -math.Exp2(63) {
			return 0, false
		}
		return int64(x), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return i, err == nil
	}
	return 0, false
}

// Check enforces the allow-list and, for integer specs, the inclusive
// bounds on an already coerced value.
func Check(spec *Spec, v Value) error {
	if spec.HasAllowed() {
		candidate := v.String()
		if v.Type() == TypeString {
			candidate = strings.ToLower(candidate)
		}
		found := false
		for _, a := range spec.Allowed {
			if a == candidate {
				found = true
				break
			}
		}
		if !found {
			allowed := append([]string(nil), spec.Allowed...)
			sort.Strings(allowed)
			return invalid(spec.Key, "must be one of: %s", strings.Join(allowed, ", "))
		}
	}

	if spec.Type == TypeInteger && v.Type() == TypeInteger {
		if spec.Min != nil && v.Int() < *spec.Min {
			return invalid(spec.Key, "must be >= %d", *spec.Min)
		}
		if spec.Max != nil && v.Int() > *spec.Max {
			return invalid(spec.Key, "must be <= %d", *spec.Max)
		}
	}
	return nil
}

// NormalizeForStorage splits a coerced value into the value_text and
// value_json columns. Booleans populate both; integers and strings only
// value_text; json values only value_json.
func NormalizeForStorage(spec *Spec, v Value) (*string, json.RawMessage, error) {
	switch spec.Type {
	case TypeBoolean:
		text := strconv.FormatBool(v.Bool())
		js, _ := json.Marshal(v.Bool())
		return &text, js, nil
	case TypeInteger:
		text := strconv.FormatInt(v.Int(), 10)
		return &text, nil, nil
	case TypeString:
		text := v.Str()
		return &text, nil, nil
	case TypeJSON:
		js, err := json.Marshal(v.JSON())
		if err != nil {
			return nil, nil, invalid(spec.Key, "must be valid json: %v", err)
		}
		return nil, js, nil
	}
	return nil, nil, invalid(spec.Key, "has unknown value type %q", spec.Type)
}

// RawFromStorage extracts the authoritative raw value of a stored row.
// Boolean and json rows prefer value_json; string and integer rows prefer
// value_text. The bool result is false when neither column is populated.
func RawFromStorage(typ ValueType, text *string, js []byte) (interface{}, bool) {
	fromJSON := func() (interface{}, bool) {
		if len(bytes.TrimSpace(js)) == 0 {
			return nil, false
		}
		dec := json.NewDecoder(bytes.NewReader(js))
		dec.UseNumber()
		var out interface{}
		if err := dec.Decode(&out); err != nil {
			return nil, false
		}
		if out == nil {
			return nil, false
		}
		return out, true
	}
	fromText := func() (interface{}, bool) {
		if text == nil {
			return nil, false
		}
		return *text, true
	}

	if typ == TypeBoolean || typ == TypeJSON {
		if raw, ok := fromJSON(); ok {
			return raw, true
		}
		return fromText()
	}
	if raw, ok := fromText(); ok {
		return raw, true
	}
	return fromJSON()
}

// FromStorage coerces a stored row into a checked Value.
func FromStorage(spec *Spec, text *string, js []byte) (Value, error) {
	raw, ok := RawFromStorage(spec.Type, text, js)
	if !ok {
		return Value{}, ErrNoStoredValue
	}
	if spec.Type == TypeJSON {
		if s, isText := raw.(string); isText {
			var decoded interface{}
			dec := json.NewDecoder(strings.NewReader(s))
			dec.UseNumber()
			if err := dec.Decode(&decoded); err == nil {
				raw = decoded
			}
		}
	}
	return Coerce(spec, raw)
}
