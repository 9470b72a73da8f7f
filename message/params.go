package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind enumerates the scalar kinds a parameter may hold.
type Kind uint8

const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is one call parameter. The zero Value is the empty string.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
}

func String(s string) Value { return Value{kind: KindString, s: s} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind { return v.kind }

// String returns the form-encoded representation: strings verbatim,
// integers in base 10, floats in their shortest exact decimal form and
// booleans as "true"/"false".
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return v.s
	}
}

// MarshalJSON keeps the native JSON type, which matters inside multicall
// content where the server sees typed values.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("message: cannot encode %v as JSON", v.f)
		}
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	default:
		return json.Marshal(v.s)
	}
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// ValueOf converts a Go scalar into a Value. json.Number is split into Int
// or Float depending on its literal.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case Value:
		return t, nil
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
	case uint:
		return uintValue(uint64(t))
	case uint64:
		return uintValue(t)
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("message: invalid number %q", t.String())
		}
		return Float(f), nil
	case fmt.Stringer:
		return String(t.String()), nil
	default:
		return Value{}, fmt.Errorf("message: unsupported parameter type %T", x)
	}
}

func uintValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("message: %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// Params is the parameter bag of one call.
type Params map[string]Value

// Token is the parameter key carrying the session token.
const Token = "token"

// ParamsOf converts a loosely typed map, e.g. decoded JSON, into Params.
func ParamsOf(m map[string]any) (Params, error) {
	out := make(Params, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Has reports whether key is defined, regardless of its value.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Clone returns a shallow copy; a nil receiver yields an empty map.
func (p Params) Clone() Params {
	out := make(Params, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Get returns the wire string for key, or "" when absent.
func (p Params) Get(key string) string {
	return p[key].String()
}
