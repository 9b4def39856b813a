package wire

import "fmt"

// ValueKind tags which field of Value is populated.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindArray
	KindMap
)

// Value is the tagged sum type carried by SET/PUBLISH payloads and
// timeline keyframes: Null | Bool | Int(i64) | Float(f64) | String | Bytes |
// Array(Value...) | Map(String->Value). Encoding preserves the tag; the
// helpers below expose lossy coercions but never implicitly widen on the
// wire — the Kind field always reflects what was actually sent.
type Value struct {
	Kind ValueKind         `msgpack:"kind"`
	B    bool              `msgpack:"b,omitempty"`
	I    int64             `msgpack:"i,omitempty"`
	F    float64           `msgpack:"f,omitempty"`
	S    string            `msgpack:"s,omitempty"`
	Bin  []byte            `msgpack:"bin,omitempty"`
	Arr  []Value           `msgpack:"arr,omitempty"`
	Map  map[string]Value  `msgpack:"map,omitempty"`
}

func Null() Value             { return Value{Kind: KindNull} }
func Bool(v bool) Value       { return Value{Kind: KindBool, B: v} }
func Int(v int64) Value       { return Value{Kind: KindInt, I: v} }
func Float(v float64) Value   { return Value{Kind: KindFloat, F: v} }
func String(v string) Value   { return Value{Kind: KindString, S: v} }
func Bytes(v []byte) Value    { return Value{Kind: KindBytes, Bin: v} }
func Array(v []Value) Value   { return Value{Kind: KindArray, Arr: v} }
func Map(v map[string]Value) Value {
	return Value{Kind: KindMap, Map: v}
}

// AsFloat returns a numeric coercion of Int or Float values.
func (v Value) AsFloat() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.I), true
	case KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// AsInt returns a numeric coercion of Int or Float values, truncating floats.
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KindInt:
		return v.I, true
	case KindFloat:
		return int64(v.F), true
	default:
		return 0, false
	}
}

// AsBool returns the boolean value, if this is a Bool.
func (v Value) AsBool() (bool, bool) {
	if v.Kind != KindBool {
		return false, false
	}
	return v.B, true
}

// AsString returns the string value, if this is a String.
func (v Value) AsString() (string, bool) {
	if v.Kind != KindString {
		return "", false
	}
	return v.S, true
}

// Equal reports whether two values carry the same tag and content.
// Used by the state store to decide whether a Set actually changes anything.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.B == o.B
	case KindInt:
		return v.I == o.I
	case KindFloat:
		return v.F == o.F
	case KindString:
		return v.S == o.S
	case KindBytes:
		if len(v.Bin) != len(o.Bin) {
			return false
		}
		for i := range v.Bin {
			if v.Bin[i] != o.Bin[i] {
				return false
			}
		}
		return true
	case KindArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(o.Arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.Map) != len(o.Map) {
			return false
		}
		for k, mv := range v.Map {
			ov, ok := o.Map[k]
			if !ok || !mv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%t", v.B)
	case KindInt:
		return fmt.Sprintf("%d", v.I)
	case KindFloat:
		return fmt.Sprintf("%g", v.F)
	case KindString:
		return v.S
	case KindBytes:
		return fmt.Sprintf("<%d bytes>", len(v.Bin))
	case KindArray:
		return fmt.Sprintf("[%d items]", len(v.Arr))
	case KindMap:
		return fmt.Sprintf("{%d keys}", len(v.Map))
	default:
		return "?"
	}
}
