// Package valuetag is a small tagged-value abstraction for the fixed set
// of logical column types the data plane normalizes over: int, float,
// bool, datetime, string, and null. Row-anchor hashing and predicate
// evaluation both need the same normalization rules, so it lives here
// rather than being duplicated (spec §REDESIGN FLAGS: "never rely on
// duck-typed value coercion").
package valuetag

import (
	"fmt"
	"strconv"
	"time"
)

// Kind tags the logical type a Value carries.
type Kind int

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBool
	KindDatetime
	KindString
)

// Value is a normalized column value with an explicit type tag. Callers
// build one with the From* constructors rather than constructing the
// struct directly, so every Value is guaranteed internally consistent.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	t    time.Time
	s    string
}

func Null() Value                    { return Value{kind: KindNull} }
func FromInt(v int64) Value          { return Value{kind: KindInt, i: v} }
func FromFloat(v float64) Value      { return Value{kind: KindFloat, f: v} }
func FromBool(v bool) Value          { return Value{kind: KindBool, b: v} }
func FromTime(v time.Time) Value     { return Value{kind: KindDatetime, t: v} }
func FromString(v string) Value      { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind { return v.kind }

// AsTime returns v's underlying instant and true if v is a KindDatetime
// value, or the zero time and false otherwise.
func AsTime(v Value) (time.Time, bool) {
	if v.kind != KindDatetime {
		return time.Time{}, false
	}
	return v.t, true
}

// Normalize renders v using the exact per-type format the row-anchor
// algorithm requires (spec §4.4):
//
//	int      -> decimal
//	float    -> "%.10f"
//	datetime -> ISO-8601 with microseconds
//	bool     -> "TRUE" / "FALSE"
//	null     -> "NULL"
//	other    -> the value's natural string form
func (v Value) Normalize() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', 10, 64)
	case KindBool:
		if v.b {
			return "TRUE"
		}
		return "FALSE"
	case KindDatetime:
		return v.t.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	case KindString:
		return v.s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FromAny tags a Go-native value (as produced by JSON decoding or an
// Arrow scalar reader) into a Value. Exhaustive over the supported
// logical types; anything else falls back to its fmt.Sprint form tagged
// as a string, matching the seller's original duck-typed fallback while
// keeping the typed path exhaustive for the types that matter.
func FromAny(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case int:
		return FromInt(int64(x))
	case int32:
		return FromInt(int64(x))
	case int64:
		return FromInt(x)
	case float32:
		return FromFloat(float64(x))
	case float64:
		return FromFloat(x)
	case bool:
		return FromBool(x)
	case time.Time:
		return FromTime(x)
	case string:
		return FromString(x)
	default:
		return FromString(fmt.Sprintf("%v", x))
	}
}
