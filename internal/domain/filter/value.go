package filter

import (
	"slices"
	"strconv"
	"strings"
	"time"
)

// Value is a coerced filter value. The zero Value is the absent marker: the
// caller named the filter but left it blank, so no predicate is emitted.
type Value struct {
	typ     Type
	present bool

	t    time.Time
	i    int64
	b    bool
	s    string
	list []int64
}

func Absent(typ Type) Value { return Value{typ: typ} }

func TimestampValue(t time.Time) Value { return Value{typ: TypeTimestamp, present: true, t: t.UTC()} }
func IntegerValue(i int64) Value       { return Value{typ: TypeInteger, present: true, i: i} }
func BooleanValue(b bool) Value        { return Value{typ: TypeBoolean, present: true, b: b} }
func StringValue(s string) Value       { return Value{typ: TypeString, present: true, s: s} }

func IntegerListValue(list []int64) Value {
	return Value{typ: TypeIntegerList, present: true, list: slices.Clone(list)}
}

func (v Value) Absent() bool    { return !v.present }
func (v Value) Type() Type      { return v.typ }
func (v Value) Time() time.Time { return v.t }
func (v Value) Int() int64      { return v.i }
func (v Value) Bool() bool      { return v.b }
func (v Value) Str() string     { return v.s }
func (v Value) Ints() []int64   { return slices.Clone(v.list) }

// Text is the canonical string form; Parse accepts it back unchanged.
func (v Value) Text() string {
	if !v.present {
		return ""
	}
	switch v.typ {
	case TypeTimestamp:
		return v.t.Format(time.RFC3339Nano)
	case TypeInteger:
		return strconv.FormatInt(v.i, 10)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case TypeString:
		return v.s
	case TypeIntegerList:
		parts := make([]string, len(v.list))
		for i, n := range v.list {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	}
	return ""
}

func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.present != o.present {
		return false
	}
	if !v.present {
		return true
	}
	if v.typ == TypeTimestamp {
		return v.t.Equal(o.t)
	}
	return v.Text() == o.Text()
}
