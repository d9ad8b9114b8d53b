package filter

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/webitel/cdr-exporter/internal/errors"
)

const requiredBoundsMessage = "filters can't be blank and requires time_start_lteq & time_start_gteq"

// Spec is a validated filter set. Keys named by the caller with a blank value
// are kept as absent values so that serialization preserves them.
type Spec struct {
	values map[Key]Value
}

type Entry struct {
	Definition
	Value Value
}

// Parse validates raw caller filters against the allow-list and coerces
// every value to the type of its operator.
func Parse(raw map[string]any) (Spec, error) {
	if len(raw) == 0 {
		return Spec{}, errors.NewValidationError("filters", errors.ReasonRequired, requiredBoundsMessage)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if _, ok := Lookup(name); !ok {
			return Spec{}, errors.NewValidationError(name, errors.ReasonUnknownKey, "unknown filter")
		}
	}

	spec := Spec{values: make(map[Key]Value, len(raw))}
	for _, name := range names {
		d, _ := Lookup(name)
		v, err := coerce(d, raw[name])
		if err != nil {
			return Spec{}, err
		}
		spec.values[d.Key] = v
	}

	if spec.absent(TimeStartGteq) || spec.absent(TimeStartLteq) {
		return Spec{}, errors.NewValidationError("filters", errors.ReasonRequired, requiredBoundsMessage)
	}
	return spec, nil
}

// ParseSerialized is Parse for the stored map[string]string form.
func ParseSerialized(raw map[string]string) (Spec, error) {
	m := make(map[string]any, len(raw))
	for k, v := range raw {
		m[k] = v
	}
	return Parse(m)
}

func (s Spec) absent(key Key) bool {
	v, ok := s.values[key]
	return !ok || v.Absent()
}

// Get returns the value of key if the caller supplied a non blank one.
func (s Spec) Get(key Key) (Value, bool) {
	v, ok := s.values[key]
	if !ok || v.Absent() {
		return Value{}, false
	}
	return v, true
}

// Entries lists the present filters in allow-list order.
func (s Spec) Entries() []Entry {
	keys := make([]Key, 0, len(s.values))
	for k, v := range s.values {
		if !v.Absent() {
			keys = append(keys, k)
		}
	}
	sortKeys(keys)

	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		out = append(out, Entry{Definition: byKey[k], Value: s.values[k]})
	}
	return out
}

func (s Spec) TimeRange() (from, to time.Time) {
	return s.values[TimeStartGteq].Time(), s.values[TimeStartLteq].Time()
}

// Serialize returns the canonical form persisted with the export. Absent
// values are kept as empty strings.
func (s Spec) Serialize() map[string]string {
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[string(k)] = v.Text()
	}
	return out
}

// Equal compares the semantic content: only present values count.
func (s Spec) Equal(o Spec) bool {
	a, b := s.Entries(), o.Entries()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Key != b[i].Key || !a[i].Value.Equal(b[i].Value) {
			return false
		}
	}
	return true
}

func coerce(d Definition, raw any) (Value, error) {
	text, err := rawText(raw)
	if err != nil {
		return Value{}, invalid(d, err)
	}
	if text == "" {
		return Absent(d.Type), nil
	}

	switch d.Type {
	case TypeTimestamp:
		t, err := cast.ToTimeInDefaultLocationE(text, time.UTC)
		if err != nil {
			return Value{}, invalid(d, err)
		}
		return TimestampValue(t), nil
	case TypeInteger:
		i, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Value{}, invalid(d, err)
		}
		return IntegerValue(i), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, invalid(d, err)
		}
		return BooleanValue(b), nil
	case TypeString:
		return StringValue(text), nil
	case TypeIntegerList:
		var list []int64
		for _, part := range strings.Split(text, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			i, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return Value{}, invalid(d, err)
			}
			list = append(list, i)
		}
		if len(list) == 0 {
			return Absent(d.Type), nil
		}
		return IntegerListValue(list), nil
	}
	return Value{}, invalid(d, nil)
}

// rawText normalizes a boundary value (string, JSON number, bool or a list of
// those) to a trimmed string.
func rawText(raw any) (string, error) {
	switch v := raw.(type) {
	case nil:
		return "", nil
	case []any, []string, []int, []int64:
		parts, err := cast.ToStringSliceE(v)
		if err != nil {
			return "", err
		}
		return strings.Join(parts, ","), nil
	default:
		s, err := cast.ToStringE(v)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
}

func invalid(d Definition, cause error) error {
	e := errors.NewValidationError(string(d.Key), errors.ReasonInvalidValue, "expected "+d.Type.String())
	e.Cause = cause
	return e
}
