// Package filter holds the closed set of CDR export filters and the parsing of
// caller supplied filter maps into a typed Spec.
package filter

import "sort"

type Operator string

const (
	OpEq       Operator = "eq"
	OpGteq     Operator = "gteq"
	OpLteq     Operator = "lteq"
	OpContains Operator = "contains"
	OpInclude  Operator = "include"
	OpExclude  Operator = "exclude"
	OpEmpty    Operator = "empty"
	OpIn       Operator = "in"
)

// Type is the target type a raw value is coerced to.
type Type int

const (
	TypeTimestamp Type = iota + 1
	TypeInteger
	TypeBoolean
	TypeString
	TypeIntegerList
)

func (t Type) String() string {
	switch t {
	case TypeTimestamp:
		return "timestamp"
	case TypeInteger:
		return "integer"
	case TypeBoolean:
		return "boolean"
	case TypeString:
		return "string"
	case TypeIntegerList:
		return "integer list"
	default:
		return "unknown"
	}
}

// Key is a filter name: <field>_<operator>.
type Key string

const (
	TimeStartGteq Key = "time_start_gteq"
	TimeStartLteq Key = "time_start_lteq"
)

type Definition struct {
	Key   Key
	Field string
	Op    Operator
	Type  Type
}

func def(field string, op Operator, typ Type) Definition {
	return Definition{Key: Key(field + "_" + string(op)), Field: field, Op: op, Type: typ}
}

// definitions is the allow-list. Its order is the order of Spec entries.
var definitions = []Definition{
	def("time_start", OpGteq, TypeTimestamp),
	def("time_start", OpLteq, TypeTimestamp),

	def("id", OpIn, TypeIntegerList),
	def("customer_id", OpEq, TypeInteger),
	def("customer_acc_id", OpEq, TypeInteger),
	def("customer_acc_id", OpIn, TypeIntegerList),
	def("customer_acc_external_id", OpEq, TypeInteger),
	def("customer_auth_id", OpEq, TypeInteger),
	def("customer_auth_external_id", OpEq, TypeInteger),
	def("vendor_id", OpEq, TypeInteger),
	def("vendor_acc_id", OpEq, TypeInteger),
	def("vendor_acc_external_id", OpEq, TypeInteger),
	def("orig_gw_id", OpEq, TypeInteger),
	def("term_gw_id", OpEq, TypeInteger),
	def("failed_resource_type_id", OpEq, TypeInteger),

	def("is_last_cdr", OpEq, TypeBoolean),
	def("success", OpEq, TypeBoolean),

	def("src_prefix_in", OpContains, TypeString),
	def("src_prefix_routing", OpContains, TypeString),
	def("src_prefix_out", OpContains, TypeString),
	def("dst_prefix_in", OpContains, TypeString),
	def("dst_prefix_routing", OpContains, TypeString),
	def("dst_prefix_out", OpContains, TypeString),

	def("src_country_id", OpEq, TypeInteger),
	def("dst_country_id", OpEq, TypeInteger),
	def("src_country_iso", OpEq, TypeString),
	def("dst_country_iso", OpEq, TypeString),

	def("routing_tag_ids", OpInclude, TypeInteger),
	def("routing_tag_ids", OpExclude, TypeInteger),
	def("routing_tag_ids", OpEmpty, TypeBoolean),
}

var (
	byKey    = make(map[Key]Definition, len(definitions))
	position = make(map[Key]int, len(definitions))
)

func init() {
	for i, d := range definitions {
		byKey[d.Key] = d
		position[d.Key] = i
	}
}

// Definitions returns a copy of the allow-list.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

func Lookup(key string) (Definition, bool) {
	d, ok := byKey[Key(key)]
	return d, ok
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool { return position[keys[i]] < position[keys[j]] })
}
