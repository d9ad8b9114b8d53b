package query

import (
	"fmt"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/webitel/cdr-exporter/internal/domain/filter"
)

// predicateFunc turns a present filter value into a WHERE clause. Values are
// always bound as canonical strings and cast on the server.
type predicateFunc func(v filter.Value) sq.Sqlizer

// predicates is the closed filter table; every allow-listed key has an entry.
var predicates = map[filter.Key]predicateFunc{
	filter.TimeStartGteq: compare("time_start", ">=", "timestamptz"),
	filter.TimeStartLteq: compare("time_start", "<=", "timestamptz"),

	"id_in":                        anyOf("id"),
	"customer_id_eq":               compare("customer_id", "=", "integer"),
	"customer_acc_id_eq":           compare("customer_acc_id", "=", "integer"),
	"customer_acc_id_in":           anyOf("customer_acc_id"),
	"customer_acc_external_id_eq":  compare("customer_acc_external_id", "=", "bigint"),
	"customer_auth_id_eq":          compare("customer_auth_id", "=", "integer"),
	"customer_auth_external_id_eq": compare("customer_auth_external_id", "=", "bigint"),
	"vendor_id_eq":                 compare("vendor_id", "=", "integer"),
	"vendor_acc_id_eq":             compare("vendor_acc_id", "=", "integer"),
	"vendor_acc_external_id_eq":    compare("vendor_acc_external_id", "=", "bigint"),
	"orig_gw_id_eq":                compare("orig_gw_id", "=", "integer"),
	"term_gw_id_eq":                compare("term_gw_id", "=", "integer"),
	"failed_resource_type_id_eq":   compare("failed_resource_type_id", "=", "smallint"),

	"is_last_cdr_eq": compare("is_last_cdr", "=", "boolean"),
	"success_eq":     compare("success", "=", "boolean"),

	"src_prefix_in_contains":      contains("src_prefix_in"),
	"src_prefix_routing_contains": contains("src_prefix_routing"),
	"src_prefix_out_contains":     contains("src_prefix_out"),
	"dst_prefix_in_contains":      contains("dst_prefix_in"),
	"dst_prefix_routing_contains": contains("dst_prefix_routing"),
	"dst_prefix_out_contains":     contains("dst_prefix_out"),

	"src_country_id_eq":  compare("src_country_id", "=", "integer"),
	"dst_country_id_eq":  compare("dst_country_id", "=", "integer"),
	"src_country_iso_eq": countryISO("src_country_id"),
	"dst_country_iso_eq": countryISO("dst_country_id"),

	"routing_tag_ids_include": tagInclude,
	"routing_tag_ids_exclude": tagExclude,
	"routing_tag_ids_empty":   tagEmpty,
}

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func compare(column, op, typ string) predicateFunc {
	clause := fmt.Sprintf("%s %s CAST(? AS %s)", ident(column), op, typ)
	return func(v filter.Value) sq.Sqlizer {
		return sq.Expr(clause, v.Text())
	}
}

func anyOf(column string) predicateFunc {
	clause := fmt.Sprintf("%s = ANY(CAST(? AS bigint[]))", ident(column))
	return func(v filter.Value) sq.Sqlizer {
		return sq.Expr(clause, arrayLiteral(v.Ints()))
	}
}

func contains(column string) predicateFunc {
	clause := fmt.Sprintf("%s ILIKE CAST(? AS varchar)", ident(column))
	return func(v filter.Value) sq.Sqlizer {
		return sq.Expr(clause, "%"+escapeLike(v.Str())+"%")
	}
}

func countryISO(column string) predicateFunc {
	clause := fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s = CAST(? AS varchar))",
		ident(column), ident("id"), ident("sys", "countries"), ident("iso2"))
	return func(v filter.Value) sq.Sqlizer {
		return sq.Expr(clause, strings.ToUpper(v.Str()))
	}
}

var (
	routingTags = ident("routing_tag_ids")

	tagIncludeClause = fmt.Sprintf("CAST(? AS smallint) = ANY(%s)", routingTags)
	tagExcludeClause = fmt.Sprintf("NOT (CAST(? AS smallint) = ANY(COALESCE(%s, '{}')))", routingTags)
	tagEmptyClause   = fmt.Sprintf("(COALESCE(cardinality(%s), 0) = 0) = CAST(? AS boolean)", routingTags)
)

func tagInclude(v filter.Value) sq.Sqlizer { return sq.Expr(tagIncludeClause, v.Text()) }
func tagExclude(v filter.Value) sq.Sqlizer { return sq.Expr(tagExcludeClause, v.Text()) }
func tagEmpty(v filter.Value) sq.Sqlizer   { return sq.Expr(tagEmptyClause, v.Text()) }

// escapeLike makes LIKE wildcards in s match literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func arrayLiteral(list []int64) string {
	parts := make([]string, len(list))
	for i, n := range list {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return "{" + strings.Join(parts, ",") + "}"
}
