package query

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webitel/cdr-exporter/internal/domain/filter"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
)

func mustParse(t *testing.T, extra map[string]any) filter.Spec {
	t.Helper()
	raw := map[string]any{
		"time_start_gteq": "2018-01-01",
		"time_start_lteq": "2018-01-02",
	}
	for k, v := range extra {
		raw[k] = v
	}
	spec, err := filter.Parse(raw)
	require.NoError(t, err)
	return spec
}

func TestEveryFilterHasPredicate(t *testing.T) {
	for _, d := range filter.Definitions() {
		_, ok := predicates[d.Key]
		assert.True(t, ok, "no predicate for %s", d.Key)
	}
	assert.Len(t, predicates, len(filter.Definitions()))
}

func TestBuildBasic(t *testing.T) {
	spec := mustParse(t, map[string]any{"customer_acc_id_eq": 25})

	q, err := Build(spec, []string{"success", "id"}, model.ExportKindAll)
	require.NoError(t, err)

	sql, args, err := q.ToSql()
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT "id", "success" FROM "cdr"."cdr" `+
			`WHERE "time_start" >= CAST($1 AS timestamptz) `+
			`AND "time_start" <= CAST($2 AS timestamptz) `+
			`AND "customer_acc_id" = CAST($3 AS integer) `+
			`ORDER BY "time_start"`,
		sql)
	assert.Equal(t, []any{"2018-01-01T00:00:00Z", "2018-01-02T00:00:00Z", "25"}, args)
}

func TestBuildCustomerAddsLastLegPredicate(t *testing.T) {
	spec := mustParse(t, nil)

	customer, err := Build(spec, []string{"id"}, model.ExportKindCustomer)
	require.NoError(t, err)
	sql, _, err := customer.ToSql()
	require.NoError(t, err)
	assert.Contains(t, sql, `"is_last_cdr" = true`)

	for _, kind := range []model.ExportKind{model.ExportKindAll, model.ExportKindVendor} {
		q, err := Build(spec, []string{"id"}, kind)
		require.NoError(t, err)
		sql, _, err := q.ToSql()
		require.NoError(t, err)
		assert.NotContains(t, sql, "is_last_cdr", kind)
	}
}

func TestBuildFieldValidation(t *testing.T) {
	spec := mustParse(t, nil)

	_, err := Build(spec, nil, model.ExportKindAll)
	var vErr *errors.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, errors.ReasonRequired, vErr.Reason)

	_, err = Build(spec, []string{"id", "vendor_price"}, model.ExportKindCustomer)
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, errors.ReasonUnknownField, vErr.Reason)
}

func TestBuildPredicateShapes(t *testing.T) {
	spec := mustParse(t, map[string]any{
		"id_in":                   "3,1",
		"src_prefix_in_contains":  "10%_",
		"dst_country_iso_eq":      "ua",
		"routing_tag_ids_include": 2,
		"routing_tag_ids_exclude": 5,
		"routing_tag_ids_empty":   true,
	})

	q, err := Build(spec, []string{"id"}, model.ExportKindAll)
	require.NoError(t, err)
	sql, args, err := q.ToSql()
	require.NoError(t, err)

	assert.Contains(t, sql, `"id" = ANY(CAST($3 AS bigint[]))`)
	assert.Contains(t, sql, `"src_prefix_in" ILIKE CAST($4 AS varchar)`)
	assert.Contains(t, sql, `"dst_country_id" IN (SELECT "id" FROM "sys"."countries" WHERE "iso2" = CAST($5 AS varchar))`)
	assert.Contains(t, sql, `CAST($6 AS smallint) = ANY("routing_tag_ids")`)
	assert.Contains(t, sql, `NOT (CAST($7 AS smallint) = ANY(COALESCE("routing_tag_ids", '{}')))`)
	assert.Contains(t, sql, `(COALESCE(cardinality("routing_tag_ids"), 0) = 0) = CAST($8 AS boolean)`)

	assert.Equal(t, []any{
		"2018-01-01T00:00:00Z", "2018-01-02T00:00:00Z",
		"{3,1}", `%10\%\_%`, "UA", "2", "5", "true",
	}, args)
}

func TestCopySQLUsesSettings(t *testing.T) {
	spec := mustParse(t, map[string]any{"success_eq": false})

	q, err := Build(spec, []string{"id", "success"}, model.ExportKindVendor)
	require.NoError(t, err)

	copySQL, err := q.CopySQL()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(copySQL, `COPY (SELECT "id", "success" FROM "cdr"."cdr" WHERE`))
	assert.True(t, strings.HasSuffix(copySQL, `ORDER BY "time_start") TO STDOUT WITH (FORMAT CSV, HEADER, FORCE_QUOTE *)`))
	assert.Contains(t, copySQL, `"time_start" >= CAST(current_setting('cdr_export.p1') AS timestamptz)`)
	assert.Contains(t, copySQL, `"success" = CAST(current_setting('cdr_export.p3') AS boolean)`)
	assert.NotContains(t, copySQL, "$")
	assert.NotContains(t, copySQL, "?")

	settings, err := q.Settings()
	require.NoError(t, err)
	assert.Equal(t, []Setting{
		{Name: "cdr_export.p1", Value: "2018-01-01T00:00:00Z"},
		{Name: "cdr_export.p2", Value: "2018-01-02T00:00:00Z"},
		{Name: "cdr_export.p3", Value: "false"},
	}, settings)
}

func TestValuesNeverReachQueryText(t *testing.T) {
	payloads := []string{
		`'; DROP TABLE cdr.cdr; --`,
		`1' OR '1'='1`,
		`"); DELETE FROM cdr_exports; --`,
		`\'; SELECT pg_sleep(10); --`,
		`%' UNION SELECT password FROM users --`,
	}

	stringKeys := []string{
		"src_prefix_in_contains", "src_prefix_routing_contains", "src_prefix_out_contains",
		"dst_prefix_in_contains", "dst_prefix_routing_contains", "dst_prefix_out_contains",
		"src_country_iso_eq", "dst_country_iso_eq",
	}

	for _, payload := range payloads {
		for _, key := range stringKeys {
			spec := mustParse(t, map[string]any{key: payload})
			q, err := Build(spec, []string{"id"}, model.ExportKindAll)
			require.NoError(t, err)

			sql, args, err := q.ToSql()
			require.NoError(t, err)
			copySQL, err := q.CopySQL()
			require.NoError(t, err)

			for _, text := range []string{sql, copySQL} {
				assert.NotContains(t, text, ";")
				assert.NotContains(t, text, "DROP")
				assert.NotContains(t, text, "UNION")
				assert.NotContains(t, text, "pg_sleep")
			}
			assert.Len(t, args, 3)
		}
	}
}

func TestSettingsFormatKeepsEscapedQuestionMark(t *testing.T) {
	out, err := settingsFormat{}.ReplacePlaceholders("a = ? AND b ?? c AND d = ?")
	require.NoError(t, err)
	assert.Equal(t, "a = current_setting('cdr_export.p1') AND b ? c AND d = current_setting('cdr_export.p2')", out)
}
