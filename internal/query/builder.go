// Package query compiles a validated filter set and a field list into the
// single bulk read an export runs against cdr.cdr.
package query

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/webitel/cdr-exporter/internal/domain/cdr"
	"github.com/webitel/cdr-exporter/internal/domain/filter"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/errors"
)

// SettingPrefix namespaces the session settings that carry COPY parameters.
const SettingPrefix = "cdr_export.p"

// Spec is a compiled export query. It never touches the database.
type Spec struct {
	Fields []string
	Kind   model.ExportKind

	where []sq.Sqlizer
}

type Setting struct {
	Name  string
	Value string
}

// Build compiles spec for the given fields and kind. Fields must belong to
// the template of kind.
func Build(spec filter.Spec, fields []string, kind model.ExportKind) (*Spec, error) {
	if kind == "" {
		kind = model.ExportKindAll
	}
	cols, err := cdr.Normalize(fields, kind)
	if err != nil {
		return nil, err
	}

	q := &Spec{Fields: cols, Kind: kind}
	for _, e := range spec.Entries() {
		pred, ok := predicates[e.Key]
		if !ok {
			return nil, errors.Internal("query builder has no predicate for filter "+string(e.Key),
				errors.WithID("query.build.predicate"))
		}
		q.where = append(q.where, pred(e.Value))
	}
	if kind == model.ExportKindCustomer {
		q.where = append(q.where, sq.Expr(ident("is_last_cdr")+" = true"))
	}
	return q, nil
}

func (s *Spec) selectBuilder(format sq.PlaceholderFormat) sq.SelectBuilder {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = ident(f)
	}

	b := sq.StatementBuilder.PlaceholderFormat(format).
		Select(cols...).
		From(ident(cdr.Schema, cdr.Table))
	for _, w := range s.where {
		b = b.Where(w)
	}
	return b.OrderBy(ident(cdr.TimeStart))
}

// ToSql renders the select with $n placeholders.
func (s *Spec) ToSql() (string, []any, error) {
	return s.selectBuilder(sq.Dollar).ToSql()
}

// CopySQL renders the COPY statement. Each parameter is read back from the
// session setting named in Settings, since COPY takes no bind parameters.
func (s *Spec) CopySQL() (string, error) {
	sql, _, err := s.selectBuilder(settingsFormat{}).ToSql()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("COPY (%s) TO STDOUT WITH (FORMAT CSV, HEADER, FORCE_QUOTE *)", sql), nil
}

// Settings returns the parameter values in placeholder order, to be applied
// with set_config(name, value, true) in the transaction that runs CopySQL.
func (s *Spec) Settings() ([]Setting, error) {
	_, args, err := s.ToSql()
	if err != nil {
		return nil, err
	}
	out := make([]Setting, len(args))
	for i, a := range args {
		v, ok := a.(string)
		if !ok {
			return nil, errors.Internal(fmt.Sprintf("query parameter %d is %T, not string", i+1, a))
		}
		out[i] = Setting{Name: settingName(i + 1), Value: v}
	}
	return out, nil
}

func settingName(n int) string {
	return fmt.Sprintf("%s%d", SettingPrefix, n)
}

// settingsFormat replaces each ? with a current_setting() lookup. "??" stays
// a literal question mark as with the squirrel formats.
type settingsFormat struct{}

func (settingsFormat) ReplacePlaceholders(sql string) (string, error) {
	var (
		b strings.Builder
		n int
	)
	for {
		p := strings.Index(sql, "?")
		if p == -1 {
			b.WriteString(sql)
			return b.String(), nil
		}
		if len(sql[p:]) > 1 && sql[p:p+2] == "??" {
			b.WriteString(sql[:p])
			b.WriteString("?")
			sql = sql[p+2:]
			continue
		}
		n++
		b.WriteString(sql[:p])
		fmt.Fprintf(&b, "current_setting('%s')", settingName(n))
		sql = sql[p+1:]
	}
}
