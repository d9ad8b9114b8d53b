package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/webitel/cdr-exporter/internal/domain/model"
	dberr "github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/store"
)

const (
	exportTable   = "cdr_exporter.cdr_exports"
	exportColumns = "id, status, filters, fields, export_kind, export_type, callback_url, rows_count, created_at, completed_at"
)

type Export struct {
	storage *Store
}

func (m *Export) Insert(ctx context.Context, input *model.NewExport) (*model.Export, error) {
	db, err := m.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("insert_export", err)
	}

	query := `
		INSERT INTO cdr_exporter.cdr_exports
			(status, filters, fields, export_kind, export_type, callback_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + exportColumns

	export, err := scanExport(db.QueryRow(
		ctx,
		query,
		string(model.ExportStatusPending),
		input.Filters,
		input.Fields,
		string(input.Kind),
		input.ExportType,
		input.CallbackURL,
		input.CreatedAt,
	))
	if err != nil {
		return nil, dberr.FromPgError("insert_export", err)
	}
	return export, nil
}

func (m *Export) Get(ctx context.Context, id int64) (*model.Export, error) {
	db, err := m.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("get_export", err)
	}

	query := `SELECT ` + exportColumns + ` FROM cdr_exporter.cdr_exports WHERE id = $1`

	export, err := scanExport(db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, dberr.NewDBNotFoundError("get_export", fmt.Sprintf("no export found for id=%d", id))
		}
		return nil, dberr.NewDBInternalError("get_export", err)
	}
	return export, nil
}

func (m *Export) List(ctx context.Context, page, size int) (*model.ExportPage, error) {
	db, err := m.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("list_exports", err)
	}

	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	offset := (page - 1) * size
	limit := size + 1 // fetch one extra to check has_next

	psql := sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	sqlStr, args, err := psql.
		Select(exportColumns).
		From(exportTable).
		OrderBy("id DESC").
		Offset(uint64(offset)).
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError("list_exports", err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError("list_exports", err)
	}
	defer rows.Close()

	var records []*model.Export
	for rows.Next() {
		export, err := scanExport(rows)
		if err != nil {
			return nil, dberr.NewDBInternalError("list_exports", err)
		}
		records = append(records, export)
	}
	if err = rows.Err(); err != nil {
		return nil, dberr.NewDBInternalError("list_exports", err)
	}

	hasNext := false
	if len(records) > size {
		hasNext = true
		records = records[:len(records)-1] // drop the extra record
	}

	return &model.ExportPage{
		Page: int32(page),
		Next: hasNext,
		Data: records,
	}, nil
}

func (m *Export) Finish(ctx context.Context, input *model.FinishExport) error {
	db, err := m.storage.Database()
	if err != nil {
		return dberr.NewDBInternalError("finish_export", err)
	}

	query := `
		UPDATE cdr_exporter.cdr_exports
		SET status = $1,
		    rows_count = $2,
		    completed_at = $3
		WHERE id = $4
		  AND status = $5
	`
	cmd, err := db.Exec(
		ctx,
		query,
		string(input.Status),
		input.RowsCount,
		input.CompletedAt,
		input.ID,
		string(model.ExportStatusPending),
	)
	if err != nil {
		return dberr.NewDBInternalError("finish_export", err)
	}

	if cmd.RowsAffected() == 0 {
		return dberr.NewDBNotFoundError("finish_export",
			fmt.Sprintf("no pending export found for id=%d", input.ID))
	}
	return nil
}

func (m *Export) Delete(ctx context.Context, id int64, hook store.DeleteHook) error {
	query := `DELETE FROM cdr_exporter.cdr_exports WHERE id = $1 RETURNING ` + exportColumns

	return m.storage.inTx(ctx, "delete_export", func(tx pgx.Tx) error {
		export, err := scanExport(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return dberr.NewDBNotFoundError("delete_export", fmt.Sprintf("no export found for id=%d", id))
			}
			return dberr.NewDBInternalError("delete_export", err)
		}
		if hook != nil {
			return hook(ctx, export)
		}
		return nil
	})
}

func (m *Export) LastCompletedFields(ctx context.Context) ([]string, error) {
	db, err := m.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("last_completed_fields", err)
	}

	query := `
		SELECT fields
		FROM cdr_exporter.cdr_exports
		WHERE status = $1
		ORDER BY id DESC
		LIMIT 1
	`

	var fields []string
	err = db.QueryRow(ctx, query, string(model.ExportStatusCompleted)).Scan(&fields)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, dberr.NewDBInternalError("last_completed_fields", err)
	}
	return fields, nil
}

func (m *Export) ListExpired(ctx context.Context, before time.Time, limit int) ([]int64, error) {
	db, err := m.storage.Database()
	if err != nil {
		return nil, dberr.NewDBInternalError("list_expired_exports", err)
	}

	sqlStr, args, err := sq.StatementBuilder.PlaceholderFormat(sq.Dollar).
		Select("id").
		From(exportTable).
		Where(sq.Lt{"created_at": before}).
		Where(sq.NotEq{"status": string(model.ExportStatusPending)}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, dberr.NewDBInternalError("list_expired_exports", err)
	}

	rows, err := db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, dberr.NewDBInternalError("list_expired_exports", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, dberr.NewDBInternalError("list_expired_exports", err)
	}
	return ids, nil
}

func scanExport(row pgx.Row) (*model.Export, error) {
	var (
		e      model.Export
		status string
		kind   string
	)
	err := row.Scan(
		&e.ID,
		&status,
		&e.Filters,
		&e.Fields,
		&kind,
		&e.ExportType,
		&e.CallbackURL,
		&e.RowsCount,
		&e.CreatedAt,
		&e.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = model.ExportStatus(status)
	e.Kind = model.ExportKind(kind)
	return &e, nil
}

func NewExportStore(store *Store) (store.ExportStore, error) {
	if store == nil {
		return nil, dberr.NewDBInternalError("new_store", errors.New("store is nil"))
	}
	return &Export{storage: store}, nil
}
