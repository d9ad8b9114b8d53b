package postgres

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5"
	dberr "github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/query"
	"github.com/webitel/cdr-exporter/internal/store"
)

type Cdr struct {
	storage *Store
}

// CopyTo binds the query parameters as transaction local settings and
// streams the COPY output into w.
func (c *Cdr) CopyTo(ctx context.Context, w io.Writer, spec *query.Spec) (int64, error) {
	copySQL, err := spec.CopySQL()
	if err != nil {
		return 0, dberr.NewDBInternalError("copy_cdr", err)
	}
	settings, err := spec.Settings()
	if err != nil {
		return 0, dberr.NewDBInternalError("copy_cdr", err)
	}

	var rows int64
	err = c.storage.inTx(ctx, "copy_cdr", func(tx pgx.Tx) error {
		for _, s := range settings {
			if _, err := tx.Exec(ctx, `SELECT set_config($1, $2, true)`, s.Name, s.Value); err != nil {
				return dberr.NewDBInternalError("copy_cdr", err)
			}
		}

		tag, err := tx.Conn().PgConn().CopyTo(ctx, w, copySQL)
		if err != nil {
			return dberr.FromPgError("copy_cdr", err)
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rows, nil
}

func NewCdrStore(store *Store) (store.CdrStore, error) {
	if store == nil {
		return nil, dberr.NewDBInternalError("new_store", errors.New("store is nil"))
	}
	return &Cdr{storage: store}, nil
}
