package store

import (
	"context"
	"io"
	"time"

	"github.com/webitel/cdr-exporter/internal/domain/model"
	"github.com/webitel/cdr-exporter/internal/query"
)

type Store interface {
	Export() ExportStore
	Cdr() CdrStore

	// ------------ Database Management ------------ //
	Open() error  // Return custom DB error
	Close() error // Return custom DB error
}

// DeleteHook runs inside the delete transaction after the row is gone. An
// error rolls the delete back.
type DeleteHook func(ctx context.Context, export *model.Export) error

type ExportStore interface {
	Insert(ctx context.Context, input *model.NewExport) (*model.Export, error)
	Get(ctx context.Context, id int64) (*model.Export, error)
	List(ctx context.Context, page, size int) (*model.ExportPage, error)
	// Finish moves a Pending export to a terminal status. It returns a not
	// found error when the export is gone or no longer Pending.
	Finish(ctx context.Context, input *model.FinishExport) error
	Delete(ctx context.Context, id int64, hook DeleteHook) error
	// LastCompletedFields returns the fields of the newest Completed export,
	// nil when there is none.
	LastCompletedFields(ctx context.Context) ([]string, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]int64, error)
}

type CdrStore interface {
	// CopyTo streams the CSV result of spec into w and returns the row count.
	CopyTo(ctx context.Context, w io.Writer, spec *query.Spec) (int64, error)
}
