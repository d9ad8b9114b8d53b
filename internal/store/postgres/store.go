package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	conf "github.com/webitel/cdr-exporter/config"
	"github.com/webitel/cdr-exporter/internal/errors"
	"github.com/webitel/cdr-exporter/internal/store"
	otelpgx "github.com/webitel/webitel-go-kit/infra/otel/instrumentation/pgx"
)

// Store is the struct implementing the Store interface.
type Store struct {
	exportStore store.ExportStore
	cdrStore    store.CdrStore
	config      *conf.DatabaseConfig
	conn        *pgxpool.Pool
}

// New creates a new Store instance.
func New(config *conf.DatabaseConfig) *Store {
	return &Store{config: config}
}

func (s *Store) Export() store.ExportStore {
	if s.exportStore == nil {
		es, err := NewExportStore(s)
		if err != nil {
			return nil
		}
		s.exportStore = es
	}
	return s.exportStore
}

func (s *Store) Cdr() store.CdrStore {
	if s.cdrStore == nil {
		cs, err := NewCdrStore(s)
		if err != nil {
			return nil
		}
		s.cdrStore = cs
	}
	return s.cdrStore
}

// Database returns the database connection or a custom error if it is not opened.
func (s *Store) Database() (*pgxpool.Pool, error) { // Return custom DB error
	if s.conn == nil {
		return nil, errors.New("database connection is not opened")
	}
	return s.conn, nil
}

// Open establishes a connection to the database and returns a custom error if it fails.
func (s *Store) Open() error {
	config, err := pgxpool.ParseConfig(s.config.Url)
	if err != nil {
		return errors.NewDBInternalError("open", err)
	}

	// Attach the OpenTelemetry tracer for pgx
	config.ConnConfig.Tracer = otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName())

	conn, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return errors.NewDBInternalError("open", err)
	}
	s.conn = conn
	slog.Debug("cdr_exporter.store.connection_opened", slog.String("message", "postgres: connection opened"))
	return nil
}

// Close closes the database connection and returns a custom error if it fails.
func (s *Store) Close() error {
	if s.conn != nil {
		s.conn.Close()
		slog.Debug("cdr_exporter.store.connection_closed", slog.String("message", "postgres: connection closed"))
		s.conn = nil
	}
	return nil
}

// inTx runs fn in a transaction, committing only when fn succeeds.
func (s *Store) inTx(ctx context.Context, where string, fn func(tx pgx.Tx) error) error {
	db, err := s.Database()
	if err != nil {
		return errors.NewDBInternalError(where, err)
	}
	tx, err := db.Begin(ctx)
	if err != nil {
		return errors.NewDBInternalError(where, err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.WarnContext(ctx, "cdr_exporter.store.rollback_failed",
				slog.String("where", where), slog.String("error", rbErr.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.FromPgError(where, err)
	}
	return nil
}
