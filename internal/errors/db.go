package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"google.golang.org/grpc/codes"
)

// DBError is the base of the persistence error family.
type DBError struct {
	Where   string
	Message string
}

func NewDBError(where, message string) *DBError {
	return &DBError{Where: where, Message: message}
}

func (e *DBError) Error() string {
	return fmt.Sprintf("store.%s: %s", e.Where, e.Message)
}

type DBInternalError struct {
	DBError
	Cause error
}

func NewDBInternalError(where string, cause error) *DBInternalError {
	msg := "internal error"
	if cause != nil {
		msg = cause.Error()
	}
	return &DBInternalError{DBError: *NewDBError(where, msg), Cause: cause}
}

func (e *DBInternalError) Unwrap() error { return e.Cause }

type DBNotFoundError struct {
	DBError
}

func NewDBNotFoundError(where, message string) *DBNotFoundError {
	return &DBNotFoundError{DBError: *NewDBError(where, message)}
}

type DBUniqueViolationError struct {
	DBError
	Column string
}

type DBForeignKeyViolationError struct {
	DBError
	ForeignKeyTable string
}

// IsNotFound reports whether err resolves to codes.NotFound.
func IsNotFound(err error) bool {
	return Code(err) == codes.NotFound
}

// FromPgError maps a pgx failure to the DB error family.
func FromPgError(where string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NewDBNotFoundError(where, "record not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return &DBUniqueViolationError{
				DBError: *NewDBError(where, pgErr.Message),
				Column:  pgErr.ConstraintName,
			}
		case "23503": // foreign_key_violation
			return &DBForeignKeyViolationError{
				DBError:         *NewDBError(where, pgErr.Message),
				ForeignKeyTable: pgErr.TableName,
			}
		}
	}
	return NewDBInternalError(where, err)
}
