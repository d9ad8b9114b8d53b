package errors

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc/codes"
)

// AppError is the service-wide error carrying an identifier, a gRPC code used
// as the error taxonomy and an optional cause.
type AppError struct {
	id      string
	message string
	code    codes.Code
	cause   error
}

type Option func(*AppError)

func WithID(id string) Option {
	return func(e *AppError) { e.id = id }
}

func WithCode(code codes.Code) Option {
	return func(e *AppError) { e.code = code }
}

func WithCause(err error) Option {
	return func(e *AppError) { e.cause = err }
}

// New creates an AppError. The code defaults to codes.Unknown.
func New(message string, opts ...Option) error {
	e := &AppError{message: message, code: codes.Unknown}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func Internal(message string, opts ...Option) error {
	return New(message, append([]Option{WithCode(codes.Internal)}, opts...)...)
}

func NotFound(message string, opts ...Option) error {
	return New(message, append([]Option{WithCode(codes.NotFound)}, opts...)...)
}

func InvalidArgument(message string, opts ...Option) error {
	return New(message, append([]Option{WithCode(codes.InvalidArgument)}, opts...)...)
}

// Unavailable marks a transient failure; the task behind it is delivered again.
func Unavailable(message string, opts ...Option) error {
	return New(message, append([]Option{WithCode(codes.Unavailable)}, opts...)...)
}

func IsRetryable(err error) bool { return Code(err) == codes.Unavailable }

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.message, e.cause.Error())
	}
	return e.message
}

func (e *AppError) Unwrap() error    { return e.cause }
func (e *AppError) ID() string       { return e.id }
func (e *AppError) Code() codes.Code { return e.code }

// Code resolves the taxonomy code of err. The outermost classified error in
// the wrap chain wins, so an explicit code on a wrapper hides its cause.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch t := e.(type) {
		case *ValidationError:
			return codes.InvalidArgument
		case *DBNotFoundError:
			return codes.NotFound
		case *AppError:
			if t.code != codes.Unknown {
				return t.code
			}
		}
	}

	var (
		valErr   *ValidationError
		notFound *DBNotFoundError
		appErr   *AppError
	)
	switch {
	case errors.As(err, &valErr):
		return codes.InvalidArgument
	case errors.As(err, &notFound):
		return codes.NotFound
	case errors.As(err, &appErr):
		return appErr.code
	}
	return codes.Unknown
}

// ID returns the identifier of the first identified error in the chain.
func ID(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.id != "" {
		return appErr.id
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return "validation." + string(valErr.Reason)
	}
	return ""
}

// Details renders the whole chain for logging.
func Details(err error) string {
	if err == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("code=%s", Code(err)))
	if id := ID(err); id != "" {
		b.WriteString(fmt.Sprintf(" id=%s", id))
	}
	b.WriteString(" error=")
	b.WriteString(err.Error())
	return b.String()
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

func Join(errs ...error) error { return errors.Join(errs...) }
