package core

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorCode identifies a class of domain failure. Codes cross the RPC
// boundary verbatim so clients can branch on them.
type ErrorCode string

const (
	CodeUnauthenticated          ErrorCode = "ERR_UNAUTHENTICATED"
	CodeForbidden                ErrorCode = "ERR_FORBIDDEN"
	CodeNotFound                 ErrorCode = "ERR_NOT_FOUND"
	CodeConflict                 ErrorCode = "ERR_CONFLICT"
	CodeValidation               ErrorCode = "ERR_VALIDATION"
	CodePreconditionFailed       ErrorCode = "ERR_PRECONDITION_FAILED"
	CodeVarianceReasonsRequired  ErrorCode = "ERR_VARIANCE_REASONS_REQUIRED"
	CodeSessionAlreadyClosed     ErrorCode = "ERR_SESSION_ALREADY_CLOSED"
	CodeMappingOverlap           ErrorCode = "ERR_MAPPING_OVERLAP"
)

// DomainError is the error type services return for failures a caller
// is expected to handle. Details carries structured context such as the
// item ids still missing variance reasons.
type DomainError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewDomainError(code ErrorCode, format string, args ...any) *DomainError {
	return &DomainError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *DomainError) WithDetail(key string, value any) *DomainError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// AsDomainError unwraps err to a *DomainError if one is in the chain.
func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

func ErrNotFound(what string, id int64) *DomainError {
	return NewDomainError(CodeNotFound, "%s %d not found", what, id)
}

func ErrValidation(format string, args ...any) *DomainError {
	return NewDomainError(CodeValidation, format, args...)
}

func ErrForbidden(format string, args ...any) *DomainError {
	return NewDomainError(CodeForbidden, format, args...)
}

// isUniqueViolation reports whether err is a Postgres unique_violation,
// which services surface as ERR_CONFLICT.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
