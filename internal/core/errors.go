package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode is the engine's stable error taxonomy. The names follow the
// wire-level code names surfaced to clients.
type ErrorCode int

const (
	GeneralError1 ErrorCode = iota
	DuplicateKey1
	RowNotFoundWhenDeleting1
	FileCorrupted1
	ErrorAccessingLinkedTable2
	StepSizeMustNotBeZero
	NullNotAllowed
	FeatureNotSupported1
	QueryCanceled
)

func (c ErrorCode) String() string {
	switch c {
	case DuplicateKey1:
		return "DUPLICATE_KEY_1"
	case RowNotFoundWhenDeleting1:
		return "ROW_NOT_FOUND_WHEN_DELETING_1"
	case FileCorrupted1:
		return "FILE_CORRUPTED_1"
	case ErrorAccessingLinkedTable2:
		return "ERROR_ACCESSING_LINKED_TABLE_2"
	case StepSizeMustNotBeZero:
		return "STEP_SIZE_MUST_NOT_BE_ZERO"
	case NullNotAllowed:
		return "NULL_NOT_ALLOWED"
	case FeatureNotSupported1:
		return "FEATURE_NOT_SUPPORTED_1"
	case QueryCanceled:
		return "QUERY_CANCELED"
	}
	return "GENERAL_ERROR_1"
}

// DbError is a typed engine error. Callers match on Code with
// errors.As; Params carry the rendered context (index name, colliding
// key, page id, SQL text).
type DbError struct {
	Code   ErrorCode
	Params []string
	cause  error
}

func (e *DbError) Error() string {
	msg := e.Code.String()
	if len(e.Params) > 0 {
		msg += ": " + strings.Join(e.Params, ", ")
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *DbError) Unwrap() error { return e.cause }

// Is matches another DbError by code, so errors.Is works with the
// sentinel constructors below.
func (e *DbError) Is(target error) bool {
	var t *DbError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// CodeOf extracts the engine code from an error chain, or
// GeneralError1 when the error is not a DbError.
func CodeOf(err error) ErrorCode {
	var e *DbError
	if errors.As(err, &e) {
		return e.Code
	}
	return GeneralError1
}

// NewDuplicateKey reports a unique-constraint violation on the named
// index, rendering the colliding key values.
func NewDuplicateKey(index string, key *SearchRow) error {
	return &DbError{Code: DuplicateKey1, Params: []string{index + " " + key.SQL()}}
}

// NewRowNotFound reports a delete of a row that is not present.
func NewRowNotFound(row *SearchRow) error {
	return &DbError{Code: RowNotFoundWhenDeleting1, Params: []string{row.SQL()}}
}

// NewFileCorrupted reports unrecoverable on-disk damage at a page.
func NewFileCorrupted(pageID int, detail string) error {
	return &DbError{Code: FileCorrupted1, Params: []string{fmt.Sprintf("page %d: %s", pageID, detail)}}
}

// NewLinkedError wraps a remote failure with the SQL that caused it.
func NewLinkedError(sql string, cause error) error {
	return &DbError{Code: ErrorAccessingLinkedTable2, Params: []string{sql}, cause: cause}
}

// ErrStepSizeZero is returned by the range pseudo-index for step 0.
var ErrStepSizeZero error = &DbError{Code: StepSizeMustNotBeZero}

// NewNullNotAllowed reports a null in a primary-key column.
func NewNullNotAllowed(column string) error {
	return &DbError{Code: NullNotAllowed, Params: []string{column}}
}

// NewUnsupported reports an operation an access path cannot perform.
func NewUnsupported(what string) error {
	return &DbError{Code: FeatureNotSupported1, Params: []string{what}}
}

// ErrCanceled is returned by cursors when the session was canceled.
var ErrCanceled error = &DbError{Code: QueryCanceled}
