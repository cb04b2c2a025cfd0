package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Error Code
// 000 - 099: General errors
const (
	ECUnknown         = 000
	ECMarshalFailed   = 001
	ECUnmarshalFailed = 002
	ECIOError         = 003
)

// 520 - 549: Pipeline errors
const (
	ECValidationError = iota + 520
	ECQueueError
	ECPubSubError
	ECInferenceError
	ECAudioMissing
	ECModelNotLoaded
)

// 550 - 599: Database errors
const (
	ECDatabaseError = iota + 550
	ECNoRows
	ECIntegrityConstrainViolation
	ECTransactionRollback
	ECConnectionFailed
)

type Error struct {
	Code           int      `json:"code"`
	HttpStatusCode int      `json:"-"`
	Message        string   `json:"message"`
	Details        []string `json:"details,omitempty"`
	internal       error
}

var (
	Success                          = NewWithHTTPStatus(0, http.StatusOK, "ok")
	ErrValidationFailed              = New(ECValidationError, "validation failed")
	ErrQueueUnavailable              = NewWithHTTPStatus(ECQueueError, http.StatusServiceUnavailable, "job queue unavailable")
	ErrPubSubUnavailable             = NewWithHTTPStatus(ECPubSubError, http.StatusServiceUnavailable, "pub/sub transport unavailable")
	ErrInferenceFailed               = New(ECInferenceError, "inference failed")
	ErrModelNotLoaded                = NewWithHTTPStatus(ECModelNotLoaded, http.StatusServiceUnavailable, "model not loaded")
	ErrDBError                       = New(ECDatabaseError, "database error")
	ErrNotFound                      = NewWithHTTPStatus(ECNoRows, http.StatusNotFound, "no record found")
	ErrDBIntegrityConstrainViolation = New(ECIntegrityConstrainViolation, "integrity constraint violation")
	ErrDBTransactionRollback         = New(ECTransactionRollback, "transaction rollback error")
	ErrDBConnectionFailed            = NewWithHTTPStatus(ECConnectionFailed, http.StatusServiceUnavailable, "database connection failed")
)

func New(code int, message string, details ...string) *Error {
	return NewWithHTTPStatus(
		code,
		http.StatusInternalServerError,
		message,
		details...,
	)
}

func NewWithHTTPStatus(code, httpSC int, msg string, details ...string) *Error {
	return &Error{
		Code:           code,
		HttpStatusCode: httpSC,
		Message:        msg,
		Details:        details,
		internal:       nil,
	}
}

func FromPgError(e *PGErr) *Error {
	if e == nil {
		return nil
	}
	return New(
		ECDatabaseError,
		fmt.Sprintf("[%s][%s] %s", e.Code, e.Severity, e.Message),
		e.Details,
	)
}

func (e *Error) Error() string {
	if e.internal != nil {
		return fmt.Sprintf("[%d] %s (original error: %s)", e.Code, e.Message, e.internal.Error())
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *Error) ErrorWithDetails() string {
	sb := strings.Builder{}
	sb.WriteString("Error: ")
	sb.WriteString(fmt.Sprintf("  - [%d] %s\n", e.Code, e.Message))
	if len(e.Details) > 0 {
		sb.WriteString("  - Details:\n")
		for _, detail := range e.Details {
			sb.WriteString(fmt.Sprintf("    - %s\n", detail))
		}
	}
	if e.internal != nil {
		sb.WriteString("  - Internal Error: ")
		sb.WriteString(e.internal.Error())
	}
	return sb.String()
}

func (e *Error) Clone() *Error {
	return &Error{
		Code:           e.Code,
		HttpStatusCode: e.HttpStatusCode,
		Message:        e.Message,
		Details:        append([]string{}, e.Details...),
		internal:       e.internal,
	}
}

func (e *Error) WithMessage(message string) *Error {
	if e == nil {
		return nil
	}
	e.Message = message
	return e
}

func (e *Error) WithDetails(details ...string) *Error {
	if e == nil {
		return nil
	}
	e.Details = append(e.Details, details...)
	return e
}

func (e *Error) Warp(err error) *Error {
	if e == nil {
		return nil
	}
	if err == nil {
		return e
	}
	e.internal = err
	return e
}

func (e *Error) Unwrap() error {
	return e.internal
}

// Is lets errors.Is match a cloned-and-decorated Error against its
// sentinel by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e Error) MarshalAndWriteTo(w io.Writer) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
