package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// ===== Error model（機能パッケージ共通） =====

type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT" // 在庫切れ・重複貸出・支払済みなど
	CodeInternal        Code = "INTERNAL"
)

// Reason はコードより細かい業務上の理由。クライアントの分岐用。
type Reason string

const (
	ReasonOutOfStock       Reason = "OUT_OF_STOCK"
	ReasonActiveLoanExists Reason = "ACTIVE_LOAN_EXISTS"
	ReasonHasActiveLoans   Reason = "HAS_ACTIVE_LOANS"
	ReasonAlreadyPaid      Reason = "ALREADY_PAID"
	ReasonNoActiveLoan     Reason = "NO_ACTIVE_LOAN"
	ReasonDuplicateISBN    Reason = "DUPLICATE_ISBN"
)

type Error struct {
	Code    Code
	Reason  Reason
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s(%s): %s", e.Code, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on Code, and on Reason when the target carries one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

func Invalid(msg string) *Error   { return &Error{Code: CodeInvalidArgument, Message: msg} }
func Forbidden(msg string) *Error { return &Error{Code: CodeForbidden, Message: msg} }
func NotFound(msg string) *Error  { return &Error{Code: CodeNotFound, Message: msg} }
func NotFoundWith(reason Reason, msg string) *Error {
	return &Error{Code: CodeNotFound, Reason: reason, Message: msg}
}
func Conflict(reason Reason, msg string) *Error {
	return &Error{Code: CodeConflict, Reason: reason, Message: msg}
}

// Internal wraps an infrastructure failure. The cause is kept for logs only.
func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, cause: cause}
}

// errors.Is 用の番兵
var (
	ErrInvalid          = &Error{Code: CodeInvalidArgument}
	ErrForbidden        = &Error{Code: CodeForbidden}
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrConflict         = &Error{Code: CodeConflict}
	ErrInternal         = &Error{Code: CodeInternal}
	ErrOutOfStock       = &Error{Code: CodeConflict, Reason: ReasonOutOfStock}
	ErrActiveLoanExists = &Error{Code: CodeConflict, Reason: ReasonActiveLoanExists}
	ErrHasActiveLoans   = &Error{Code: CodeConflict, Reason: ReasonHasActiveLoans}
	ErrAlreadyPaid      = &Error{Code: CodeConflict, Reason: ReasonAlreadyPaid}
	ErrNoActiveLoan     = &Error{Code: CodeNotFound, Reason: ReasonNoActiveLoan}
	ErrDuplicateISBN    = &Error{Code: CodeConflict, Reason: ReasonDuplicateISBN}
)

// From は任意の error を *Error に寄せる。未分類のものは INTERNAL 扱い。
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", err)
}

func ToHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeInvalidArgument:
			return http.StatusBadRequest
		case CodeForbidden:
			return http.StatusForbidden
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
