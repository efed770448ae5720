package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Invalid          Kind = "invalid"
	Unauthorized     Kind = "unauthorized"
	Forbidden        Kind = "forbidden"
	NotFound         Kind = "not_found"
	ChainMismatch    Kind = "chain_mismatch"
	ChainUnavailable Kind = "chain_unavailable"
	Conflict         Kind = "conflict"
	Internal         Kind = "internal"
)

// AppError carries a caller-safe message next to the internal cause.
type AppError struct {
	Kind      Kind
	PublicMsg string
	Reason    string // machine readable sub-reason, e.g. the chain mismatch field
	Err       error
}

func (e *AppError) Error() string {
	switch {
	case e.Err != nil && e.PublicMsg != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.PublicMsg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.PublicMsg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.PublicMsg)
	}
	return string(e.Kind)
}

func (e *AppError) Unwrap() error { return e.Err }

func InvalidErr(publicMsg string) *AppError {
	return &AppError{Kind: Invalid, PublicMsg: publicMsg}
}

func InvalidErrf(format string, args ...any) *AppError {
	return &AppError{Kind: Invalid, PublicMsg: fmt.Sprintf(format, args...)}
}

func UnauthorizedErr(publicMsg string) *AppError {
	return &AppError{Kind: Unauthorized, PublicMsg: publicMsg}
}

func ForbiddenErr(publicMsg string) *AppError {
	return &AppError{Kind: Forbidden, PublicMsg: publicMsg}
}

func NotFoundErr(publicMsg string) *AppError {
	return &AppError{Kind: NotFound, PublicMsg: publicMsg}
}

func ConflictErr(publicMsg string) *AppError {
	return &AppError{Kind: Conflict, PublicMsg: publicMsg}
}

// MismatchErr reports a signed transaction that disagrees with its intent.
func MismatchErr(reason, publicMsg string) *AppError {
	return &AppError{Kind: ChainMismatch, Reason: reason, PublicMsg: publicMsg}
}

// ChainUnavailableErr wraps an RPC failure or a missing chain client.
func ChainUnavailableErr(publicMsg string, err error) *AppError {
	return &AppError{Kind: ChainUnavailable, PublicMsg: publicMsg, Err: err}
}

// Wrap marks err as an internal failure without a public message.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{Kind: Internal, PublicMsg: "Unexpected error", Err: err}
}

func As(err error) (*AppError, bool) {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns Internal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(err error) int {
	if ae, ok := As(err); ok {
		switch ae.Kind {
		case Invalid, ChainMismatch:
			return http.StatusBadRequest
		case Unauthorized:
			return http.StatusUnauthorized
		case Forbidden:
			return http.StatusForbidden
		case NotFound:
			return http.StatusNotFound
		case Conflict:
			return http.StatusConflict
		case ChainUnavailable:
			return http.StatusServiceUnavailable
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}

func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.PublicMsg != "" {
		return ae.PublicMsg
	}
	return "Unexpected error"
}
