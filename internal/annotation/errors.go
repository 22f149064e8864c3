package annotation

import (
	"errors"
	"fmt"

	"github.com/ccamacho/madison/internal/store"
)

// Kind classifies an engine failure.
type Kind string

const (
	KindInvalidRequest       Kind = "INVALID_REQUEST"
	KindNotFound             Kind = "NOT_FOUND"
	KindTransactionFailure   Kind = "TRANSACTION_FAILURE"
	KindExternalStoreFailure Kind = "EXTERNAL_STORE_FAILURE"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below, so callers can write
// errors.Is(err, annotation.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidRequest       = &Error{Kind: KindInvalidRequest}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrTransactionFailure   = &Error{Kind: KindTransactionFailure}
	ErrExternalStoreFailure = &Error{Kind: KindExternalStoreFailure}
)

func InvalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

func NotFound(message string, err error) *Error {
	return &Error{Kind: KindNotFound, Message: message, Err: err}
}

// KindOf returns the kind of err, or "" when err is not an engine error.
func KindOf(err error) Kind {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind
	}
	return ""
}

// classify turns a persistence error into an engine error. Errors that are
// already classified pass through untouched.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var domain *Error
	if errors.As(err, &domain) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: op, Err: err}
	case errors.Is(err, store.ErrValidation):
		return &Error{Kind: KindInvalidRequest, Message: op, Err: err}
	default:
		return &Error{Kind: KindTransactionFailure, Message: op, Err: err}
	}
}
