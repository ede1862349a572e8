package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies expected failures so callers can tell them apart from faults.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindBusinessRule ErrorKind = "business_rule"
	KindExternal     ErrorKind = "external_service"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewValidationError(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func NewUnauthorizedError(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg}
}

func NewNotFoundError(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func NewBusinessError(code, msg string) *Error {
	return &Error{Kind: KindBusinessRule, Code: code, Message: msg}
}

func NewExternalError(code, msg string, err error) *Error {
	return &Error{Kind: KindExternal, Code: code, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" for unexpected faults.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

var (
	ErrInventoryDisabled = NewBusinessError("INVENTORY_DISABLED", "inventory tracking is disabled for this product")
	ErrNoChannel         = NewBusinessError("NO_CHANNEL", "merchant has no notification channel configured")
	ErrForbidden         = NewUnauthorizedError("FORBIDDEN", "insufficient permissions")
)
