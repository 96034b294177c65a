package commentapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindServer     Kind = "server"
)

// Error is the single normalized error surfaced by comment operations.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

// Sentinels for errors.Is checks by kind.
var (
	ErrValidation = &Error{Kind: KindValidation}
	ErrAuth       = &Error{Kind: KindAuth}
	ErrNetwork    = &Error{Kind: KindNetwork}
	ErrServer     = &Error{Kind: KindServer}
)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	code := e.Code
	if code == "" {
		code = string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind when the target carries no
// code, which is how the sentinels are shaped.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" && t.Message == "" && t.Status == 0 {
		return e.Kind == t.Kind
	}
	return e == t
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: message}
}

func Auth(message string) *Error {
	return &Error{Kind: KindAuth, Code: "UNAUTHORIZED", Message: message}
}

// fromStatus classifies a non-2xx response.
func fromStatus(status int, code, message string) *Error {
	kind := KindServer
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindAuth
	}
	if code == "" {
		code = "HTTP_" + fmt.Sprint(status)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: kind, Status: status, Code: code, Message: message}
}

// Normalize turns any failure of a binding call into an *Error. Errors that
// are already normalized pass through; anything else is a transport failure.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	message := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		message = "request timed out"
	} else if errors.Is(err, context.Canceled) {
		message = "request cancelled"
	}
	return &Error{Kind: KindNetwork, Code: "NETWORK_ERROR", Message: message, Err: err}
}

func KindOf(err error) (Kind, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return "", false
}
