package core

import (
	"errors"
	"maps"
	"net/http"
)

type ErrorCode int

const (
	ErrorCodeInternal ErrorCode = iota
	ErrorCodeValidation
	ErrorCodeConflict
	ErrorCodeNotFound
	// ErrorCodeNetwork marks a failed remote create/update/delete.
	ErrorCodeNetwork
	// ErrorCodeListener marks a broken snapshot subscription.
	ErrorCodeListener
	ErrorCodeUnauthenticated
)

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeValidation:
		return "validation"
	case ErrorCodeConflict:
		return "conflict"
	case ErrorCodeNotFound:
		return "not_found"
	case ErrorCodeNetwork:
		return "network"
	case ErrorCodeListener:
		return "listener"
	case ErrorCodeUnauthenticated:
		return "unauthenticated"
	}
	return "internal"
}

type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	Operation string
	Meta      map[string]string
	// Retryable says the same intent may be issued again.
	Retryable bool
	// SafeToShow indicates is safe to show msg to users.
	SafeToShow bool
}

func (e *AppError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func (e *AppError) HTTPStatus() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Code {
	case ErrorCodeValidation:
		return http.StatusBadRequest
	case ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeUnauthenticated:
		return http.StatusUnauthorized
	case ErrorCodeNetwork:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (e *AppError) PublicMessage() string {
	if e == nil {
		return "internal error"
	}
	if e.SafeToShow {
		return e.Message
	}
	return "internal error"
}

// Clone performs a copy of the error + deep-copy of Meta.
func (e *AppError) Clone() *AppError {
	if e == nil {
		return nil
	}
	c := *e
	if e.Meta == nil {
		return &c
	}
	c.Meta = make(map[string]string, len(e.Meta))
	maps.Copy(c.Meta, e.Meta)
	return &c
}

// WithOper returns a new copy of error with operation.
func (e *AppError) WithOper(o string) *AppError {
	if e == nil {
		return nil
	}
	c := e.Clone()
	c.Operation = o
	return c
}

// WithMeta returns a new copy of error with new key-value meta added.
func (e *AppError) WithMeta(k, v string) *AppError {
	if e == nil {
		return nil
	}
	c := e.Clone()
	if c.Meta == nil {
		c.Meta = make(map[string]string, 1)
	}
	c.Meta[k] = v
	return c
}

func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first AppError in the chain, or internal.
func CodeOf(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrorCodeInternal
}

type AppErrorBuilder struct {
	code    ErrorCode
	message string
	err     error

	operation  string
	meta       map[string]string
	retryable  bool
	safeToShow bool
}

func NewAppErrorBuilder(code ErrorCode) *AppErrorBuilder {
	return &AppErrorBuilder{
		code: code,
	}
}
func (b *AppErrorBuilder) Message(m string) *AppErrorBuilder {
	b.message = m
	return b
}
func (b *AppErrorBuilder) Err(e error) *AppErrorBuilder {
	b.err = e
	return b
}
func (b *AppErrorBuilder) Oper(o string) *AppErrorBuilder {
	b.operation = o
	return b
}
func (b *AppErrorBuilder) Meta(k, v string) *AppErrorBuilder {
	if b.meta == nil {
		b.meta = make(map[string]string, 1)
	}
	b.meta[k] = v
	return b
}
func (b *AppErrorBuilder) Retryable(r bool) *AppErrorBuilder {
	b.retryable = r
	return b
}
func (b *AppErrorBuilder) SafeToShow(safe bool) *AppErrorBuilder {
	b.safeToShow = safe
	return b
}
func (b *AppErrorBuilder) Build() *AppError {
	meta := b.meta
	b.meta = nil // if builder is reused
	return &AppError{
		Code:       b.code,
		Message:    b.message,
		Err:        b.err,
		Operation:  b.operation,
		Meta:       meta,
		Retryable:  b.retryable,
		SafeToShow: b.safeToShow,
	}
}

// Some useful constructors.

func NewInternalError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeInternal).
		Message(message).
		Err(err).
		Oper(op).
		SafeToShow(false).
		Build()
}

func NewValidationError(message string, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeValidation).
		Message(message).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewNetworkError(message string, err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeNetwork).
		Message(message).
		Err(err).
		Oper(op).
		Retryable(true).
		SafeToShow(true).
		Build()
}

func NewListenerError(err error, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeListener).
		Message("task subscription failed").
		Err(err).
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewUnauthenticatedError(op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeUnauthenticated).
		Message("no signed in user").
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewTaskConflictError(taskID string, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeConflict).
		Message("task " + taskID + " already exists").
		Oper(op).
		SafeToShow(true).
		Build()
}

func NewTaskNotFoundError(taskID string, op string) *AppError {
	return NewAppErrorBuilder(ErrorCodeNotFound).
		Message("task " + taskID + " not found").
		Oper(op).
		SafeToShow(true).
		Build()
}
