package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WebSocket close codes used by the gateway. 4000-4999 is the private range.
const (
	CloseNormal       = 1000
	CloseGoingAway    = 1001
	CloseInternal     = 1011
	CloseAuthRejected = 4001
	CloseKicked       = 4002
	CloseEvicted      = 4003
)

var (
	ErrAuthRejected = NewCodeError(CloseAuthRejected, "auth rejected")
	ErrKicked       = NewCodeError(CloseKicked, "kicked")
	ErrEvicted      = NewCodeError(CloseEvicted, "evicted by newer connection")
	ErrShutdown     = NewCodeError(CloseGoingAway, "server shutting down")
	ErrInternal     = NewCodeError(CloseInternal, "internal error")
)

func NewCodeError(code int, msg string) CodeError {
	return CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e CodeError) WithDetail(detail string) CodeError {
	var d string
	if e.Detail == "" {
		d = detail
	} else {
		d = e.Detail + ", " + detail
	}
	return CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

// Is matches any CodeError carrying the same code.
func (e CodeError) Is(target error) bool {
	var codeErr CodeError
	if !errors.As(target, &codeErr) {
		return false
	}
	return e.Code == codeErr.Code
}

const initialCapacity = 3

func (e CodeError) Error() string {
	v := make([]string, 0, initialCapacity)
	v = append(v, strconv.Itoa(e.Code), e.Msg)

	if e.Detail != "" {
		v = append(v, e.Detail)
	}

	return strings.Join(v, " ")
}

// Code extracts the close code carried by err, or fallback.
func Code(err error, fallback int) int {
	var codeErr CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return fallback
}

// ErrPanic converts a recovered value into an internal CodeError.
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return ErrInternal.WithDetail(fmt.Sprint(r))
}
