package errs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error codes carried on the wire and across layers.
const (
	CodeUnauthenticated = 1101
	CodeValidation      = 1102
	CodePersistence     = 1201
	CodeDelivery        = 1202
	CodeTransport       = 1301
	CodeUnknownFrame    = 1401
	CodeInternal        = 1500
)

var (
	ErrUnauthenticated = NewCodeError(CodeUnauthenticated, "not authenticated")
	ErrValidation      = NewCodeError(CodeValidation, "invalid request")
	ErrPersistence     = NewCodeError(CodePersistence, "persistence failure")
	ErrDelivery        = NewCodeError(CodeDelivery, "delivery failure")
	ErrTransport       = NewCodeError(CodeTransport, "transport failure")
	ErrUnknownFrame    = NewCodeError(CodeUnknownFrame, "unknown frame type")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	if e.Detail == "" {
		return strconv.Itoa(e.Code) + ": " + e.Msg
	}
	return strconv.Itoa(e.Code) + ": " + e.Msg + ": " + e.Detail
}

// WithDetail returns a copy carrying extra detail; the receiver is not mutated
// so the package-level sentinels stay clean.
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	return e.WithDetail(toString(msg, kv))
}

// Is matches on code, so WithDetail copies still compare equal to their sentinel.
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}

// CodeOf extracts the CodeError carried by err, if any.
func CodeOf(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

func toString(msg string, kv []any) string {
	var sb strings.Builder
	sb.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i > 0 || msg != "" {
			sb.WriteString(" ")
		}
		sb.WriteString(fmt.Sprintf("%v", kv[i]))
		sb.WriteString("=")
		if i+1 < len(kv) {
			sb.WriteString(fmt.Sprintf("%v", kv[i+1]))
		}
	}
	return sb.String()
}
