package errs

import (
	"fmt"
)

// ErrPanic converts a recovered panic value into a CodeError so recovery
// paths can log and report it like any other error.
func ErrPanic(r any) error {
	return ErrPanicMsg(r, CodeInternal, "panic recovered")
}

func ErrPanicMsg(r any, code int, msg string) error {
	if r == nil {
		return nil
	}
	return &CodeError{
		Code:   code,
		Msg:    msg,
		Detail: fmt.Sprint(r),
	}
}
