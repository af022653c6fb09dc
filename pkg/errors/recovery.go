package errors

import (
	"errors"
	"fmt"
	"runtime/debug"
)

const stackTraceDetail = "stack_trace"

// RecoverPanic converts a recovered value into a fatal ErrInternal carrying
// the stack. It returns nil when r is nil so it can wrap recover() directly.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	case string:
		cause = fmt.Errorf("panic: %s", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail(stackTraceDetail, string(debug.Stack())).
		AsFatal()
}

// StackTrace returns the stack captured by RecoverPanic, if any.
func StackTrace(err error) string {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return ""
	}
	s, _ := appErr.Details[stackTraceDetail].(string)
	return s
}

// Go runs fn on its own goroutine. A panic is recovered and handed to
// onPanic instead of taking the process down.
func Go(fn func(), onPanic func(error)) {
	go func() {
		defer func() {
			if err := RecoverPanic(recover()); err != nil && onPanic != nil {
				onPanic(err)
			}
		}()
		fn()
	}()
}
