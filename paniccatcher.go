package aio

import (
	"fmt"
	"runtime/debug"
)

// A PanicError is the failure recorded when a [Task] function, a loop
// callback or an offloaded function panics. It carries the recovered
// value and the stack trace of the panicking goroutine.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the recovered value if it is an error, nil otherwise.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// catch runs f, converting a panic into a *PanicError.
func catch(f func()) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	f()
	return nil
}
