// File: internal/flow/errors.go
package flow

import "fmt"

// PermanentError marks an account whose sign-in path cannot be automated:
// disabled account, phone verification required, missing recovery address,
// or stuck on a provider page. It drives the retire path upstream: the
// account is excluded from future selection and its credential scrubbed.
type PermanentError struct {
	msg string
}

func (e *PermanentError) Error() string { return e.msg }

// Permanentf builds a PermanentError with a formatted message.
func Permanentf(format string, args ...any) *PermanentError {
	return &PermanentError{msg: fmt.Sprintf(format, args...)}
}

// TimeoutError is a recoverable login timeout: a phase window elapsed
// without the expected page state. Likely an environment hiccup, so the
// account stays retriable.
type TimeoutError struct {
	msg string
}

func (e *TimeoutError) Error() string { return e.msg }

// Timeoutf builds a TimeoutError with a formatted message.
func Timeoutf(format string, args ...any) *TimeoutError {
	return &TimeoutError{msg: fmt.Sprintf(format, args...)}
}
