package invoke

import (
	"context"
	"errors"
	"fmt"
)

// Invoker performs the remote call behind a forward step or a compensation.
// The caller bounds the call with its own context deadline; the payload and
// result are opaque JSON.
type Invoker interface {
	Call(ctx context.Context, service, method string, payload []byte) ([]byte, error)
}

// StepError is a failed step call, classified by the invoker. Retryable
// errors (timeouts, transport failures) are eligible for the step's retry
// policy; fatal errors (application-level rejections) go straight to
// compensation.
type StepError struct {
	Service string
	Method  string
	Fatal   bool
	Err     error
}

func (e *StepError) Error() string {
	kind := "retryable"
	if e.Fatal {
		kind = "fatal"
	}
	return fmt.Sprintf("%s call %s/%s: %v", kind, e.Service, e.Method, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a retryable step failure.
func Retryable(service, method string, err error) error {
	return &StepError{Service: service, Method: method, Err: err}
}

// Fatal wraps err as a non-retryable step failure.
func Fatal(service, method string, err error) error {
	return &StepError{Service: service, Method: method, Fatal: true, Err: err}
}

// IsFatal reports whether err is classified as a fatal step failure.
func IsFatal(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr) && stepErr.Fatal
}
