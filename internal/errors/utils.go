package errors

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Wrap wraps an error with additional context, creating an Error whose kind
// is inherited from err when err is already structured.
func Wrap(err error, kind Kind, code, message string) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Kind:    e.Kind,
			Code:    code,
			Message: message,
			Cause:   err,
			Context: e.Context,
		}
	}

	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// WithStack records the caller's stack on err unless one is already present.
// The stack is printed by the %+v verb on the published error page.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	var st stackTracer
	if errors.As(err, &st) {
		return err
	}
	return pkgerrors.WithStack(err)
}

// Recovered converts a recovered panic value into an internal error.
func Recovered(v any) error {
	if err, ok := v.(error); ok {
		return pkgerrors.WithStack(&Error{Kind: KindInternal, Code: "PANIC", Message: "panic", Cause: err})
	}
	return pkgerrors.WithStack(&Error{Kind: KindInternal, Code: "PANIC", Message: pkgerrors.Errorf("panic: %v", v).Error()})
}
