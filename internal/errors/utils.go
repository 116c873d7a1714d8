package errors

import (
	"errors"
)

// Wrap wraps an error with additional context, creating an Error if the input is not already one
func Wrap(err error, errType ErrorType, code, message string) *Error {
	if err == nil {
		return nil
	}

	// If it's already an Error, preserve its context but update the classification
	var e *Error
	if errors.As(err, &e) {
		var ctx map[string]interface{}
		if len(e.Context) > 0 {
			ctx = make(map[string]interface{}, len(e.Context))
			for k, v := range e.Context {
				ctx[k] = v
			}
		}
		return &Error{
			Type:        errType,
			Code:        code,
			Message:     message,
			Cause:       err,
			Context:     ctx,
			Component:   e.Component,
			Recoverable: e.Recoverable,
		}
	}

	return &Error{
		Type:        errType,
		Code:        code,
		Message:     message,
		Cause:       err,
		Recoverable: errType == ErrorTypeValidation || errType == ErrorTypeTransport || errType == ErrorTypeTimeout,
	}
}

// WrapEncryption wraps an error as an encryption error (non-recoverable)
func WrapEncryption(err error, code, message string) *Error {
	e := Wrap(err, ErrorTypeEncryption, code, message)
	if e != nil {
		e.Recoverable = false
	}
	return e
}

// WrapTransport wraps an error as a transport error
func WrapTransport(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeTransport, code, message)
}

// WrapConfig wraps an error as a configuration error
func WrapConfig(err error, code, message string) *Error {
	e := Wrap(err, ErrorTypeConfig, code, message)
	if e != nil {
		e.Recoverable = false
	}
	return e
}

// WrapValidation wraps an error as a validation error
func WrapValidation(err error, code, message string) *Error {
	return Wrap(err, ErrorTypeValidation, code, message)
}
