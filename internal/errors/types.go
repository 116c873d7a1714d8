// Package errors provides the structured error taxonomy used across the
// Seismic server: validation failures from the contact form, encryption
// failures while sealing a message, transport and timeout failures while
// broadcasting it, and configuration problems found at startup.
package errors

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorType represents different categories of errors.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeEncryption ErrorType = "encryption"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeSecurity   ErrorType = "security"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// Error is a structured error type with context.
type Error struct {
	Type        ErrorType
	Code        string
	Message     string
	Cause       error
	Context     map[string]interface{}
	Component   string
	Recoverable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("[%s]", e.Code))
	}

	if e.Component != "" {
		parts = append(parts, "component:"+e.Component)
	}

	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")

	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}

	return result
}

// Unwrap returns the underlying cause error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements error comparison.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Type == t.Type && e.Code == t.Code
	}

	return false
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value

	return e
}

// WithComponent adds component context.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component

	return e
}

// NewValidationError creates a validation error.
func NewValidationError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeValidation,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewEncryptionError creates an encryption error. Key generation, key
// agreement, encryption and signing failures all land here.
func NewEncryptionError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeEncryption,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// NewTransportError creates a transport error.
func NewTransportError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeTransport,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeTimeout,
		Code:        code,
		Message:     message,
		Recoverable: true,
	}
}

// NewSecurityError creates a security error.
func NewSecurityError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeSecurity,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewConfigError creates a configuration error.
func NewConfigError(code, message string) *Error {
	return &Error{
		Type:        ErrorTypeConfig,
		Code:        code,
		Message:     message,
		Recoverable: false,
	}
}

// NewInternalError creates an internal error.
func NewInternalError(code, message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeInternal,
		Code:        code,
		Message:     message,
		Cause:       cause,
		Recoverable: false,
	}
}

// TypeOf reports the ErrorType of err, or ErrorTypeInternal when err is not
// a structured error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}

	return ErrorTypeInternal
}

// IsValidationError checks if an error is a validation failure.
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsEncryptionError checks if an error happened while sealing a message.
func IsEncryptionError(err error) bool {
	return isType(err, ErrorTypeEncryption)
}

// IsTransportError checks if an error is transport-related.
func IsTransportError(err error) bool {
	return isType(err, ErrorTypeTransport)
}

// IsTimeoutError checks if an error is a timeout.
func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

func isType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}

	return false
}

// ErrorHandler provides centralized error handling.
type ErrorHandler struct {
	logger Logger
}

// Logger interface for error logging.
type Logger interface {
	Error(ctx context.Context, err error, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
}

// NewErrorHandler creates a new error handler.
func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle logs an error at a level matching its type. Validation, timeout and
// transport failures are expected on a public contact form and log as warnings.
func (h *ErrorHandler) Handle(ctx context.Context, err error) {
	if err == nil || h.logger == nil {
		return
	}

	var e *Error
	if !errors.As(err, &e) {
		h.logger.Error(ctx, err, "Unhandled error occurred")
		return
	}

	switch e.Type {
	case ErrorTypeValidation:
		h.logger.Warn(ctx, e, "Validation error occurred",
			"type", e.Type,
			"code", e.Code)
	case ErrorTypeTimeout, ErrorTypeTransport:
		h.logger.Warn(ctx, e, "Delivery error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	case ErrorTypeSecurity:
		h.logger.Error(ctx, e, "Security error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	default:
		h.logger.Error(ctx, e, "Error occurred",
			"type", e.Type,
			"code", e.Code,
			"component", e.Component)
	}
}

// Common error codes.
const (
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
	ErrCodeKeyGeneration    = "ERR_KEY_GENERATION"
	ErrCodeInvalidKey       = "ERR_INVALID_KEY"
	ErrCodeKeyAgreement     = "ERR_KEY_AGREEMENT"
	ErrCodeEncryptFailed    = "ERR_ENCRYPT_FAILED"
	ErrCodeDecryptFailed    = "ERR_DECRYPT_FAILED"
	ErrCodeSignFailed       = "ERR_SIGN_FAILED"
	ErrCodeBadSignature     = "ERR_BAD_SIGNATURE"
	ErrCodeMessageTooLarge  = "ERR_MESSAGE_TOO_LARGE"
	ErrCodeNoRelays         = "ERR_NO_RELAYS"
	ErrCodeRelaysFailed     = "ERR_RELAYS_FAILED"
	ErrCodeNoAcknowledgment = "ERR_NO_ACKNOWLEDGMENT"
	ErrCodeInvalidOrigin    = "ERR_INVALID_ORIGIN"
	ErrCodeRateLimited      = "ERR_RATE_LIMITED"
	ErrCodeConfigInvalid    = "ERR_CONFIG_INVALID"
	ErrCodeInternalError    = "ERR_INTERNAL"
)

// ValidationError interface for field-specific validation errors.
type ValidationError interface {
	error
	Field() string
	Value() interface{}
	Suggestions() []string
}

// FieldValidationError implements ValidationError for specific field errors.
type FieldValidationError struct {
	FieldName    string
	FieldValue   interface{}
	ErrorMessage string
	HelpText     []string
}

// Error implements the error interface.
func (fve *FieldValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", fve.FieldName, fve.ErrorMessage)
}

// Field returns the field name that failed validation.
func (fve *FieldValidationError) Field() string {
	return fve.FieldName
}

// Value returns the invalid value.
func (fve *FieldValidationError) Value() interface{} {
	return fve.FieldValue
}

// Suggestions returns helpful suggestions for fixing the error.
func (fve *FieldValidationError) Suggestions() []string {
	return fve.HelpText
}

// NewFieldValidationError creates a new field validation error.
func NewFieldValidationError(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) *FieldValidationError {
	return &FieldValidationError{
		FieldName:    field,
		FieldValue:   value,
		ErrorMessage: message,
		HelpText:     suggestions,
	}
}

// ValidationErrorCollection represents a collection of validation errors.
type ValidationErrorCollection struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (vec *ValidationErrorCollection) Error() string {
	if len(vec.Errors) == 0 {
		return "no validation errors"
	}
	if len(vec.Errors) == 1 {
		return vec.Errors[0].Error()
	}

	return fmt.Sprintf("validation failed with %d errors", len(vec.Errors))
}

// Add adds a validation error to the collection.
func (vec *ValidationErrorCollection) Add(err ValidationError) {
	vec.Errors = append(vec.Errors, err)
}

// AddField adds a field validation error to the collection.
func (vec *ValidationErrorCollection) AddField(
	field string,
	value interface{},
	message string,
	suggestions ...string,
) {
	vec.Add(NewFieldValidationError(field, value, message, suggestions...))
}

// HasErrors returns true if there are any validation errors.
func (vec *ValidationErrorCollection) HasErrors() bool {
	return len(vec.Errors) > 0
}

// Fields returns the sorted names of the fields that failed.
func (vec *ValidationErrorCollection) Fields() []string {
	fields := make([]string, 0, len(vec.Errors))
	for _, err := range vec.Errors {
		fields = append(fields, err.Field())
	}
	sort.Strings(fields)

	return fields
}

// ToError converts the validation collection to a structured Error. The
// collection stays reachable as the cause.
func (vec *ValidationErrorCollection) ToError() *Error {
	if !vec.HasErrors() {
		return nil
	}

	var messages []string
	for _, err := range vec.Errors {
		messages = append(messages, err.Error())
	}

	return &Error{
		Type:        ErrorTypeValidation,
		Code:        ErrCodeValidationFailed,
		Message:     strings.Join(messages, "; "),
		Cause:       vec,
		Context:     map[string]interface{}{"fields": vec.Fields()},
		Recoverable: true,
	}
}

// InvalidFields extracts the failing field names from a validation error,
// or nil when err carries no field collection.
func InvalidFields(err error) []string {
	var vec *ValidationErrorCollection
	if errors.As(err, &vec) {
		return vec.Fields()
	}
	return nil
}
