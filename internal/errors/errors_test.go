package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := NewTransportError(ErrCodeRelaysFailed, "no relay accepted the event", fmt.Errorf("dial failed")).
		WithComponent("relay")

	assert.Equal(t, "[ERR_RELAYS_FAILED] component:relay no relay accepted the event: dial failed", err.Error())
}

func TestErrorIs(t *testing.T) {
	err := NewTimeoutError(ErrCodeNoAcknowledgment, "no relay acknowledged")
	wrapped := fmt.Errorf("dispatch: %w", err)

	assert.True(t, errors.Is(wrapped, &Error{Type: ErrorTypeTimeout, Code: ErrCodeNoAcknowledgment}))
	assert.False(t, errors.Is(wrapped, &Error{Type: ErrorTypeTransport, Code: ErrCodeNoAcknowledgment}))
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		typ   ErrorType
	}{
		{"validation", NewValidationError(ErrCodeValidationFailed, "empty"), IsValidationError, ErrorTypeValidation},
		{"encryption", NewEncryptionError(ErrCodeEncryptFailed, "bad key", nil), IsEncryptionError, ErrorTypeEncryption},
		{"transport", NewTransportError(ErrCodeRelaysFailed, "down", nil), IsTransportError, ErrorTypeTransport},
		{"timeout", NewTimeoutError(ErrCodeNoAcknowledgment, "slow"), IsTimeoutError, ErrorTypeTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(fmt.Errorf("outer: %w", tt.err)))
			assert.Equal(t, tt.typ, TypeOf(tt.err))
		})
	}

	assert.False(t, IsTimeoutError(errors.New("plain")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(errors.New("plain")))
}

func TestWrap(t *testing.T) {
	t.Run("nil stays nil", func(t *testing.T) {
		assert.Nil(t, Wrap(nil, ErrorTypeTransport, "X", "y"))
	})

	t.Run("plain error", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := WrapTransport(cause, ErrCodeRelaysFailed, "publish failed")

		require.NotNil(t, err)
		assert.Equal(t, ErrorTypeTransport, err.Type)
		assert.True(t, err.Recoverable)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("structured error keeps context", func(t *testing.T) {
		inner := NewTransportError(ErrCodeRelaysFailed, "down", nil).WithContext("relay", "wss://a")
		err := WrapEncryption(inner, ErrCodeSignFailed, "outer")

		assert.Equal(t, ErrorTypeEncryption, err.Type)
		assert.False(t, err.Recoverable)
		assert.Equal(t, "wss://a", err.Context["relay"])
	})
}

func TestValidationErrorCollection(t *testing.T) {
	vec := &ValidationErrorCollection{}
	assert.False(t, vec.HasErrors())
	assert.Nil(t, vec.ToError())
	assert.Equal(t, "no validation errors", vec.Error())

	vec.AddField("message", "", "is required")
	assert.Equal(t, "validation error in field 'message': is required", vec.Error())

	vec.AddField("email", " ", "is required", "enter an address we can reply to")
	assert.Equal(t, "validation failed with 2 errors", vec.Error())

	err := vec.ToError()
	require.NotNil(t, err)
	assert.Equal(t, ErrorTypeValidation, err.Type)
	assert.Equal(t, ErrCodeValidationFailed, err.Code)
	assert.Equal(t, []string{"email", "message"}, InvalidFields(err))
	assert.Nil(t, InvalidFields(errors.New("plain")))
}

type recordingLogger struct {
	warns  []string
	errors []string
}

func (l *recordingLogger) Error(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(_ context.Context, _ error, msg string, _ ...interface{}) {
	l.warns = append(l.warns, msg)
}

func TestErrorHandler(t *testing.T) {
	logger := &recordingLogger{}
	h := NewErrorHandler(logger)
	ctx := context.Background()

	h.Handle(ctx, nil)
	h.Handle(ctx, NewValidationError(ErrCodeValidationFailed, "empty"))
	h.Handle(ctx, NewTimeoutError(ErrCodeNoAcknowledgment, "slow"))
	h.Handle(ctx, NewEncryptionError(ErrCodeEncryptFailed, "bad", nil))
	h.Handle(ctx, errors.New("plain"))

	assert.Equal(t, []string{"Validation error occurred", "Delivery error occurred"}, logger.warns)
	assert.Equal(t, []string{"Error occurred", "Unhandled error occurred"}, logger.errors)
}
