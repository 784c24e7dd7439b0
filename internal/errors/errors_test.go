// Package errors tests for error codes.
package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAppError_Error verifies message formatting with and without a cause.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{"without cause", New(ErrNotFound, "action not found"), "[NOT_FOUND] action not found"},
		{"with cause", Wrap(ErrStorage, "save failed", stderrors.New("disk full")), "[STORAGE_ERROR] save failed: disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(ErrTransport, "post failed", cause)

	assert.ErrorIs(t, err, cause)
}

// TestIs verifies code matching through wrapping layers.
func TestIs(t *testing.T) {
	err := fmt.Errorf("replay: %w", New(ErrOffline, "offline"))

	assert.True(t, Is(err, ErrOffline))
	assert.False(t, Is(err, ErrInternal))
	assert.False(t, Is(stderrors.New("plain"), ErrOffline))
	assert.False(t, Is(nil, ErrOffline))
}

type coded struct{ code ErrorCode }

func (c coded) Error() string { return string(c.code) }
func (c coded) ErrorCode() ErrorCode { return c.code }

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrValidation, CodeOf(fmt.Errorf("x: %w", New(ErrValidation, "bad"))))
	assert.Equal(t, ErrInternal, CodeOf(stderrors.New("plain")))
	assert.Equal(t, ErrTransport, CodeOf(fmt.Errorf("post: %w", coded{ErrTransport})))
	assert.True(t, Is(coded{ErrRejected}, ErrRejected))
}

func TestMessageOf(t *testing.T) {
	assert.Equal(t, "bad", MessageOf(fmt.Errorf("x: %w", Wrap(ErrValidation, "bad", stderrors.New("cause")))))
	assert.Equal(t, "plain", MessageOf(stderrors.New("plain")))
	assert.Equal(t, "", MessageOf(nil))
}
