package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *RunError
		want string
	}{
		{
			name: "code and message",
			err:  &RunError{Code: ErrCodeInvalidParameters, Message: "no mode selected"},
			want: "INVALID_PARAMETERS: no mode selected",
		},
		{
			name: "with phase",
			err:  &RunError{Code: ErrCodeLockUnavailable, Message: "sync lock not acquired", Phase: "sync"},
			want: "LOCK_UNAVAILABLE: sync lock not acquired (phase=sync)",
		},
		{
			name: "with cause",
			err:  &RunError{Code: ErrCodeStoreUnavailable, Message: "execution stopped", Phase: "execute", Err: errors.New("disk full")},
			want: "STORE_UNAVAILABLE: execution stopped (phase=execute): disk full",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestIsRunError(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("run: %w", &RunError{Code: ErrCodeFatalMapping, Err: cause})

	assert.True(t, IsRunError(err, ErrCodeFatalMapping))
	assert.False(t, IsRunError(err, ErrCodeCancelled))
	assert.False(t, IsRunError(cause, ErrCodeFatalMapping))
	assert.ErrorIs(t, err, cause)
}
