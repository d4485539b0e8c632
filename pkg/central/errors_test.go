package central

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFromCode(t *testing.T) {
	tests := []struct {
		code     int
		expected error
	}{
		{-1, nil},
		{-42, nil},
		{0, ErrUnknown},
		{1, ErrInvalidParameters},
		{2, ErrInvalidHandle},
		{3, ErrNotConnected},
		{4, ErrOutOfSpace},
		{5, ErrOperationCancelled},
		{6, ErrConnectionTimeout},
		{7, ErrPeripheralDisconnected},
		{8, ErrUUIDNotAllowed},
		{9, ErrAlreadyAdvertising},
		{10, ErrConnectionFailed},
		{11, ErrConnectionLimitReached},
		{12, ErrUnknown},
		{13, ErrOperationNotSupported},
		{14, ErrUnknown},
		{999, ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code %d", tt.code), func(t *testing.T) {
			err := ErrorFromCode(tt.code)
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expected)

			var cbErr *Error
			require.ErrorAs(t, err, &cbErr)
			assert.True(t, cbErr.Code.Defined())
		})
	}
}

func TestCodeFromError(t *testing.T) {
	assert.Equal(t, -1, CodeFromError(nil))
	assert.Equal(t, 6, CodeFromError(ErrConnectionTimeout))
	assert.Equal(t, 7, CodeFromError(fmt.Errorf("link lost: %w", ErrPeripheralDisconnected)))
	assert.Equal(t, 0, CodeFromError(errors.New("something else")))

	for code := 0; code <= 13; code++ {
		if code == 12 {
			continue
		}
		assert.Equal(t, code, CodeFromError(ErrorFromCode(code)), "round trip of %d", code)
	}
}

func TestErrorIs(t *testing.T) {
	assert.ErrorIs(t, &Error{Code: ErrorCodeNotConnected}, ErrNotConnected)
	assert.NotErrorIs(t, &Error{Code: ErrorCodeNotConnected}, ErrConnectionFailed)
	assert.NotErrorIs(t, ErrNotConnected, ErrDisposed)
	assert.Equal(t, "corebluetooth: connectionTimeout", ErrConnectionTimeout.Error())
	assert.Equal(t, "ErrorCode(12)", ErrorCode(12).String())
}

func TestBridgeError(t *testing.T) {
	err := error(&BridgeError{Op: "read value", Status: -3})

	assert.ErrorIs(t, err, ErrBridgeRejected)
	assert.Equal(t, "read value: bridge rejected the call (status -3)", err.Error())

	var be *BridgeError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &be)
	assert.Equal(t, -3, be.Status)
}

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *NotFoundError
		expected string
	}{
		{
			name:     "no uuids",
			err:      &NotFoundError{Resource: "peripheral"},
			expected: "peripheral not found",
		},
		{
			name:     "peripheral",
			err:      &NotFoundError{Resource: "peripheral", UUIDs: []string{"P1"}},
			expected: `peripheral "P1" not found`,
		},
		{
			name:     "service in peripheral",
			err:      &NotFoundError{Resource: "service", UUIDs: []string{"P1", "180f"}},
			expected: `service "180f" not found in peripheral "P1"`,
		},
		{
			name:     "characteristic in service",
			err:      &NotFoundError{Resource: "characteristic", UUIDs: []string{"P1", "180f", "2a19"}},
			expected: `characteristic "2a19" not found in service "180f"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}
