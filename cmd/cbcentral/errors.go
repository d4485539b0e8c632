package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/cbcentral/internal/bridge/goble"
	"github.com/srg/cbcentral/pkg/central"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the peripheral disconnected while a command
	// was waiting on it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrPeripheralNotFound is returned when a scan did not see the
	// requested identifier before the scan timeout.
	ErrPeripheralNotFound = errors.New("peripheral not found")

	// ErrSessionClosed is returned when the central manager was closed while
	// a command was waiting.
	ErrSessionClosed = errors.New("session closed")
)

// FormatUserError turns an error chain into a message for the terminal.
func FormatUserError(err error) string {
	var cbErr *central.Error
	var notFound *central.NotFoundError
	switch {
	case errors.Is(err, goble.ErrBluetoothOff), errors.Is(err, central.ErrNotPoweredOn):
		return "Bluetooth is not powered on: " + err.Error()
	case errors.Is(err, goble.ErrUnsupported):
		return "Bluetooth is not supported on this platform (try --sim)"
	case errors.Is(err, context.DeadlineExceeded):
		return "operation timed out: " + err.Error()
	case errors.As(err, &notFound):
		return notFound.Error()
	case errors.As(err, &cbErr):
		return fmt.Sprintf("device reported %s: %s", cbErr.Code, err.Error())
	default:
		return err.Error()
	}
}
