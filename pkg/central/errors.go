package central

import (
	"errors"
	"fmt"
)

// ErrorCode mirrors the CoreBluetooth CBError.Code enumeration.
type ErrorCode int

const (
	ErrorCodeUnknown                ErrorCode = 0
	ErrorCodeInvalidParameters      ErrorCode = 1
	ErrorCodeInvalidHandle          ErrorCode = 2
	ErrorCodeNotConnected           ErrorCode = 3
	ErrorCodeOutOfSpace             ErrorCode = 4
	ErrorCodeOperationCancelled     ErrorCode = 5
	ErrorCodeConnectionTimeout      ErrorCode = 6
	ErrorCodePeripheralDisconnected ErrorCode = 7
	ErrorCodeUUIDNotAllowed         ErrorCode = 8
	ErrorCodeAlreadyAdvertising     ErrorCode = 9
	ErrorCodeConnectionFailed       ErrorCode = 10
	ErrorCodeConnectionLimitReached ErrorCode = 11
	// 12 is not part of the enumeration and maps to ErrorCodeUnknown.
	ErrorCodeOperationNotSupported ErrorCode = 13
)

var errorCodeNames = map[ErrorCode]string{
	ErrorCodeUnknown:                "unknown",
	ErrorCodeInvalidParameters:      "invalidParameters",
	ErrorCodeInvalidHandle:          "invalidHandle",
	ErrorCodeNotConnected:           "notConnected",
	ErrorCodeOutOfSpace:             "outOfSpace",
	ErrorCodeOperationCancelled:     "operationCancelled",
	ErrorCodeConnectionTimeout:      "connectionTimeout",
	ErrorCodePeripheralDisconnected: "peripheralDisconnected",
	ErrorCodeUUIDNotAllowed:         "uuidNotAllowed",
	ErrorCodeAlreadyAdvertising:     "alreadyAdvertising",
	ErrorCodeConnectionFailed:       "connectionFailed",
	ErrorCodeConnectionLimitReached: "connectionLimitReached",
	ErrorCodeOperationNotSupported:  "operationNotSupported",
}

// Defined reports whether c is a member of the enumeration.
func (c ErrorCode) Defined() bool {
	_, ok := errorCodeNames[c]
	return ok
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// Error is an operation error reported by the native stack together with a
// completion event. It is only ever delivered through delegate callbacks.
type Error struct {
	Code ErrorCode
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "corebluetooth: " + e.Code.String()
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Predefined sentinel errors for native error codes
var (
	ErrUnknown                = &Error{Code: ErrorCodeUnknown}
	ErrInvalidParameters      = &Error{Code: ErrorCodeInvalidParameters}
	ErrInvalidHandle          = &Error{Code: ErrorCodeInvalidHandle}
	ErrNotConnected           = &Error{Code: ErrorCodeNotConnected}
	ErrOutOfSpace             = &Error{Code: ErrorCodeOutOfSpace}
	ErrOperationCancelled     = &Error{Code: ErrorCodeOperationCancelled}
	ErrConnectionTimeout      = &Error{Code: ErrorCodeConnectionTimeout}
	ErrPeripheralDisconnected = &Error{Code: ErrorCodePeripheralDisconnected}
	ErrUUIDNotAllowed         = &Error{Code: ErrorCodeUUIDNotAllowed}
	ErrAlreadyAdvertising     = &Error{Code: ErrorCodeAlreadyAdvertising}
	ErrConnectionFailed       = &Error{Code: ErrorCodeConnectionFailed}
	ErrConnectionLimitReached = &Error{Code: ErrorCodeConnectionLimitReached}
	ErrOperationNotSupported  = &Error{Code: ErrorCodeOperationNotSupported}
)

// ErrorFromCode converts an event error code into an error value.
// Negative codes mean "no error" and yield nil. Codes outside the
// enumeration yield an Error with ErrorCodeUnknown.
func ErrorFromCode(code int) error {
	if code < 0 {
		return nil
	}
	c := ErrorCode(code)
	if !c.Defined() {
		c = ErrorCodeUnknown
	}
	return &Error{Code: c}
}

// CodeFromError is the inverse of ErrorFromCode, used by bridges that
// produce Go errors. nil maps to -1.
func CodeFromError(err error) int {
	if err == nil {
		return -1
	}
	var cbErr *Error
	if errors.As(err, &cbErr) {
		return int(cbErr.Code)
	}
	return int(ErrorCodeUnknown)
}

// Local failures, never delivered through delegates.
var (
	// ErrDisposed is returned by every operation on a closed CentralManager.
	ErrDisposed = errors.New("central manager is disposed")

	// ErrBridgeRejected is wrapped by BridgeError.
	ErrBridgeRejected = errors.New("bridge rejected the call")

	// ErrNotPoweredOn is returned for commands issued while the manager
	// state is not poweredOn.
	ErrNotPoweredOn = errors.New("central manager is not powered on")

	// ErrHandleAllocation is returned by NewCentralManager when the bridge
	// could not allocate a native handle. It is fatal.
	ErrHandleAllocation = errors.New("failed to allocate native central manager")

	// ErrInvalidArgument is returned for nil attributes or attributes owned
	// by another peripheral.
	ErrInvalidArgument = errors.New("invalid argument")
)

// BridgeError is a synchronous rejection: the bridge returned a negative
// status. No completion event follows.
type BridgeError struct {
	Op     string
	Status int
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s: %v (status %d)", e.Op, ErrBridgeRejected, e.Status)
}

func (e *BridgeError) Unwrap() error {
	return ErrBridgeRejected
}

// NotFoundError represents an event that referenced an unknown peripheral,
// service or characteristic.
type NotFoundError struct {
	Resource string   // "peripheral", "service", "characteristic"
	UUIDs    []string // e.g. [peripheralID, serviceUUID, characteristicUUID]
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "peripheral"
	if e.Resource == "characteristic" && len(e.UUIDs) > 2 {
		parentResource = "service"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[len(e.UUIDs)-2])
}
