package central

import "fmt"

// ManagerState represents the power/availability state of the local radio.
type ManagerState int

const (
	ManagerStateUnknown ManagerState = iota
	ManagerStateResetting
	ManagerStateUnsupported
	ManagerStateUnauthorized
	ManagerStatePoweredOff
	ManagerStatePoweredOn
)

func (s ManagerState) String() string {
	switch s {
	case ManagerStateUnknown:
		return "unknown"
	case ManagerStateResetting:
		return "resetting"
	case ManagerStateUnsupported:
		return "unsupported"
	case ManagerStateUnauthorized:
		return "unauthorized"
	case ManagerStatePoweredOff:
		return "poweredOff"
	case ManagerStatePoweredOn:
		return "poweredOn"
	default:
		return fmt.Sprintf("ManagerState(%d)", int(s))
	}
}

// PeripheralState represents the connection state of a Peripheral.
type PeripheralState int

const (
	PeripheralStateDisconnected PeripheralState = iota
	PeripheralStateConnecting
	PeripheralStateConnected
	PeripheralStateDisconnecting
)

func (s PeripheralState) String() string {
	switch s {
	case PeripheralStateDisconnected:
		return "disconnected"
	case PeripheralStateConnecting:
		return "connecting"
	case PeripheralStateConnected:
		return "connected"
	case PeripheralStateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("PeripheralState(%d)", int(s))
	}
}

// Valid reports whether s is one of the four defined states.
func (s PeripheralState) Valid() bool {
	return s >= PeripheralStateDisconnected && s <= PeripheralStateDisconnecting
}
