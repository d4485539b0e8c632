package central

import "strings"

// Handle is the opaque native central manager handle. Zero is never a valid
// handle.
type Handle uintptr

// Bridge is the capability set the central manager calls outward through.
// It is implemented by the native collaborator (see internal/bridge).
//
// Commands return an integer status; a negative status is a synchronous
// failure and no completion event follows. All entities are addressed by
// UUID strings, never by native pointers.
//
// Implementations must be safe for concurrent use: Release may be called from
// a cleanup goroutine, and events may be delivered from any goroutine.
type Bridge interface {
	New() (Handle, error)
	Release(h Handle)
	RegisterHandlers(h Handle, handlers Handlers)

	// RetrievePeripheralsWithIdentifiers returns the comma-joined subset of
	// ids the native side still knows about.
	RetrievePeripheralsWithIdentifiers(h Handle, ids []string) (string, int)
	ScanForPeripherals(h Handle, serviceUUIDs []string) int
	StopScan(h Handle) int
	// IsScanning returns 1 when scanning, 0 when not, negative on failure.
	IsScanning(h Handle) int
	ConnectPeripheral(h Handle, peripheralID string) int
	CancelPeripheralConnection(h Handle, peripheralID string) int

	PeripheralName(h Handle, peripheralID string) (string, int)
	PeripheralState(h Handle, peripheralID string) int
	DiscoverServices(h Handle, peripheralID string, serviceUUIDs []string) int
	DiscoverCharacteristics(h Handle, peripheralID, serviceUUID string, characteristicUUIDs []string) int
	CharacteristicProperties(h Handle, peripheralID, serviceUUID, characteristicUUID string) int
	ReadValueForCharacteristic(h Handle, peripheralID, serviceUUID, characteristicUUID string) int
	WriteValueForCharacteristic(h Handle, peripheralID, serviceUUID, characteristicUUID string, data []byte, writeType WriteType) int
	SetNotifyValueForCharacteristic(h Handle, peripheralID, serviceUUID, characteristicUUID string, enabled bool) int
	ReadRSSI(h Handle, peripheralID string) int
}

// Handlers is the event callback table registered with a Bridge.
// Error codes follow ErrorFromCode: negative means success.
// Id lists are comma-joined (see JoinIDs).
type Handlers struct {
	DidUpdateState                              func(h Handle, state int)
	DidDiscoverPeripheral                       func(h Handle, peripheralID, name string)
	DidConnectPeripheral                        func(h Handle, peripheralID string)
	DidFailToConnectPeripheral                  func(h Handle, peripheralID string, errorCode int)
	DidDisconnectPeripheral                     func(h Handle, peripheralID string, errorCode int)
	DidDiscoverServices                         func(h Handle, peripheralID, serviceIDs string, errorCode int)
	DidDiscoverCharacteristics                  func(h Handle, peripheralID, serviceID, characteristicIDs string, errorCode int)
	DidUpdateValueForCharacteristic             func(h Handle, peripheralID, serviceID, characteristicID string, value []byte, errorCode int)
	DidWriteValueForCharacteristic              func(h Handle, peripheralID, serviceID, characteristicID string, errorCode int)
	DidUpdateNotificationStateForCharacteristic func(h Handle, peripheralID, serviceID, characteristicID string, notifying int, errorCode int)
	DidReadRSSI                                 func(h Handle, peripheralID string, rssi int, errorCode int)
}

// JoinIDs encodes an id list for the wire.
func JoinIDs(ids []string) string {
	return strings.Join(ids, ",")
}

// SplitIDs decodes a comma-joined id list. Blank entries are skipped, so an
// empty string yields an empty slice.
func SplitIDs(s string) []string {
	parts := strings.Split(s, ",")
	ids := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			ids = append(ids, p)
		}
	}
	return ids
}

// BoolToInt encodes a boolean the way the notification-state event does.
func BoolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
