package testutils

import (
	"sync"

	"github.com/srg/cbcentral/pkg/central"
)

// BridgeCall is one recorded call into MockBridge.
type BridgeCall struct {
	Method string
	Handle central.Handle
	Args   []any
}

// MockPeripheral is what MockBridge knows about a peripheral outside of
// events: retrieval, name and state queries.
type MockPeripheral struct {
	ID    string
	Name  string
	State central.PeripheralState
}

// MockBridge is an in-memory central.Bridge. Commands are recorded and answer
// with status 0 unless overridden via SetStatus; events are injected by the
// test through the Emit* methods, which call the registered handler table the
// same way a native bridge would.
type MockBridge struct {
	mu         sync.Mutex
	next       central.Handle
	handlers   map[central.Handle]central.Handlers
	released   []central.Handle
	calls      []BridgeCall
	statuses   map[string]int
	scanning   bool
	known      map[string]MockPeripheral
	properties map[string]int

	// NewErr makes New fail.
	NewErr error
	// ZeroHandle makes New return the invalid zero handle.
	ZeroHandle bool
}

// NewMockBridge creates an empty MockBridge.
func NewMockBridge() *MockBridge {
	return &MockBridge{
		handlers:   make(map[central.Handle]central.Handlers),
		statuses:   make(map[string]int),
		known:      make(map[string]MockPeripheral),
		properties: make(map[string]int),
	}
}

// SetStatus makes every later call to method return status.
func (b *MockBridge) SetStatus(method string, status int) *MockBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[method] = status
	return b
}

// ClearStatus restores the default status for method.
func (b *MockBridge) ClearStatus(method string) *MockBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.statuses, method)
	return b
}

// WithKnownPeripheral registers a peripheral the native side can retrieve.
func (b *MockBridge) WithKnownPeripheral(p MockPeripheral) *MockBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.known[p.ID] = p
	return b
}

// WithProperties sets the value returned by CharacteristicProperties.
func (b *MockBridge) WithProperties(peripheralID, serviceUUID, characteristicUUID string, props central.CharacteristicProperties) *MockBridge {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.properties[propertiesKey(peripheralID, serviceUUID, characteristicUUID)] = int(props)
	return b
}

// SetScanning overrides the scanning flag reported by IsScanning.
func (b *MockBridge) SetScanning(scanning bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scanning = scanning
}

// Calls returns a copy of the recorded calls.
func (b *MockBridge) Calls() []BridgeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]BridgeCall(nil), b.calls...)
}

// CallsTo returns the recorded calls of one method.
func (b *MockBridge) CallsTo(method string) []BridgeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	var result []BridgeCall
	for _, c := range b.calls {
		if c.Method == method {
			result = append(result, c)
		}
	}
	return result
}

// ResetCalls forgets the recorded calls.
func (b *MockBridge) ResetCalls() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

// Released returns the handles passed to Release, in order.
func (b *MockBridge) Released() []central.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]central.Handle(nil), b.released...)
}

// Registered reports whether a handler table was ever registered for h.
func (b *MockBridge) Registered(h central.Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.handlers[h]
	return ok
}

func (b *MockBridge) record(method string, h central.Handle, args ...any) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, BridgeCall{Method: method, Handle: h, Args: args})
	if status, ok := b.statuses[method]; ok {
		return status
	}
	return 0
}

func (b *MockBridge) New() (central.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewErr != nil {
		return 0, b.NewErr
	}
	if b.ZeroHandle {
		return 0, nil
	}
	b.next++
	return b.next, nil
}

func (b *MockBridge) Release(h central.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.released = append(b.released, h)
}

func (b *MockBridge) RegisterHandlers(h central.Handle, handlers central.Handlers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[h] = handlers
}

func (b *MockBridge) RetrievePeripheralsWithIdentifiers(h central.Handle, ids []string) (string, int) {
	status := b.record("RetrievePeripheralsWithIdentifiers", h, ids)
	if status < 0 {
		return "", status
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var found []string
	for _, id := range ids {
		if _, ok := b.known[id]; ok {
			found = append(found, id)
		}
	}
	return central.JoinIDs(found), status
}

func (b *MockBridge) ScanForPeripherals(h central.Handle, serviceUUIDs []string) int {
	status := b.record("ScanForPeripherals", h, serviceUUIDs)
	if status >= 0 {
		b.SetScanning(true)
	}
	return status
}

func (b *MockBridge) StopScan(h central.Handle) int {
	status := b.record("StopScan", h)
	if status >= 0 {
		b.SetScanning(false)
	}
	return status
}

func (b *MockBridge) IsScanning(h central.Handle) int {
	b.mu.Lock()
	status, overridden := b.statuses["IsScanning"]
	scanning := b.scanning
	b.mu.Unlock()
	if overridden {
		return status
	}
	return central.BoolToInt(scanning)
}

func (b *MockBridge) ConnectPeripheral(h central.Handle, peripheralID string) int {
	return b.record("ConnectPeripheral", h, peripheralID)
}

func (b *MockBridge) CancelPeripheralConnection(h central.Handle, peripheralID string) int {
	return b.record("CancelPeripheralConnection", h, peripheralID)
}

func (b *MockBridge) PeripheralName(h central.Handle, peripheralID string) (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.known[peripheralID]
	if !ok {
		return "", -1
	}
	return p.Name, 0
}

func (b *MockBridge) PeripheralState(h central.Handle, peripheralID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.known[peripheralID]
	if !ok {
		return -1
	}
	return int(p.State)
}

func (b *MockBridge) DiscoverServices(h central.Handle, peripheralID string, serviceUUIDs []string) int {
	return b.record("DiscoverServices", h, peripheralID, serviceUUIDs)
}

func (b *MockBridge) DiscoverCharacteristics(h central.Handle, peripheralID, serviceUUID string, characteristicUUIDs []string) int {
	return b.record("DiscoverCharacteristics", h, peripheralID, serviceUUID, characteristicUUIDs)
}

func (b *MockBridge) CharacteristicProperties(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	status := b.record("CharacteristicProperties", h, peripheralID, serviceUUID, characteristicUUID)
	if status < 0 {
		return status
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.properties[propertiesKey(peripheralID, serviceUUID, characteristicUUID)]
}

func (b *MockBridge) ReadValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	return b.record("ReadValueForCharacteristic", h, peripheralID, serviceUUID, characteristicUUID)
}

func (b *MockBridge) WriteValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, data []byte, writeType central.WriteType) int {
	return b.record("WriteValueForCharacteristic", h, peripheralID, serviceUUID, characteristicUUID, data, writeType)
}

func (b *MockBridge) SetNotifyValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, enabled bool) int {
	return b.record("SetNotifyValueForCharacteristic", h, peripheralID, serviceUUID, characteristicUUID, enabled)
}

func (b *MockBridge) ReadRSSI(h central.Handle, peripheralID string) int {
	return b.record("ReadRSSI", h, peripheralID)
}

// handlersFor returns the table registered for h. The table survives
// Release so tests can replay late native callbacks.
func (b *MockBridge) handlersFor(h central.Handle) (central.Handlers, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hs, ok := b.handlers[h]
	return hs, ok
}

// Emit returns the handler table for h, for events the helpers below do not
// cover. It panics if nothing is registered.
func (b *MockBridge) Emit(h central.Handle) central.Handlers {
	hs, ok := b.handlersFor(h)
	if !ok {
		panic("MockBridge.Emit: no handlers registered")
	}
	return hs
}

func (b *MockBridge) EmitState(h central.Handle, state central.ManagerState) {
	b.Emit(h).DidUpdateState(h, int(state))
}

func (b *MockBridge) EmitDiscover(h central.Handle, peripheralID, name string) {
	b.Emit(h).DidDiscoverPeripheral(h, peripheralID, name)
}

func (b *MockBridge) EmitConnect(h central.Handle, peripheralID string) {
	b.Emit(h).DidConnectPeripheral(h, peripheralID)
}

func (b *MockBridge) EmitFailToConnect(h central.Handle, peripheralID string, code int) {
	b.Emit(h).DidFailToConnectPeripheral(h, peripheralID, code)
}

func (b *MockBridge) EmitDisconnect(h central.Handle, peripheralID string, code int) {
	b.Emit(h).DidDisconnectPeripheral(h, peripheralID, code)
}

func (b *MockBridge) EmitServices(h central.Handle, peripheralID string, code int, serviceIDs ...string) {
	b.Emit(h).DidDiscoverServices(h, peripheralID, central.JoinIDs(serviceIDs), code)
}

func (b *MockBridge) EmitCharacteristics(h central.Handle, peripheralID, serviceID string, code int, characteristicIDs ...string) {
	b.Emit(h).DidDiscoverCharacteristics(h, peripheralID, serviceID, central.JoinIDs(characteristicIDs), code)
}

func (b *MockBridge) EmitValue(h central.Handle, peripheralID, serviceID, characteristicID string, value []byte, code int) {
	b.Emit(h).DidUpdateValueForCharacteristic(h, peripheralID, serviceID, characteristicID, value, code)
}

func (b *MockBridge) EmitWrite(h central.Handle, peripheralID, serviceID, characteristicID string, code int) {
	b.Emit(h).DidWriteValueForCharacteristic(h, peripheralID, serviceID, characteristicID, code)
}

func (b *MockBridge) EmitNotificationState(h central.Handle, peripheralID, serviceID, characteristicID string, notifying bool, code int) {
	b.Emit(h).DidUpdateNotificationStateForCharacteristic(h, peripheralID, serviceID, characteristicID,
		central.BoolToInt(notifying), code)
}

func (b *MockBridge) EmitRSSI(h central.Handle, peripheralID string, rssi, code int) {
	b.Emit(h).DidReadRSSI(h, peripheralID, rssi, code)
}

func propertiesKey(peripheralID, serviceUUID, characteristicUUID string) string {
	return peripheralID + "/" + central.NormalizeUUID(serviceUUID) + "/" + central.NormalizeUUID(characteristicUUID)
}
