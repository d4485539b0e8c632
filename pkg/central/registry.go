package central

import (
	"sync"
	"weak"

	"github.com/sirupsen/logrus"
)

type registryKey struct {
	bridge Bridge
	handle Handle
}

// registry maps native handles back to their managers so that a single
// callback table can serve any number of managers. Entries are weak so an
// abandoned manager can still be collected and its handle released.
var registry = struct {
	sync.RWMutex
	managers map[registryKey]weak.Pointer[CentralManager]
}{
	managers: make(map[registryKey]weak.Pointer[CentralManager]),
}

func register(bridge Bridge, h Handle, m *CentralManager) {
	registry.Lock()
	defer registry.Unlock()
	registry.managers[registryKey{bridge: bridge, handle: h}] = weak.Make(m)
}

func unregister(bridge Bridge, h Handle) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.managers, registryKey{bridge: bridge, handle: h})
}

func lookup(bridge Bridge, h Handle) (*CentralManager, bool) {
	registry.RLock()
	wp, ok := registry.managers[registryKey{bridge: bridge, handle: h}]
	registry.RUnlock()
	if !ok {
		return nil, false
	}
	m := wp.Value()
	return m, m != nil
}

// registeredCount is used by tests.
func registeredCount() int {
	registry.RLock()
	defer registry.RUnlock()
	return len(registry.managers)
}

// post routes an event to the manager owning h. It runs on whatever
// goroutine the bridge delivers events on and never touches entity state.
func post(bridge Bridge, ev event) {
	m, ok := lookup(bridge, ev.handle)
	if !ok || m.handle.disposed() {
		logrus.WithFields(logrus.Fields{
			"handle": ev.handle,
			"event":  ev.kind.String(),
		}).Error("CentralManager instance not found, dropping event")
		return
	}
	m.queue.push(ev)
}

// dispatchTable builds the callback table registered with bridge.
func dispatchTable(bridge Bridge) Handlers {
	return Handlers{
		DidUpdateState: func(h Handle, state int) {
			post(bridge, event{kind: eventUpdateState, handle: h, state: state})
		},
		DidDiscoverPeripheral: func(h Handle, peripheralID, name string) {
			post(bridge, event{kind: eventDiscoverPeripheral, handle: h, peripheralID: peripheralID, name: name})
		},
		DidConnectPeripheral: func(h Handle, peripheralID string) {
			post(bridge, event{kind: eventConnect, handle: h, peripheralID: peripheralID, errorCode: -1})
		},
		DidFailToConnectPeripheral: func(h Handle, peripheralID string, errorCode int) {
			post(bridge, event{kind: eventFailToConnect, handle: h, peripheralID: peripheralID, errorCode: errorCode})
		},
		DidDisconnectPeripheral: func(h Handle, peripheralID string, errorCode int) {
			post(bridge, event{kind: eventDisconnect, handle: h, peripheralID: peripheralID, errorCode: errorCode})
		},
		DidDiscoverServices: func(h Handle, peripheralID, serviceIDs string, errorCode int) {
			post(bridge, event{kind: eventDiscoverServices, handle: h, peripheralID: peripheralID,
				ids: serviceIDs, errorCode: errorCode})
		},
		DidDiscoverCharacteristics: func(h Handle, peripheralID, serviceID, characteristicIDs string, errorCode int) {
			post(bridge, event{kind: eventDiscoverCharacteristics, handle: h, peripheralID: peripheralID,
				serviceID: serviceID, ids: characteristicIDs, errorCode: errorCode})
		},
		DidUpdateValueForCharacteristic: func(h Handle, peripheralID, serviceID, characteristicID string, value []byte, errorCode int) {
			var buf []byte
			if value != nil {
				buf = make([]byte, len(value))
				copy(buf, value)
			}
			post(bridge, event{kind: eventUpdateValue, handle: h, peripheralID: peripheralID,
				serviceID: serviceID, characteristicID: characteristicID, value: buf, errorCode: errorCode})
		},
		DidWriteValueForCharacteristic: func(h Handle, peripheralID, serviceID, characteristicID string, errorCode int) {
			post(bridge, event{kind: eventWriteValue, handle: h, peripheralID: peripheralID,
				serviceID: serviceID, characteristicID: characteristicID, errorCode: errorCode})
		},
		DidUpdateNotificationStateForCharacteristic: func(h Handle, peripheralID, serviceID, characteristicID string, notifying int, errorCode int) {
			post(bridge, event{kind: eventUpdateNotificationState, handle: h, peripheralID: peripheralID,
				serviceID: serviceID, characteristicID: characteristicID, notifying: notifying, errorCode: errorCode})
		},
		DidReadRSSI: func(h Handle, peripheralID string, rssi int, errorCode int) {
			post(bridge, event{kind: eventReadRSSI, handle: h, peripheralID: peripheralID, rssi: rssi, errorCode: errorCode})
		},
	}
}
