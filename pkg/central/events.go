package central

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

type eventKind int

const (
	eventUpdateState eventKind = iota
	eventDiscoverPeripheral
	eventConnect
	eventFailToConnect
	eventDisconnect
	eventDiscoverServices
	eventDiscoverCharacteristics
	eventUpdateValue
	eventWriteValue
	eventUpdateNotificationState
	eventReadRSSI
)

func (k eventKind) String() string {
	switch k {
	case eventUpdateState:
		return "update-state"
	case eventDiscoverPeripheral:
		return "discover-peripheral"
	case eventConnect:
		return "connect"
	case eventFailToConnect:
		return "fail-to-connect"
	case eventDisconnect:
		return "disconnect"
	case eventDiscoverServices:
		return "discover-services"
	case eventDiscoverCharacteristics:
		return "discover-characteristics"
	case eventUpdateValue:
		return "update-value"
	case eventWriteValue:
		return "write-value"
	case eventUpdateNotificationState:
		return "update-notification-state"
	case eventReadRSSI:
		return "read-rssi"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// event is one native callback, copied out of the bridge's memory.
type event struct {
	kind             eventKind
	handle           Handle
	state            int
	peripheralID     string
	name             string
	serviceID        string
	characteristicID string
	ids              string
	value            []byte
	notifying        int
	rssi             int
	errorCode        int
}

func (ev event) fields() logrus.Fields {
	f := logrus.Fields{"event": ev.kind.String()}
	if ev.peripheralID != "" {
		f["peripheral"] = ev.peripheralID
	}
	if ev.serviceID != "" {
		f["service"] = ev.serviceID
	}
	if ev.characteristicID != "" {
		f["characteristic"] = ev.characteristicID
	}
	return f
}

// apply resolves the entities an event refers to, mutates them and then
// invokes the delegate, so delegates always observe post-event state.
// Events that reference unknown entities are logged and dropped.
func (m *CentralManager) apply(ev event) {
	m.logger.WithFields(ev.fields()).Debug("Applying event")

	if ev.kind == eventUpdateState {
		m.applyUpdateState(ev)
		return
	}

	if ev.kind == eventDiscoverPeripheral {
		m.applyDiscoverPeripheral(ev)
		return
	}

	p, ok := m.peripherals[ev.peripheralID]
	if !ok {
		m.dropEvent(ev, &NotFoundError{Resource: "peripheral", UUIDs: []string{ev.peripheralID}})
		return
	}

	switch ev.kind {
	case eventConnect:
		p.state = PeripheralStateConnected
		if d := m.delegate; d != nil {
			d.DidConnectPeripheral(m, p)
		}

	case eventFailToConnect:
		p.state = PeripheralStateDisconnected
		if d := m.delegate; d != nil {
			d.DidFailToConnectPeripheral(m, p, ErrorFromCode(ev.errorCode))
		}

	case eventDisconnect:
		p.state = PeripheralStateDisconnected
		p.resetNotifying()
		if d := m.delegate; d != nil {
			d.DidDisconnectPeripheral(m, p, ErrorFromCode(ev.errorCode))
		}

	case eventDiscoverServices:
		m.applyDiscoverServices(p, ev)

	case eventDiscoverCharacteristics:
		m.applyDiscoverCharacteristics(p, ev)

	case eventUpdateValue, eventWriteValue, eventUpdateNotificationState:
		m.applyCharacteristicEvent(p, ev)

	case eventReadRSSI:
		err := ErrorFromCode(ev.errorCode)
		if err == nil {
			p.rssi = ev.rssi
			p.hasRSSI = true
		}
		if d := p.delegate; d != nil {
			d.DidReadRSSI(p, ev.rssi, err)
		}

	default:
		m.logger.WithFields(ev.fields()).Error("Unknown event kind, dropping")
	}
}

func (m *CentralManager) applyUpdateState(ev event) {
	state := ManagerState(ev.state)
	if state < ManagerStateUnknown || state > ManagerStatePoweredOn {
		m.logger.WithFields(ev.fields()).WithField("state", ev.state).Error("Invalid manager state, dropping event")
		return
	}

	previous := m.state
	m.state = state
	if previous == ManagerStatePoweredOn && state != ManagerStatePoweredOn {
		// Leaving poweredOn invalidates every connection.
		for _, p := range m.peripherals {
			p.state = PeripheralStateDisconnected
			p.resetNotifying()
		}
	}

	m.logger.WithFields(logrus.Fields{
		"from": previous.String(),
		"to":   state.String(),
	}).Info("Central manager state updated")

	if d := m.delegate; d != nil {
		d.CentralManagerDidUpdateState(m)
	}
}

func (m *CentralManager) applyDiscoverPeripheral(ev event) {
	if ev.peripheralID == "" {
		m.dropEvent(ev, &NotFoundError{Resource: "peripheral"})
		return
	}

	p, ok := m.peripherals[ev.peripheralID]
	if !ok {
		p = newPeripheral(m, ev.peripheralID, ev.name)
		m.peripherals[ev.peripheralID] = p
		m.logger.WithFields(logrus.Fields{
			"peripheral": p.identifier,
			"name":       p.name,
		}).Info("Discovered new peripheral")
	} else if ev.name != "" {
		p.name = ev.name
	}

	if d := m.delegate; d != nil {
		d.DidDiscoverPeripheral(m, p)
	}
}

func (m *CentralManager) applyDiscoverServices(p *Peripheral, ev event) {
	err := ErrorFromCode(ev.errorCode)
	if err == nil {
		ids := SplitIDs(ev.ids)
		if len(ids) == 0 {
			m.logger.WithFields(ev.fields()).Error("Service discovery reported no services, dropping event")
			return
		}
		p.replaceServices(ids)
	}

	if d := p.delegate; d != nil {
		d.DidDiscoverServices(p, err)
	}
}

func (m *CentralManager) applyDiscoverCharacteristics(p *Peripheral, ev event) {
	s, ok := p.Service(ev.serviceID)
	if !ok {
		m.dropEvent(ev, &NotFoundError{Resource: "service", UUIDs: []string{p.identifier, ev.serviceID}})
		return
	}

	err := ErrorFromCode(ev.errorCode)
	if err == nil {
		ids := SplitIDs(ev.ids)
		if len(ids) == 0 {
			m.logger.WithFields(ev.fields()).Error("Characteristic discovery reported no characteristics, dropping event")
			return
		}
		s.replaceCharacteristics(ids)
	}

	if d := p.delegate; d != nil {
		d.DidDiscoverCharacteristics(p, s, err)
	}
}

func (m *CentralManager) applyCharacteristicEvent(p *Peripheral, ev event) {
	c, ok := p.Characteristic(ev.serviceID, ev.characteristicID)
	if !ok {
		m.dropEvent(ev, &NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{p.identifier, ev.serviceID, ev.characteristicID},
		})
		return
	}

	err := ErrorFromCode(ev.errorCode)
	d := p.delegate

	switch ev.kind {
	case eventUpdateValue:
		if err == nil {
			c.value = ev.value
		}
		if d != nil {
			d.DidUpdateValue(p, c, err)
		}
	case eventWriteValue:
		if d != nil {
			d.DidWriteValue(p, c, err)
		}
	case eventUpdateNotificationState:
		if err == nil {
			c.isNotifying = ev.notifying != 0
		}
		if d != nil {
			d.DidUpdateNotificationState(p, c, err)
		}
	}
}

func (m *CentralManager) dropEvent(ev event, err error) {
	m.logger.WithFields(ev.fields()).WithField("error", err).Error("Dropping event for unknown entity")
}
