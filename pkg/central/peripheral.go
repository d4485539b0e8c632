package central

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Peripheral represents one remote BLE device. It is created by the
// CentralManager on first discovery or retrieval and mutated only by the
// manager's event processing.
type Peripheral struct {
	central    *CentralManager
	identifier string
	name       string
	state      PeripheralState
	services   []*Service
	rssi       int
	hasRSSI    bool
	delegate   PeripheralDelegate
}

func newPeripheral(central *CentralManager, identifier, name string) *Peripheral {
	return &Peripheral{
		central:    central,
		identifier: identifier,
		name:       name,
		state:      PeripheralStateDisconnected,
	}
}

// Identifier returns the peripheral UUID, the registry key.
func (p *Peripheral) Identifier() string {
	return p.identifier
}

// Name returns the display name, or "" when the device has none.
func (p *Peripheral) Name() string {
	return p.name
}

func (p *Peripheral) State() PeripheralState {
	return p.state
}

// Central returns the owning manager.
func (p *Peripheral) Central() *CentralManager {
	return p.central
}

// Services returns the services from the last successful discovery, in
// discovery order.
func (p *Peripheral) Services() []*Service {
	return p.services
}

// RSSI returns the last RSSI value read, and false if none was read yet.
func (p *Peripheral) RSSI() (int, bool) {
	return p.rssi, p.hasRSSI
}

func (p *Peripheral) Delegate() PeripheralDelegate {
	return p.delegate
}

func (p *Peripheral) SetDelegate(d PeripheralDelegate) {
	p.delegate = d
}

// Service looks up a discovered service by UUID.
func (p *Peripheral) Service(uuid string) (*Service, bool) {
	key := NormalizeUUID(uuid)
	for _, s := range p.services {
		if NormalizeUUID(s.uuid) == key {
			return s, true
		}
	}
	return nil, false
}

// Characteristic resolves a characteristic by the composite key
// (serviceUUID, characteristicUUID).
//
// When serviceUUID is empty the first characteristic with a matching UUID
// across all services, in service order, is returned. This is a best-effort
// fallback; pass the service UUID when the peripheral exposes the same
// characteristic under several services.
func (p *Peripheral) Characteristic(serviceUUID, characteristicUUID string) (*Characteristic, bool) {
	if serviceUUID == "" {
		for _, s := range p.services {
			if c, ok := s.Characteristic(characteristicUUID); ok {
				return c, true
			}
		}
		return nil, false
	}
	s, ok := p.Service(serviceUUID)
	if !ok {
		return nil, false
	}
	return s.Characteristic(characteristicUUID)
}

func (p *Peripheral) String() string {
	return fmt.Sprintf("Peripheral: identifier = %s, name = %s, state = %s", p.identifier, p.name, p.state)
}

// DiscoverServices requests service discovery. A nil or empty filter
// discovers all services. Completion is reported by DidDiscoverServices.
func (p *Peripheral) DiscoverServices(serviceUUIDs ...string) error {
	const op = "discover services"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	status := p.central.bridge.DiscoverServices(p.central.handle.value(), p.identifier, serviceUUIDs)
	return p.central.checkStatus(op, status, logrus.Fields{"peripheral": p.identifier})
}

// DiscoverCharacteristics requests characteristic discovery for one
// service. Completion is reported by DidDiscoverCharacteristics.
func (p *Peripheral) DiscoverCharacteristics(service *Service, characteristicUUIDs ...string) error {
	const op = "discover characteristics"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	if err := p.ownsService(op, service); err != nil {
		return err
	}
	status := p.central.bridge.DiscoverCharacteristics(p.central.handle.value(), p.identifier, service.uuid, characteristicUUIDs)
	return p.central.checkStatus(op, status, logrus.Fields{"peripheral": p.identifier, "service": service.uuid})
}

// ReadValue requests a read. Completion is reported by DidUpdateValue.
func (p *Peripheral) ReadValue(characteristic *Characteristic) error {
	const op = "read value"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	if err := p.ownsCharacteristic(op, characteristic); err != nil {
		return err
	}
	status := p.central.bridge.ReadValueForCharacteristic(p.central.handle.value(), p.identifier,
		characteristic.service.uuid, characteristic.uuid)
	return p.central.checkStatus(op, status, characteristicFields(characteristic))
}

// WriteValue requests a write. With WriteWithResponse completion is reported
// by DidWriteValue.
func (p *Peripheral) WriteValue(data []byte, characteristic *Characteristic, writeType WriteType) error {
	const op = "write value"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	if err := p.ownsCharacteristic(op, characteristic); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	status := p.central.bridge.WriteValueForCharacteristic(p.central.handle.value(), p.identifier,
		characteristic.service.uuid, characteristic.uuid, buf, writeType)
	fields := characteristicFields(characteristic)
	fields["length"] = len(buf)
	fields["type"] = writeType.String()
	return p.central.checkStatus(op, status, fields)
}

// SetNotifyValue enables or disables notifications. IsNotifying changes only
// when DidUpdateNotificationState confirms it.
func (p *Peripheral) SetNotifyValue(enabled bool, characteristic *Characteristic) error {
	const op = "set notify value"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	if err := p.ownsCharacteristic(op, characteristic); err != nil {
		return err
	}
	status := p.central.bridge.SetNotifyValueForCharacteristic(p.central.handle.value(), p.identifier,
		characteristic.service.uuid, characteristic.uuid, enabled)
	fields := characteristicFields(characteristic)
	fields["enabled"] = enabled
	return p.central.checkStatus(op, status, fields)
}

// ReadRSSI requests the current RSSI. Completion is reported by DidReadRSSI.
func (p *Peripheral) ReadRSSI() error {
	const op = "read rssi"
	if err := p.central.ready(op, true); err != nil {
		return err
	}
	status := p.central.bridge.ReadRSSI(p.central.handle.value(), p.identifier)
	return p.central.checkStatus(op, status, logrus.Fields{"peripheral": p.identifier})
}

func (p *Peripheral) ownsService(op string, s *Service) error {
	if s == nil || s.peripheral != p {
		return fmt.Errorf("%s: %w: service does not belong to peripheral %s", op, ErrInvalidArgument, p.identifier)
	}
	return nil
}

func (p *Peripheral) ownsCharacteristic(op string, c *Characteristic) error {
	if c == nil || c.service == nil || c.service.peripheral != p {
		return fmt.Errorf("%s: %w: characteristic does not belong to peripheral %s", op, ErrInvalidArgument, p.identifier)
	}
	return nil
}

// replaceServices installs a new service set in the given order, keeping
// existing Service objects (and their characteristics) for UUIDs that are
// still present. Duplicate ids are skipped.
func (p *Peripheral) replaceServices(ids []string) {
	next := make([]*Service, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := NormalizeUUID(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if s, ok := p.Service(id); ok {
			next = append(next, s)
			continue
		}
		next = append(next, newService(id, p))
	}
	p.services = next
}

// resetNotifying clears cached subscription state after a disconnect.
func (p *Peripheral) resetNotifying() {
	for _, s := range p.services {
		for _, c := range s.characteristics {
			c.isNotifying = false
		}
	}
}

func characteristicFields(c *Characteristic) logrus.Fields {
	return logrus.Fields{
		"peripheral":     c.service.peripheral.identifier,
		"service":        c.service.uuid,
		"characteristic": c.uuid,
	}
}
