// Package sim implements central.Bridge over an in-memory radio described by
// a Profile. Events are delivered from a per-handle worker goroutine in the
// order the commands were issued, each after the profile latency.
package sim

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/cbcentral/internal/groutine"
	"github.com/srg/cbcentral/pkg/central"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

const (
	statusOK       = 0
	statusRejected = -1
)

// Bridge is a simulated native central.
type Bridge struct {
	logger   *logrus.Logger
	profile  Profile
	next     atomic.Uintptr
	managers *hashmap.Map[central.Handle, *manager]
}

type job func(hs central.Handlers)

type manager struct {
	handle central.Handle
	ctx    context.Context
	cancel context.CancelFunc

	// pending is unbounded so emit never blocks while mu is held.
	pendingMu sync.Mutex
	pending   []job
	wake      chan struct{}

	handlers atomic.Pointer[central.Handlers]

	mu          sync.Mutex
	state       central.ManagerState
	scanning    bool
	peripherals *orderedmap.OrderedMap[string, *peripheral]
}

type peripheral struct {
	profile  PeripheralProfile
	state    central.PeripheralState
	services *orderedmap.OrderedMap[string, *service]
	// discovered holds the service UUIDs reported by the last discovery.
	discovered map[string]bool
}

type service struct {
	uuid  string
	chars *orderedmap.OrderedMap[string, *characteristic]
	// discovered is set once characteristics were discovered.
	discovered bool
}

type characteristic struct {
	profile   CharacteristicProfile
	props     central.CharacteristicProperties
	value     []byte
	notifying bool
}

// NewBridge creates a simulated bridge. Every handle gets its own copy of
// the profile state.
func NewBridge(profile *Profile, logger *logrus.Logger) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := Profile{}
	if profile != nil {
		p = *profile
	}
	p.applyDefaults()
	return &Bridge{
		logger:   logger,
		profile:  p,
		managers: hashmap.New[central.Handle, *manager](),
	}
}

func (b *Bridge) New() (central.Handle, error) {
	state, err := ParseState(b.profile.State)
	if err != nil {
		return 0, err
	}
	h := central.Handle(b.next.Add(1))
	ctx, cancel := context.WithCancel(context.Background())
	m := &manager{
		handle:      h,
		ctx:         ctx,
		cancel:      cancel,
		wake:        make(chan struct{}, 1),
		state:       state,
		peripherals: orderedmap.New[string, *peripheral](),
	}
	for _, pp := range b.profile.Peripherals {
		m.peripherals.Set(pp.ID, newPeripheral(pp))
	}
	b.managers.Set(h, m)
	groutine.Go(ctx, b.logger, "sim-events", func(ctx context.Context) {
		m.loop(ctx, b.profile.Latency)
	})
	return h, nil
}

func newPeripheral(pp PeripheralProfile) *peripheral {
	p := &peripheral{
		profile:    pp,
		state:      central.PeripheralStateDisconnected,
		services:   orderedmap.New[string, *service](),
		discovered: map[string]bool{},
	}
	for _, sp := range pp.Services {
		s := &service{uuid: sp.UUID, chars: orderedmap.New[string, *characteristic]()}
		for _, cp := range sp.Characteristics {
			props, _ := central.ParseProperties(cp.Properties)
			value, _ := DecodeHex(cp.Value)
			s.chars.Set(central.NormalizeUUID(cp.UUID), &characteristic{profile: cp, props: props, value: value})
		}
		p.services.Set(central.NormalizeUUID(sp.UUID), s)
	}
	return p
}

func (m *manager) loop(ctx context.Context, latency time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		}
		for j, ok := m.dequeue(); ok; j, ok = m.dequeue() {
			if latency > 0 {
				select {
				case <-time.After(latency):
				case <-ctx.Done():
					return
				}
			}
			if hs := m.handlers.Load(); hs != nil {
				j(*hs)
			}
		}
	}
}

func (m *manager) dequeue() (job, bool) {
	m.pendingMu.Lock()
	defer m.pendingMu.Unlock()
	if len(m.pending) == 0 {
		return nil, false
	}
	j := m.pending[0]
	m.pending[0] = nil
	m.pending = m.pending[1:]
	return j, true
}

// emit schedules j on the event worker. Jobs for a released handle are
// discarded.
func (m *manager) emit(j job) {
	if m.ctx.Err() != nil {
		return
	}
	m.pendingMu.Lock()
	m.pending = append(m.pending, j)
	m.pendingMu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) Release(h central.Handle) {
	m, ok := b.managers.Get(h)
	if !ok {
		return
	}
	b.managers.Del(h)
	m.cancel()
	b.logger.WithField("handle", h).Debug("Released simulated central")
}

func (b *Bridge) RegisterHandlers(h central.Handle, handlers central.Handlers) {
	m, ok := b.managers.Get(h)
	if !ok {
		return
	}
	m.handlers.Store(&handlers)
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	m.emit(func(hs central.Handlers) {
		if hs.DidUpdateState != nil {
			hs.DidUpdateState(h, int(state))
		}
	})
}

// SetState changes the simulated radio state. Leaving poweredOn drops every
// connection and stops scanning, like the native stack.
func (b *Bridge) SetState(h central.Handle, state central.ManagerState) {
	m, ok := b.managers.Get(h)
	if !ok {
		return
	}
	m.mu.Lock()
	m.state = state
	if state != central.ManagerStatePoweredOn {
		m.scanning = false
		for pair := m.peripherals.Oldest(); pair != nil; pair = pair.Next() {
			pair.Value.disconnect()
		}
	}
	m.mu.Unlock()
	m.emit(func(hs central.Handlers) {
		if hs.DidUpdateState != nil {
			hs.DidUpdateState(h, int(state))
		}
	})
}

// DropConnection simulates a link loss reported with errorCode.
func (b *Bridge) DropConnection(h central.Handle, peripheralID string, errorCode central.ErrorCode) bool {
	m, ok := b.managers.Get(h)
	if !ok {
		return false
	}
	m.mu.Lock()
	p, ok := m.peripherals.Get(peripheralID)
	if !ok || p.state != central.PeripheralStateConnected {
		m.mu.Unlock()
		return false
	}
	p.disconnect()
	m.mu.Unlock()
	m.emit(func(hs central.Handlers) {
		if hs.DidDisconnectPeripheral != nil {
			hs.DidDisconnectPeripheral(h, peripheralID, int(errorCode))
		}
	})
	return true
}

func (p *peripheral) disconnect() {
	p.state = central.PeripheralStateDisconnected
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		for c := pair.Value.chars.Oldest(); c != nil; c = c.Next() {
			c.Value.notifying = false
		}
	}
}

func (b *Bridge) RetrievePeripheralsWithIdentifiers(h central.Handle, ids []string) (string, int) {
	m, ok := b.managers.Get(h)
	if !ok {
		return "", statusRejected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []string
	for _, id := range ids {
		if _, known := m.peripherals.Get(id); known {
			found = append(found, id)
		}
	}
	return central.JoinIDs(found), statusOK
}

func (b *Bridge) ScanForPeripherals(h central.Handle, serviceUUIDs []string) int {
	m, ok := b.poweredOn(h)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	m.scanning = true

	for pair := m.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		pp := pair.Value.profile
		if !advertises(pp.Advertised, serviceUUIDs) {
			continue
		}
		m.emit(func(hs central.Handlers) {
			if !m.isScanning() {
				return
			}
			if hs.DidDiscoverPeripheral != nil {
				hs.DidDiscoverPeripheral(h, pp.ID, pp.Name)
			}
		})
	}
	return statusOK
}

func advertises(advertised, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, a := range advertised {
		for _, f := range filter {
			if central.SameUUID(a, f) {
				return true
			}
		}
	}
	return false
}

func (m *manager) isScanning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanning
}

func (b *Bridge) StopScan(h central.Handle) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	m.mu.Lock()
	m.scanning = false
	m.mu.Unlock()
	return statusOK
}

func (b *Bridge) IsScanning(h central.Handle) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	return central.BoolToInt(m.isScanning())
}

func (b *Bridge) ConnectPeripheral(h central.Handle, peripheralID string) int {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()

	switch p.state {
	case central.PeripheralStateConnecting:
		return statusOK
	case central.PeripheralStateConnected:
		// A repeated connect completes again so the caller always sees an event.
		m.emit(func(hs central.Handlers) {
			if hs.DidConnectPeripheral != nil {
				hs.DidConnectPeripheral(h, peripheralID)
			}
		})
		return statusOK
	}
	if code := p.profile.ConnectError; code != nil {
		failure := *code
		m.emit(func(hs central.Handlers) {
			if hs.DidFailToConnectPeripheral != nil {
				hs.DidFailToConnectPeripheral(h, peripheralID, failure)
			}
		})
		return statusOK
	}
	p.state = central.PeripheralStateConnected
	p.discovered = map[string]bool{}
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		pair.Value.discovered = false
	}
	m.emit(func(hs central.Handlers) {
		if hs.DidConnectPeripheral != nil {
			hs.DidConnectPeripheral(h, peripheralID)
		}
	})
	return statusOK
}

func (b *Bridge) CancelPeripheralConnection(h central.Handle, peripheralID string) int {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()

	if p.state == central.PeripheralStateDisconnected {
		return statusOK
	}
	p.disconnect()
	m.emit(func(hs central.Handlers) {
		if hs.DidDisconnectPeripheral != nil {
			hs.DidDisconnectPeripheral(h, peripheralID, -1)
		}
	})
	return statusOK
}

func (b *Bridge) PeripheralName(h central.Handle, peripheralID string) (string, int) {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return "", statusRejected
	}
	defer m.mu.Unlock()
	return p.profile.Name, statusOK
}

func (b *Bridge) PeripheralState(h central.Handle, peripheralID string) int {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	return int(p.state)
}

func (b *Bridge) DiscoverServices(h central.Handle, peripheralID string, serviceUUIDs []string) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()

	var ids []string
	for pair := p.services.Oldest(); pair != nil; pair = pair.Next() {
		s := pair.Value
		if !matches(s.uuid, serviceUUIDs) {
			continue
		}
		ids = append(ids, s.uuid)
		p.discovered[pair.Key] = true
	}
	joined, code := central.JoinIDs(ids), discoveryCode(ids)
	m.emit(func(hs central.Handlers) {
		if hs.DidDiscoverServices != nil {
			hs.DidDiscoverServices(h, peripheralID, joined, code)
		}
	})
	return statusOK
}

// discoveryCode is the event code for a discovery that found ids. A
// discovery that found nothing completes with invalidParameters, never
// with an empty success.
func discoveryCode(ids []string) int {
	if len(ids) == 0 {
		return int(central.ErrorCodeInvalidParameters)
	}
	return -1
}

func matches(id string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if central.SameUUID(id, f) {
			return true
		}
	}
	return false
}

func (b *Bridge) DiscoverCharacteristics(h central.Handle, peripheralID, serviceUUID string, characteristicUUIDs []string) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()

	s, ok := p.service(serviceUUID)
	if !ok {
		return statusRejected
	}
	s.discovered = true
	var ids []string
	for pair := s.chars.Oldest(); pair != nil; pair = pair.Next() {
		if matches(pair.Value.profile.UUID, characteristicUUIDs) {
			ids = append(ids, pair.Value.profile.UUID)
		}
	}
	joined, code := central.JoinIDs(ids), discoveryCode(ids)
	m.emit(func(hs central.Handlers) {
		if hs.DidDiscoverCharacteristics != nil {
			hs.DidDiscoverCharacteristics(h, peripheralID, serviceUUID, joined, code)
		}
	})
	return statusOK
}

func (b *Bridge) CharacteristicProperties(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	c, ok := p.characteristic(serviceUUID, characteristicUUID)
	if !ok {
		return statusRejected
	}
	return int(c.props)
}

func (b *Bridge) ReadValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	c, ok := p.characteristic(serviceUUID, characteristicUUID)
	if !ok {
		return statusRejected
	}

	code := -1
	var value []byte
	switch {
	case c.profile.ReadError != nil:
		code = *c.profile.ReadError
	case !c.props.Has(central.PropertyRead):
		code = int(central.ErrorCodeOperationNotSupported)
	default:
		value = append([]byte(nil), c.value...)
	}
	m.emit(func(hs central.Handlers) {
		if hs.DidUpdateValueForCharacteristic != nil {
			hs.DidUpdateValueForCharacteristic(h, peripheralID, serviceUUID, characteristicUUID, value, code)
		}
	})
	return statusOK
}

func (b *Bridge) WriteValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, data []byte, writeType central.WriteType) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	c, ok := p.characteristic(serviceUUID, characteristicUUID)
	if !ok {
		return statusRejected
	}

	if writeType == central.WriteWithoutResponse {
		// No completion event for unacknowledged writes.
		if c.props.Has(central.PropertyWriteWithoutResponse) && c.profile.WriteError == nil {
			c.value = append([]byte(nil), data...)
		}
		return statusOK
	}

	code := -1
	switch {
	case c.profile.WriteError != nil:
		code = *c.profile.WriteError
	case !c.props.Has(central.PropertyWrite):
		code = int(central.ErrorCodeOperationNotSupported)
	default:
		c.value = append([]byte(nil), data...)
	}
	m.emit(func(hs central.Handlers) {
		if hs.DidWriteValueForCharacteristic != nil {
			hs.DidWriteValueForCharacteristic(h, peripheralID, serviceUUID, characteristicUUID, code)
		}
	})
	return statusOK
}

func (b *Bridge) SetNotifyValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, enabled bool) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	c, ok := p.characteristic(serviceUUID, characteristicUUID)
	if !ok {
		return statusRejected
	}

	if enabled && !c.props.Has(central.PropertyNotify) && !c.props.Has(central.PropertyIndicate) {
		m.emit(func(hs central.Handlers) {
			if hs.DidUpdateNotificationStateForCharacteristic != nil {
				hs.DidUpdateNotificationStateForCharacteristic(h, peripheralID, serviceUUID, characteristicUUID, 0, int(central.ErrorCodeOperationNotSupported))
			}
		})
		return statusOK
	}

	c.notifying = enabled
	m.emit(func(hs central.Handlers) {
		if hs.DidUpdateNotificationStateForCharacteristic != nil {
			hs.DidUpdateNotificationStateForCharacteristic(h, peripheralID, serviceUUID, characteristicUUID, central.BoolToInt(enabled), -1)
		}
	})
	if !enabled {
		return statusOK
	}
	for _, v := range c.profile.Notify {
		value, _ := DecodeHex(v)
		m.emit(func(hs central.Handlers) {
			if !m.notifying(peripheralID, serviceUUID, characteristicUUID) {
				return
			}
			if hs.DidUpdateValueForCharacteristic != nil {
				hs.DidUpdateValueForCharacteristic(h, peripheralID, serviceUUID, characteristicUUID, value, -1)
			}
		})
	}
	return statusOK
}

func (m *manager) notifying(peripheralID, serviceUUID, characteristicUUID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return false
	}
	c, ok := p.characteristic(serviceUUID, characteristicUUID)
	return ok && c.notifying
}

func (b *Bridge) ReadRSSI(h central.Handle, peripheralID string) int {
	m, p, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	defer m.mu.Unlock()
	rssi := p.profile.RSSI
	m.emit(func(hs central.Handlers) {
		if hs.DidReadRSSI != nil {
			hs.DidReadRSSI(h, peripheralID, rssi, -1)
		}
	})
	return statusOK
}

// poweredOn returns the manager locked when its radio is on.
func (b *Bridge) poweredOn(h central.Handle) (*manager, bool) {
	m, ok := b.managers.Get(h)
	if !ok {
		return nil, false
	}
	m.mu.Lock()
	if m.state != central.ManagerStatePoweredOn {
		m.mu.Unlock()
		return nil, false
	}
	return m, true
}

// peripheral returns the manager locked together with a known peripheral.
func (b *Bridge) peripheral(h central.Handle, peripheralID string) (*manager, *peripheral, bool) {
	m, ok := b.managers.Get(h)
	if !ok {
		return nil, nil, false
	}
	m.mu.Lock()
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		m.mu.Unlock()
		return nil, nil, false
	}
	return m, p, true
}

// connected is peripheral restricted to connected peripherals.
func (b *Bridge) connected(h central.Handle, peripheralID string) (*manager, *peripheral, bool) {
	m, p, ok := b.peripheral(h, peripheralID)
	if !ok {
		return nil, nil, false
	}
	if p.state != central.PeripheralStateConnected {
		m.mu.Unlock()
		return nil, nil, false
	}
	return m, p, true
}

// service looks up a discovered service.
func (p *peripheral) service(uuid string) (*service, bool) {
	key := central.NormalizeUUID(uuid)
	if !p.discovered[key] {
		return nil, false
	}
	return p.services.Get(key)
}

// characteristic looks up a characteristic of a discovered service.
func (p *peripheral) characteristic(serviceUUID, characteristicUUID string) (*characteristic, bool) {
	s, ok := p.service(serviceUUID)
	if !ok || !s.discovered {
		return nil, false
	}
	return s.chars.Get(central.NormalizeUUID(characteristicUUID))
}
