package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/cbcentral/internal/groutine"
	"github.com/srg/cbcentral/pkg/central"
)

// DefaultConnectTimeout bounds a single Dial.
const DefaultConnectTimeout = 30 * time.Second

const (
	statusOK       = 0
	statusRejected = -1
)

// Bridge implements central.Bridge on top of go-ble. Each handle owns one
// go-ble device. go-ble has no power-state callbacks, so a handle reports
// poweredOn once its device exists and poweredOff when the adapter is off.
//
// Peripheral identifiers are go-ble addresses (a MAC on Linux, a
// CoreBluetooth UUID on macOS).
type Bridge struct {
	logger         *logrus.Logger
	connectTimeout time.Duration
	next           atomic.Uintptr
	managers       *hashmap.Map[central.Handle, *manager]
}

type manager struct {
	handle   central.Handle
	device   Device
	state    central.ManagerState
	handlers atomic.Pointer[central.Handlers]

	ctx    context.Context
	cancel context.CancelFunc

	scanMu     sync.Mutex
	scanCancel context.CancelFunc
	scanning   atomic.Bool

	peripherals *hashmap.Map[string, *peripheral]
}

type peripheral struct {
	id   string
	name atomic.Pointer[string]

	mu         sync.Mutex
	state      central.PeripheralState
	client     Client
	dialCancel context.CancelFunc
	cancelled  bool
	services   []*ble.Service
}

// NewBridge creates a go-ble bridge. A zero connectTimeout selects
// DefaultConnectTimeout.
func NewBridge(logger *logrus.Logger, connectTimeout time.Duration) *Bridge {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	return &Bridge{
		logger:         logger,
		connectTimeout: connectTimeout,
		managers:       hashmap.New[central.Handle, *manager](),
	}
}

func (b *Bridge) New() (central.Handle, error) {
	state := central.ManagerStatePoweredOn
	dev, err := DeviceFactory()
	if err != nil {
		err = NormalizeError(err)
		if !errors.Is(err, ErrBluetoothOff) {
			b.logger.WithField("error", err).Error("Failed to create BLE device")
			return 0, fmt.Errorf("failed to create BLE device: %w", err)
		}
		b.logger.WithField("error", err).Warn("Bluetooth adapter is powered off")
		state = central.ManagerStatePoweredOff
	}

	h := central.Handle(b.next.Add(1))
	ctx, cancel := context.WithCancel(context.Background())
	b.managers.Set(h, &manager{
		handle:      h,
		device:      dev,
		state:       state,
		ctx:         ctx,
		cancel:      cancel,
		peripherals: hashmap.New[string, *peripheral](),
	})
	return h, nil
}

func (b *Bridge) Release(h central.Handle) {
	m, ok := b.managers.Get(h)
	if !ok {
		return
	}
	b.managers.Del(h)

	m.stopScan()
	m.cancel()
	m.peripherals.Range(func(_ string, p *peripheral) bool {
		p.mu.Lock()
		client := p.client
		p.client = nil
		if p.dialCancel != nil {
			p.dialCancel()
		}
		p.mu.Unlock()
		if client != nil {
			if err := client.CancelConnection(); err != nil {
				b.logger.WithFields(logrus.Fields{"peripheral": p.id, "error": err}).Warn("Failed to cancel connection on release")
			}
		}
		return true
	})
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			b.logger.WithField("error", err).Warn("Failed to stop BLE device")
		}
	}
	b.logger.WithField("handle", h).Debug("Released go-ble central")
}

// RegisterHandlers stores the callback table and reports the initial state.
func (b *Bridge) RegisterHandlers(h central.Handle, handlers central.Handlers) {
	m, ok := b.managers.Get(h)
	if !ok {
		return
	}
	m.handlers.Store(&handlers)
	b.async(m, "goble-state", func(ctx context.Context) {
		if fn := m.events().DidUpdateState; fn != nil {
			fn(h, int(m.state))
		}
	})
}

func (b *Bridge) RetrievePeripheralsWithIdentifiers(h central.Handle, ids []string) (string, int) {
	m, ok := b.ready(h)
	if !ok {
		return "", statusRejected
	}
	var found []string
	for _, id := range ids {
		if _, known := m.peripherals.Get(id); known {
			found = append(found, id)
		}
	}
	return central.JoinIDs(found), statusOK
}

func (b *Bridge) ScanForPeripherals(h central.Handle, serviceUUIDs []string) int {
	m, ok := b.ready(h)
	if !ok {
		return statusRejected
	}
	filter, err := parseUUIDs(serviceUUIDs)
	if err != nil {
		b.logger.WithField("error", err).Error("Invalid scan filter")
		return statusRejected
	}

	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if m.scanning.Load() {
		return statusOK
	}
	scanCtx, cancel := context.WithCancel(m.ctx)
	m.scanCancel = cancel
	m.scanning.Store(true)

	b.async(m, "goble-scan", func(ctx context.Context) {
		defer m.scanning.Store(false)
		err := m.device.Scan(scanCtx, false, func(adv ble.Advertisement) {
			b.onAdvertisement(m, adv, filter)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			b.logger.WithField("error", NormalizeError(err)).Error("Scan stopped with error")
		}
	})
	return statusOK
}

func (b *Bridge) onAdvertisement(m *manager, adv ble.Advertisement, filter []ble.UUID) {
	if len(filter) > 0 && !advertises(adv, filter) {
		return
	}
	id := adv.Addr().String()
	name := adv.LocalName()

	p, _ := m.peripherals.GetOrInsert(id, newPeripheral(id))
	if name != "" {
		p.name.Store(&name)
	}
	if fn := m.events().DidDiscoverPeripheral; fn != nil {
		fn(m.handle, id, name)
	}
}

func advertises(adv ble.Advertisement, filter []ble.UUID) bool {
	for _, u := range adv.Services() {
		for _, f := range filter {
			if central.SameUUID(u.String(), f.String()) {
				return true
			}
		}
	}
	return false
}

func (b *Bridge) StopScan(h central.Handle) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	m.stopScan()
	return statusOK
}

func (b *Bridge) IsScanning(h central.Handle) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	return central.BoolToInt(m.scanning.Load())
}

func (b *Bridge) ConnectPeripheral(h central.Handle, peripheralID string) int {
	m, ok := b.ready(h)
	if !ok || peripheralID == "" {
		return statusRejected
	}
	p, _ := m.peripherals.GetOrInsert(peripheralID, newPeripheral(peripheralID))

	p.mu.Lock()
	switch p.state {
	case central.PeripheralStateConnecting:
		p.mu.Unlock()
		return statusOK
	case central.PeripheralStateConnected:
		// A repeated connect completes again so the caller always sees an event.
		p.mu.Unlock()
		b.async(m, "goble-reconnect", func(ctx context.Context) {
			if fn := m.events().DidConnectPeripheral; fn != nil {
				fn(m.handle, peripheralID)
			}
		})
		return statusOK
	}
	dialCtx, cancel := context.WithTimeout(m.ctx, b.connectTimeout)
	p.state = central.PeripheralStateConnecting
	p.dialCancel = cancel
	p.cancelled = false
	p.mu.Unlock()

	b.async(m, "goble-dial", func(ctx context.Context) {
		defer cancel()
		client, err := m.device.Dial(dialCtx, ble.NewAddr(peripheralID))

		p.mu.Lock()
		p.dialCancel = nil
		if err != nil {
			cancelled := p.cancelled
			p.state = central.PeripheralStateDisconnected
			p.mu.Unlock()

			b.logger.WithFields(logrus.Fields{"peripheral": peripheralID, "error": err}).Warn("Failed to connect")
			if cancelled {
				m.emitDisconnect(peripheralID, -1)
				return
			}
			if fn := m.events().DidFailToConnectPeripheral; fn != nil {
				fn(m.handle, peripheralID, errorCode(err, central.ErrorCodeConnectionFailed))
			}
			return
		}
		p.client = client
		p.state = central.PeripheralStateConnected
		p.services = nil
		p.mu.Unlock()

		if fn := m.events().DidConnectPeripheral; fn != nil {
			fn(m.handle, peripheralID)
		}
		b.monitor(m, p, client)
	})
	return statusOK
}

// monitor reports link loss on clients that expose Disconnected, which the
// darwin client does.
func (b *Bridge) monitor(m *manager, p *peripheral, client Client) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		b.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	b.async(m, "goble-link-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
		case <-ctx.Done():
			return
		}
		p.mu.Lock()
		if p.client != client {
			// Disconnect was requested and already reported.
			p.mu.Unlock()
			return
		}
		p.client = nil
		p.state = central.PeripheralStateDisconnected
		p.mu.Unlock()
		b.logger.WithField("peripheral", p.id).Warn("Peripheral disconnected")
		m.emitDisconnect(p.id, int(central.ErrorCodePeripheralDisconnected))
	})
}

func (b *Bridge) CancelPeripheralConnection(h central.Handle, peripheralID string) int {
	m, ok := b.ready(h)
	if !ok {
		return statusRejected
	}
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return statusRejected
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case p.dialCancel != nil:
		p.cancelled = true
		p.state = central.PeripheralStateDisconnecting
		p.dialCancel()
	case p.client != nil:
		client := p.client
		p.client = nil
		p.state = central.PeripheralStateDisconnecting
		b.async(m, "goble-disconnect", func(ctx context.Context) {
			err := client.CancelConnection()
			p.mu.Lock()
			p.state = central.PeripheralStateDisconnected
			p.mu.Unlock()
			if err != nil {
				b.logger.WithFields(logrus.Fields{"peripheral": peripheralID, "error": err}).Warn("Disconnect reported an error")
			}
			m.emitDisconnect(peripheralID, -1)
		})
	}
	return statusOK
}

func (b *Bridge) PeripheralName(h central.Handle, peripheralID string) (string, int) {
	m, ok := b.managers.Get(h)
	if !ok {
		return "", statusRejected
	}
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return "", statusRejected
	}
	if name := p.name.Load(); name != nil {
		return *name, statusOK
	}
	return "", statusOK
}

func (b *Bridge) PeripheralState(h central.Handle, peripheralID string) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return statusRejected
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return int(p.state)
}

func (b *Bridge) DiscoverServices(h central.Handle, peripheralID string, serviceUUIDs []string) int {
	m, p, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	filter, err := parseUUIDs(serviceUUIDs)
	if err != nil {
		b.logger.WithField("error", err).Error("Invalid service filter")
		return statusRejected
	}

	b.async(m, "goble-discover-services", func(ctx context.Context) {
		services, err := client.DiscoverServices(filter)
		if err != nil {
			m.emitServices(peripheralID, "", errorCode(err, central.ErrorCodeUnknown))
			return
		}
		if len(services) == 0 {
			m.emitServices(peripheralID, "", int(central.ErrorCodeInvalidParameters))
			return
		}
		p.mu.Lock()
		p.services = services
		p.mu.Unlock()

		ids := make([]string, 0, len(services))
		for _, s := range services {
			ids = append(ids, s.UUID.String())
		}
		m.emitServices(peripheralID, central.JoinIDs(ids), -1)
	})
	return statusOK
}

func (b *Bridge) DiscoverCharacteristics(h central.Handle, peripheralID, serviceUUID string, characteristicUUIDs []string) int {
	m, p, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	svc := p.service(serviceUUID)
	if svc == nil {
		return statusRejected
	}
	filter, err := parseUUIDs(characteristicUUIDs)
	if err != nil {
		b.logger.WithField("error", err).Error("Invalid characteristic filter")
		return statusRejected
	}

	b.async(m, "goble-discover-characteristics", func(ctx context.Context) {
		chars, err := client.DiscoverCharacteristics(filter, svc)
		emit := func(ids string, code int) {
			if fn := m.events().DidDiscoverCharacteristics; fn != nil {
				fn(m.handle, peripheralID, serviceUUID, ids, code)
			}
		}
		if err != nil {
			emit("", errorCode(err, central.ErrorCodeUnknown))
			return
		}
		if len(chars) == 0 {
			emit("", int(central.ErrorCodeInvalidParameters))
			return
		}
		p.mu.Lock()
		svc.Characteristics = chars
		p.mu.Unlock()

		ids := make([]string, 0, len(chars))
		for _, c := range chars {
			ids = append(ids, c.UUID.String())
		}
		emit(central.JoinIDs(ids), -1)
	})
	return statusOK
}

func (b *Bridge) CharacteristicProperties(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	m, ok := b.managers.Get(h)
	if !ok {
		return statusRejected
	}
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return statusRejected
	}
	c := p.characteristic(serviceUUID, characteristicUUID)
	if c == nil {
		return statusRejected
	}
	return int(FromBLEProperty(c.Property))
}

func (b *Bridge) ReadValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string) int {
	m, p, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	c := p.characteristic(serviceUUID, characteristicUUID)
	if c == nil {
		return statusRejected
	}

	b.async(m, "goble-read", func(ctx context.Context) {
		value, err := client.ReadCharacteristic(c)
		code := -1
		if err != nil {
			code = errorCode(err, central.ErrorCodeUnknown)
			value = nil
		}
		m.emitValue(peripheralID, serviceUUID, characteristicUUID, value, code)
	})
	return statusOK
}

func (b *Bridge) WriteValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, data []byte, writeType central.WriteType) int {
	m, p, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	c := p.characteristic(serviceUUID, characteristicUUID)
	if c == nil {
		return statusRejected
	}
	noRsp := writeType == central.WriteWithoutResponse

	b.async(m, "goble-write", func(ctx context.Context) {
		err := client.WriteCharacteristic(c, data, noRsp)
		if noRsp {
			if err != nil {
				b.logger.WithFields(logrus.Fields{"characteristic": characteristicUUID, "error": err}).Warn("Write without response failed")
			}
			return
		}
		code := -1
		if err != nil {
			code = errorCode(err, central.ErrorCodeUnknown)
		}
		if fn := m.events().DidWriteValueForCharacteristic; fn != nil {
			fn(m.handle, peripheralID, serviceUUID, characteristicUUID, code)
		}
	})
	return statusOK
}

func (b *Bridge) SetNotifyValueForCharacteristic(h central.Handle, peripheralID, serviceUUID, characteristicUUID string, enabled bool) int {
	m, p, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	c := p.characteristic(serviceUUID, characteristicUUID)
	if c == nil {
		return statusRejected
	}
	// Indicate only when the characteristic cannot notify.
	ind := c.Property&ble.CharNotify == 0 && c.Property&ble.CharIndicate != 0

	b.async(m, "goble-notify", func(ctx context.Context) {
		var err error
		if enabled {
			err = client.Subscribe(c, ind, func(value []byte) {
				m.emitValue(peripheralID, serviceUUID, characteristicUUID, value, -1)
			})
		} else {
			err = client.Unsubscribe(c, ind)
		}
		code := -1
		notifying := enabled
		if err != nil {
			code = errorCode(err, central.ErrorCodeUnknown)
			notifying = !enabled
		}
		if fn := m.events().DidUpdateNotificationStateForCharacteristic; fn != nil {
			fn(m.handle, peripheralID, serviceUUID, characteristicUUID, central.BoolToInt(notifying), code)
		}
	})
	return statusOK
}

func (b *Bridge) ReadRSSI(h central.Handle, peripheralID string) int {
	m, _, client, ok := b.connected(h, peripheralID)
	if !ok {
		return statusRejected
	}
	b.async(m, "goble-rssi", func(ctx context.Context) {
		rssi := client.ReadRSSI()
		if fn := m.events().DidReadRSSI; fn != nil {
			fn(m.handle, peripheralID, rssi, -1)
		}
	})
	return statusOK
}

func (b *Bridge) async(m *manager, name string, fn func(ctx context.Context)) {
	groutine.Go(m.ctx, b.logger, name, fn)
}

// ready returns the manager for h if it has a powered device.
func (b *Bridge) ready(h central.Handle) (*manager, bool) {
	m, ok := b.managers.Get(h)
	if !ok || m.device == nil {
		return nil, false
	}
	return m, true
}

// connected resolves a connected peripheral and its client.
func (b *Bridge) connected(h central.Handle, peripheralID string) (*manager, *peripheral, Client, bool) {
	m, ok := b.ready(h)
	if !ok {
		return nil, nil, nil, false
	}
	p, ok := m.peripherals.Get(peripheralID)
	if !ok {
		return nil, nil, nil, false
	}
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client == nil {
		return nil, nil, nil, false
	}
	return m, p, client, true
}

func (m *manager) events() central.Handlers {
	if hs := m.handlers.Load(); hs != nil {
		return *hs
	}
	return central.Handlers{}
}

func (m *manager) stopScan() {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.scanning.Store(false)
}

func (m *manager) emitDisconnect(peripheralID string, code int) {
	if fn := m.events().DidDisconnectPeripheral; fn != nil {
		fn(m.handle, peripheralID, code)
	}
}

func (m *manager) emitServices(peripheralID, ids string, code int) {
	if fn := m.events().DidDiscoverServices; fn != nil {
		fn(m.handle, peripheralID, ids, code)
	}
}

func (m *manager) emitValue(peripheralID, serviceUUID, characteristicUUID string, value []byte, code int) {
	if fn := m.events().DidUpdateValueForCharacteristic; fn != nil {
		fn(m.handle, peripheralID, serviceUUID, characteristicUUID, value, code)
	}
}

func newPeripheral(id string) *peripheral {
	return &peripheral{id: id, state: central.PeripheralStateDisconnected}
}

func (p *peripheral) service(uuid string) *ble.Service {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.services {
		if central.SameUUID(s.UUID.String(), uuid) {
			return s
		}
	}
	return nil
}

func (p *peripheral) characteristic(serviceUUID, characteristicUUID string) *ble.Characteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.services {
		if serviceUUID != "" && !central.SameUUID(s.UUID.String(), serviceUUID) {
			continue
		}
		for _, c := range s.Characteristics {
			if central.SameUUID(c.UUID.String(), characteristicUUID) {
				return c
			}
		}
	}
	return nil
}

// errorCode maps a go-ble error to an event error code.
func errorCode(err error, fallback central.ErrorCode) int {
	var cbErr *central.Error
	switch {
	case errors.As(err, &cbErr):
		return int(cbErr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		return int(central.ErrorCodeConnectionTimeout)
	case errors.Is(err, context.Canceled):
		return int(central.ErrorCodeOperationCancelled)
	case errors.Is(NormalizeError(err), ErrBluetoothOff):
		return int(central.ErrorCodeInvalidHandle)
	default:
		return int(fallback)
	}
}
