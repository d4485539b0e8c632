package central

import (
	"context"
	"fmt"
	"runtime"
	"sort"

	"github.com/sirupsen/logrus"
)

// Option configures a CentralManager.
type Option func(*options)

type options struct {
	logger    *logrus.Logger
	queueSize uint32
}

// WithLogger sets the logger. Defaults to logrus.New().
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithQueueSize sets the event queue capacity. Defaults to DefaultQueueSize.
func WithQueueSize(size uint32) Option {
	return func(o *options) {
		o.queueSize = size
	}
}

// CentralManager is the local radio in the central role. It owns every
// Peripheral it has discovered or retrieved.
//
// A CentralManager has a single owner goroutine: commands are issued and
// events are applied (ProcessEvents, Run) on it. Bridges may deliver events
// from any goroutine; they are queued until the owner applies them.
type CentralManager struct {
	bridge   Bridge
	handle   *nativeHandle
	cleanup  runtime.Cleanup
	delegate CentralManagerDelegate
	logger   *logrus.Logger
	queue    *eventQueue
	closed   chan struct{}

	state       ManagerState
	peripherals map[string]*Peripheral
	processing  bool
}

// NewCentralManager allocates a native handle, registers the event callback
// table and returns a manager in the unknown state. Failure to allocate the
// handle is fatal and wraps ErrHandleAllocation.
func NewCentralManager(bridge Bridge, delegate CentralManagerDelegate, opts ...Option) (*CentralManager, error) {
	o := options{queueSize: DefaultQueueSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
	}

	h, err := acquireHandle(bridge)
	if err != nil {
		o.logger.WithField("error", err).Error("Failed to create central manager")
		return nil, err
	}

	m := &CentralManager{
		bridge:      bridge,
		handle:      h,
		delegate:    delegate,
		logger:      o.logger,
		queue:       newEventQueue(o.queueSize, o.logger),
		closed:      make(chan struct{}),
		state:       ManagerStateUnknown,
		peripherals: make(map[string]*Peripheral),
	}

	register(bridge, h.value(), m)
	bridge.RegisterHandlers(h.value(), dispatchTable(bridge))

	// Release the handle if the owner drops the manager without Close.
	m.cleanup = runtime.AddCleanup(m, func(n *nativeHandle) { n.release() }, h)

	m.logger.WithField("handle", h.value()).Debug("Central manager created")
	return m, nil
}

// Close releases the native handle. Every later operation fails with
// ErrDisposed. Calling Close again is a no-op.
func (m *CentralManager) Close() error {
	if !m.handle.release() {
		return nil
	}
	m.cleanup.Stop()
	close(m.closed)
	m.logger.WithField("handle", m.handle.value()).Debug("Central manager released")
	return nil
}

// IsClosed reports whether Close has been called.
func (m *CentralManager) IsClosed() bool {
	return m.handle.disposed()
}

// Handle returns the native handle. It stays valid for logging after Close.
func (m *CentralManager) Handle() Handle {
	return m.handle.value()
}

// State returns the last state reported by the native stack.
func (m *CentralManager) State() ManagerState {
	return m.state
}

func (m *CentralManager) Delegate() CentralManagerDelegate {
	return m.delegate
}

func (m *CentralManager) SetDelegate(d CentralManagerDelegate) {
	m.delegate = d
}

// Peripherals returns every known peripheral sorted by identifier.
func (m *CentralManager) Peripherals() []*Peripheral {
	result := make([]*Peripheral, 0, len(m.peripherals))
	for _, p := range m.peripherals {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].identifier < result[j].identifier
	})
	return result
}

// Peripheral looks up a known peripheral by identifier.
func (m *CentralManager) Peripheral(identifier string) (*Peripheral, bool) {
	p, ok := m.peripherals[identifier]
	return p, ok
}

// Stats returns event queue counters.
func (m *CentralManager) Stats() Stats {
	return m.queue.stats()
}

// IsScanning queries the native stack.
func (m *CentralManager) IsScanning() (bool, error) {
	const op = "is scanning"
	if err := m.ready(op, false); err != nil {
		return false, err
	}
	status := m.bridge.IsScanning(m.handle.value())
	if err := m.checkStatus(op, status, nil); err != nil {
		return false, err
	}
	return status > 0, nil
}

// ScanForPeripherals starts discovery, optionally filtered by advertised
// service UUIDs. Results arrive through DidDiscoverPeripheral. Scanning while
// already scanning is a no-op.
func (m *CentralManager) ScanForPeripherals(serviceUUIDs ...string) error {
	const op = "scan for peripherals"
	if err := m.ready(op, true); err != nil {
		return err
	}
	if m.bridge.IsScanning(m.handle.value()) > 0 {
		m.logger.WithField("services", serviceUUIDs).Info("Already scanning, ignoring scan request")
		return nil
	}
	status := m.bridge.ScanForPeripherals(m.handle.value(), serviceUUIDs)
	if err := m.checkStatus(op, status, logrus.Fields{"services": serviceUUIDs}); err != nil {
		return err
	}
	m.logger.WithField("services", serviceUUIDs).Info("Scanning for peripherals")
	return nil
}

// StopScan stops discovery. It is idempotent: stopping while not scanning,
// or while not powered on, does nothing.
func (m *CentralManager) StopScan() error {
	const op = "stop scan"
	if err := m.ready(op, false); err != nil {
		return err
	}
	if m.state != ManagerStatePoweredOn || m.bridge.IsScanning(m.handle.value()) == 0 {
		m.logger.Debug("Not scanning, ignoring stop request")
		return nil
	}
	return m.checkStatus(op, m.bridge.StopScan(m.handle.value()), nil)
}

// Connect requests a connection. The peripheral moves to connecting before
// the native call is issued; the connect, fail-to-connect or disconnect event
// settles the final state. Connecting a peripheral that is not disconnected
// is tolerated and logged.
func (m *CentralManager) Connect(p *Peripheral) error {
	const op = "connect peripheral"
	if err := m.ready(op, true); err != nil {
		return err
	}
	if err := m.owns(op, p); err != nil {
		return err
	}

	fields := logrus.Fields{"peripheral": p.identifier, "state": p.state.String()}
	if p.state != PeripheralStateDisconnected {
		m.logger.WithFields(fields).Warn("Connect requested for a peripheral that is not disconnected")
	}

	previous := p.state
	p.state = PeripheralStateConnecting
	if err := m.checkStatus(op, m.bridge.ConnectPeripheral(m.handle.value(), p.identifier), fields); err != nil {
		p.state = previous
		return err
	}
	m.logger.WithFields(fields).Info("Connecting to peripheral")
	return nil
}

// CancelPeripheralConnection requests a disconnection, or cancels a pending
// connection. The peripheral is disconnected only once the disconnect event
// arrives.
func (m *CentralManager) CancelPeripheralConnection(p *Peripheral) error {
	const op = "cancel peripheral connection"
	if err := m.ready(op, true); err != nil {
		return err
	}
	if err := m.owns(op, p); err != nil {
		return err
	}

	fields := logrus.Fields{"peripheral": p.identifier, "state": p.state.String()}
	previous := p.state
	if previous == PeripheralStateConnected || previous == PeripheralStateConnecting {
		p.state = PeripheralStateDisconnecting
	}
	if err := m.checkStatus(op, m.bridge.CancelPeripheralConnection(m.handle.value(), p.identifier), fields); err != nil {
		p.state = previous
		return err
	}
	m.logger.WithFields(fields).Info("Cancelling peripheral connection")
	return nil
}

// RetrievePeripheralsWithIdentifiers returns the peripherals the native stack
// still knows among ids. Known identifiers reuse registry objects; others get
// new wrappers that are added to the registry. Identifiers the native stack
// does not confirm are omitted.
func (m *CentralManager) RetrievePeripheralsWithIdentifiers(ids ...string) ([]*Peripheral, error) {
	const op = "retrieve peripherals"
	if err := m.ready(op, true); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*Peripheral{}, nil
	}

	h := m.handle.value()
	found, status := m.bridge.RetrievePeripheralsWithIdentifiers(h, ids)
	if err := m.checkStatus(op, status, logrus.Fields{"ids": ids}); err != nil {
		return nil, err
	}

	confirmed := SplitIDs(found)
	result := make([]*Peripheral, 0, len(confirmed))
	for _, id := range confirmed {
		p, ok := m.peripherals[id]
		if !ok {
			name, st := m.bridge.PeripheralName(h, id)
			if st < 0 {
				name = ""
			}
			p = newPeripheral(m, id, name)
			if ps := PeripheralState(m.bridge.PeripheralState(h, id)); ps.Valid() {
				p.state = ps
			}
			m.peripherals[id] = p
			m.logger.WithFields(logrus.Fields{
				"peripheral": id,
				"name":       name,
			}).Debug("Retrieved peripheral")
		}
		result = append(result, p)
	}
	return result, nil
}

// ProcessEvents applies every queued event on the calling goroutine and
// returns how many were applied. It never blocks. Nested calls from delegate
// callbacks return 0.
func (m *CentralManager) ProcessEvents() int {
	if m.processing || m.handle.disposed() {
		return 0
	}
	m.processing = true
	defer func() { m.processing = false }()

	n := 0
	for !m.handle.disposed() {
		ev, ok := m.queue.pop()
		if !ok {
			break
		}
		m.apply(ev)
		n++
	}
	m.queue.processed.Add(int64(n))
	return n
}

// Run applies events as they arrive until ctx is done or the manager is
// closed. It must be called on the owner goroutine. Run returns nil when the
// manager is closed and ctx.Err() when ctx is done.
func (m *CentralManager) Run(ctx context.Context) error {
	if m.handle.disposed() {
		return fmt.Errorf("run: %w", ErrDisposed)
	}
	for {
		m.ProcessEvents()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.closed:
			return nil
		case <-m.queue.wake:
		}
	}
}

func (m *CentralManager) characteristicProperties(p *Peripheral, c *Characteristic) (CharacteristicProperties, error) {
	const op = "characteristic properties"
	if err := m.ready(op, false); err != nil {
		return 0, err
	}
	status := m.bridge.CharacteristicProperties(m.handle.value(), p.identifier, c.service.uuid, c.uuid)
	if err := m.checkStatus(op, status, characteristicFields(c)); err != nil {
		return 0, err
	}
	return CharacteristicProperties(status), nil
}

// ready fails fast on a disposed manager and, when requested, on a manager
// that is not powered on.
func (m *CentralManager) ready(op string, requirePoweredOn bool) error {
	if m.handle.disposed() {
		return fmt.Errorf("%s: %w", op, ErrDisposed)
	}
	if requirePoweredOn && m.state != ManagerStatePoweredOn {
		m.logger.WithFields(logrus.Fields{
			"op":    op,
			"state": m.state.String(),
		}).Warn("Command rejected, central manager is not powered on")
		return fmt.Errorf("%s: %w (state %s)", op, ErrNotPoweredOn, m.state)
	}
	return nil
}

func (m *CentralManager) owns(op string, p *Peripheral) error {
	if p == nil || p.central != m {
		return fmt.Errorf("%s: %w: peripheral is not owned by this central manager", op, ErrInvalidArgument)
	}
	return nil
}

// checkStatus turns a negative bridge status into a logged BridgeError.
func (m *CentralManager) checkStatus(op string, status int, fields logrus.Fields) error {
	if status >= 0 {
		return nil
	}
	m.logger.WithFields(fields).WithFields(logrus.Fields{
		"op":     op,
		"status": status,
	}).Error("Failed to execute " + op)
	return &BridgeError{Op: op, Status: status}
}
