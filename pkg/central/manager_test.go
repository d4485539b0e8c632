package central_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/srg/cbcentral/internal/testutils"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	peripheralA = "6F1B2C3D-0000-4000-8000-00000000000A"
	peripheralB = "6F1B2C3D-0000-4000-8000-00000000000B"
)

// CentralManagerSuite runs every test against a powered-on manager backed by
// a MockBridge.
type CentralManagerSuite struct {
	suite.Suite

	Helper   *testutils.TestHelper
	Bridge   *testutils.MockBridge
	Central  *central.CentralManager
	Delegate *testutils.RecordingDelegate
}

func (s *CentralManagerSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Delegate = testutils.NewRecordingDelegate()
	s.Central, s.Bridge = s.Helper.PoweredOnCentral(s.Delegate)
	s.Delegate.Reset()
}

func (s *CentralManagerSuite) handle() central.Handle {
	return s.Central.Handle()
}

// discover makes peripheral id known through a discovery event.
func (s *CentralManagerSuite) discover(id, name string) *central.Peripheral {
	s.Bridge.EmitDiscover(s.handle(), id, name)
	s.Central.ProcessEvents()
	p, ok := s.Central.Peripheral(id)
	s.Require().True(ok)
	return p
}

// connected discovers and connects id and attaches a peripheral delegate.
func (s *CentralManagerSuite) connected(id string) *central.Peripheral {
	p := s.discover(id, "Sensor")
	s.Require().NoError(s.Central.Connect(p))
	s.Bridge.EmitConnect(s.handle(), id)
	s.Central.ProcessEvents()
	p.SetDelegate(s.Delegate)
	s.Delegate.Reset()
	return p
}

// withBattery discovers the battery service with one level characteristic.
func (s *CentralManagerSuite) withBattery(p *central.Peripheral) *central.Characteristic {
	s.Bridge.EmitServices(s.handle(), p.Identifier(), -1, "180F")
	s.Bridge.EmitCharacteristics(s.handle(), p.Identifier(), "180F", -1, "2A19")
	s.Central.ProcessEvents()
	c, ok := p.Characteristic("180F", "2A19")
	s.Require().True(ok)
	s.Delegate.Reset()
	return c
}

func (s *CentralManagerSuite) TestInitialState() {
	m, err := central.NewCentralManager(s.Bridge, nil, central.WithLogger(s.Helper.Logger))
	s.Require().NoError(err)
	defer m.Close()

	s.Equal(central.ManagerStateUnknown, m.State())
	s.NotZero(m.Handle())
	s.NotEqual(s.Central.Handle(), m.Handle())
	s.True(s.Bridge.Registered(m.Handle()))
	s.Empty(m.Peripherals())
	s.Equal(central.Stats{}, m.Stats())
}

func (s *CentralManagerSuite) TestCommandsRequirePoweredOn() {
	// GOAL: Verify every command fails fast before poweredOn without calling the bridge
	//
	// TEST SCENARIO: Power off → issue commands → check ErrNotPoweredOn and no bridge calls
	p := s.discover(peripheralA, "Sensor")
	s.Bridge.EmitState(s.handle(), central.ManagerStatePoweredOff)
	s.Central.ProcessEvents()
	s.Bridge.ResetCalls()

	s.ErrorIs(s.Central.ScanForPeripherals(), central.ErrNotPoweredOn)
	s.ErrorIs(s.Central.Connect(p), central.ErrNotPoweredOn)
	s.ErrorIs(s.Central.CancelPeripheralConnection(p), central.ErrNotPoweredOn)
	_, err := s.Central.RetrievePeripheralsWithIdentifiers(peripheralA)
	s.ErrorIs(err, central.ErrNotPoweredOn)
	s.ErrorIs(p.DiscoverServices(), central.ErrNotPoweredOn)
	s.ErrorIs(p.ReadRSSI(), central.ErrNotPoweredOn)

	// StopScan is a no-op, IsScanning is a query.
	s.NoError(s.Central.StopScan())
	scanning, err := s.Central.IsScanning()
	s.NoError(err)
	s.False(scanning)

	s.Empty(s.Bridge.Calls())
	s.Equal(central.PeripheralStateDisconnected, p.State())
}

func (s *CentralManagerSuite) TestScan() {
	s.Require().NoError(s.Central.ScanForPeripherals("180D", "180F"))
	scanning, err := s.Central.IsScanning()
	s.Require().NoError(err)
	s.True(scanning)

	// A second request while scanning is ignored.
	s.Require().NoError(s.Central.ScanForPeripherals())
	calls := s.Bridge.CallsTo("ScanForPeripherals")
	s.Require().Len(calls, 1)
	s.Equal([]string{"180D", "180F"}, calls[0].Args[0])

	s.Require().NoError(s.Central.StopScan())
	s.Require().NoError(s.Central.StopScan())
	s.Len(s.Bridge.CallsTo("StopScan"), 1)

	scanning, err = s.Central.IsScanning()
	s.Require().NoError(err)
	s.False(scanning)
}

func (s *CentralManagerSuite) TestBridgeRejection() {
	s.Bridge.SetStatus("ScanForPeripherals", -2)

	err := s.Central.ScanForPeripherals()
	s.Require().Error(err)
	s.ErrorIs(err, central.ErrBridgeRejected)

	var be *central.BridgeError
	s.Require().ErrorAs(err, &be)
	s.Equal(-2, be.Status)
	s.Equal("scan for peripherals", be.Op)

	s.Bridge.SetStatus("IsScanning", -1)
	_, err = s.Central.IsScanning()
	s.ErrorIs(err, central.ErrBridgeRejected)
}

func (s *CentralManagerSuite) TestDiscoverPeripheral() {
	s.Bridge.EmitDiscover(s.handle(), peripheralB, "Beta")
	s.Bridge.EmitDiscover(s.handle(), peripheralA, "")
	s.Bridge.EmitDiscover(s.handle(), peripheralA, "Alpha")
	s.Equal(3, s.Central.ProcessEvents())

	peripherals := s.Central.Peripherals()
	s.Require().Len(peripherals, 2)
	s.Equal(peripheralA, peripherals[0].Identifier())
	s.Equal("Alpha", peripherals[0].Name())
	s.Equal(peripheralB, peripherals[1].Identifier())
	s.Equal(central.PeripheralStateDisconnected, peripherals[0].State())
	s.Same(s.Central, peripherals[0].Central())

	s.Equal([]string{
		"discover " + peripheralB + " Beta",
		"discover " + peripheralA + " ",
		"discover " + peripheralA + " Alpha",
	}, s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestConnectLifecycle() {
	p := s.discover(peripheralA, "Sensor")
	s.Delegate.Reset()

	s.Require().NoError(s.Central.Connect(p))
	s.Equal(central.PeripheralStateConnecting, p.State())

	s.Bridge.EmitConnect(s.handle(), peripheralA)
	s.Central.ProcessEvents()
	s.Equal(central.PeripheralStateConnected, p.State())

	s.Require().NoError(s.Central.CancelPeripheralConnection(p))
	s.Equal(central.PeripheralStateDisconnecting, p.State())

	s.Bridge.EmitDisconnect(s.handle(), peripheralA, -1)
	s.Central.ProcessEvents()
	s.Equal(central.PeripheralStateDisconnected, p.State())

	s.Equal([]string{
		"connect " + peripheralA,
		"disconnect " + peripheralA + " <nil>",
	}, s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestConnectRejectedRollsBackState() {
	p := s.discover(peripheralA, "Sensor")
	s.Bridge.SetStatus("ConnectPeripheral", -1)

	err := s.Central.Connect(p)
	s.ErrorIs(err, central.ErrBridgeRejected)
	s.Equal(central.PeripheralStateDisconnected, p.State())

	s.Bridge.ClearStatus("ConnectPeripheral")
	s.Require().NoError(s.Central.Connect(p))
	s.Bridge.EmitConnect(s.handle(), peripheralA)
	s.Central.ProcessEvents()

	s.Bridge.SetStatus("CancelPeripheralConnection", -1)
	s.ErrorIs(s.Central.CancelPeripheralConnection(p), central.ErrBridgeRejected)
	s.Equal(central.PeripheralStateConnected, p.State())
}

func (s *CentralManagerSuite) TestCancelWhileDisconnectedKeepsState() {
	p := s.discover(peripheralA, "Sensor")

	s.Require().NoError(s.Central.CancelPeripheralConnection(p))
	s.Equal(central.PeripheralStateDisconnected, p.State())
	s.Len(s.Bridge.CallsTo("CancelPeripheralConnection"), 1)
}

func (s *CentralManagerSuite) TestFailToConnect() {
	p := s.discover(peripheralA, "Sensor")
	s.Delegate.Reset()
	s.Require().NoError(s.Central.Connect(p))

	s.Bridge.EmitFailToConnect(s.handle(), peripheralA, 6)
	s.Central.ProcessEvents()

	s.Equal(central.PeripheralStateDisconnected, p.State())
	errs := s.Delegate.Errors()
	s.Require().Len(errs, 1)
	s.ErrorIs(errs[0], central.ErrConnectionTimeout)
}

func (s *CentralManagerSuite) TestDisconnectWithErrorResetsNotifying() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)
	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "180F", "2A19", true, -1)
	s.Central.ProcessEvents()
	s.Require().True(c.IsNotifying())
	s.Delegate.Reset()

	s.Bridge.EmitDisconnect(s.handle(), peripheralA, 7)
	s.Central.ProcessEvents()

	s.False(c.IsNotifying())
	s.Equal(central.PeripheralStateDisconnected, p.State())
	s.Require().Len(s.Delegate.Errors(), 1)
	s.ErrorIs(s.Delegate.Errors()[0], central.ErrPeripheralDisconnected)
}

func (s *CentralManagerSuite) TestEventsForUnknownEntitiesAreDropped() {
	p := s.connected(peripheralA)
	s.withBattery(p)

	s.Bridge.EmitConnect(s.handle(), peripheralB)
	s.Bridge.EmitServices(s.handle(), peripheralB, -1, "180D")
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180D", -1, "2A37")
	s.Bridge.EmitValue(s.handle(), peripheralA, "180F", "2A37", []byte{1}, -1)
	s.Bridge.EmitValue(s.handle(), peripheralA, "180D", "2A19", []byte{1}, -1)
	s.Bridge.EmitRSSI(s.handle(), peripheralB, -40, -1)
	s.Bridge.EmitDiscover(s.handle(), "", "ghost")

	s.Equal(7, s.Central.ProcessEvents())
	s.Empty(s.Delegate.Entries())
	s.Len(s.Central.Peripherals(), 1)
	s.Len(p.Services(), 1)
}

func (s *CentralManagerSuite) TestServiceDiscovery() {
	p := s.connected(peripheralA)

	s.Require().NoError(p.DiscoverServices("180F"))
	calls := s.Bridge.CallsTo("DiscoverServices")
	s.Require().Len(calls, 1)
	s.Equal(peripheralA, calls[0].Args[0])

	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180A", "180F", "180a")
	s.Central.ProcessEvents()

	services := p.Services()
	s.Require().Len(services, 2)
	s.Equal("180A", services[0].UUID())
	s.Equal("180F", services[1].UUID())
	s.Same(p, services[0].Peripheral())
	s.Equal([]string{"services " + peripheralA + " 2 <nil>"}, s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestServiceRediscoveryPreservesIdentity() {
	// GOAL: Verify re-discovery replaces the set in event order while keeping objects for surviving UUIDs
	//
	// TEST SCENARIO: Discover [180F] → update a value → rediscover [180D,0000180f-...] → check order and identity
	p := s.connected(peripheralA)
	c := s.withBattery(p)
	battery, _ := p.Service("180F")
	s.Bridge.EmitValue(s.handle(), peripheralA, "180F", "2A19", []byte{42}, -1)
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180D", "0000180f-0000-1000-8000-00805f9b34fb")
	s.Central.ProcessEvents()

	services := p.Services()
	s.Require().Len(services, 2)
	s.Equal("180D", services[0].UUID())
	s.Same(battery, services[1])
	same, ok := p.Characteristic("180F", "2A19")
	s.Require().True(ok)
	s.Same(c, same)
	s.Equal([]byte{42}, same.Value())

	_, ok = p.Service("180A")
	s.False(ok)
}

func (s *CentralManagerSuite) TestServiceDiscoveryEmptyListIsDropped() {
	p := s.connected(peripheralA)
	s.withBattery(p)

	s.Bridge.EmitServices(s.handle(), peripheralA, -1)
	s.Central.ProcessEvents()

	s.Empty(s.Delegate.Entries())
	s.Len(p.Services(), 1)
}

func (s *CentralManagerSuite) TestServiceDiscoveryErrorKeepsServices() {
	p := s.connected(peripheralA)
	s.withBattery(p)

	s.Bridge.EmitServices(s.handle(), peripheralA, 3)
	s.Central.ProcessEvents()

	s.Len(p.Services(), 1)
	s.Require().Len(s.Delegate.Errors(), 1)
	s.ErrorIs(s.Delegate.Errors()[0], central.ErrNotConnected)
}

func (s *CentralManagerSuite) TestCharacteristicDiscovery() {
	p := s.connected(peripheralA)
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180D", "180F")
	s.Central.ProcessEvents()
	heartRate, ok := p.Service("180d")
	s.Require().True(ok)

	s.Require().NoError(p.DiscoverCharacteristics(heartRate, "2A37"))
	calls := s.Bridge.CallsTo("DiscoverCharacteristics")
	s.Require().Len(calls, 1)
	s.Equal("180D", calls[0].Args[1])
	s.Equal([]string{"2A37"}, calls[0].Args[2])

	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "0000180D-0000-1000-8000-00805F9B34FB", -1, "2A37", "2A38")
	s.Central.ProcessEvents()

	s.Require().Len(heartRate.Characteristics(), 2)
	s.Equal("2A38", heartRate.Characteristics()[1].UUID())
	s.Same(heartRate, heartRate.Characteristics()[0].Service())

	battery, _ := p.Service("180F")
	s.Empty(battery.Characteristics())
	s.Contains(s.Delegate.Entries(), "characteristics 180D 2 <nil>")
}

func (s *CentralManagerSuite) TestCharacteristicDiscoveryLeavesOtherServicesAlone() {
	// GOAL: Verify discovering one service's characteristics never rebuilds another's
	//
	// TEST SCENARIO: Discover 180F → capture its objects → discover 180D → 180F objects identical

	p := s.connected(peripheralA)
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180D", "180F")
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180F", -1, "2A19", "2A1A")
	s.Central.ProcessEvents()

	battery, ok := p.Service("180F")
	s.Require().True(ok)
	before := battery.Characteristics()
	s.Require().Len(before, 2)

	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180D", -1, "2A37")
	s.Central.ProcessEvents()

	after := battery.Characteristics()
	s.Require().Len(after, 2)
	for i := range before {
		s.Same(before[i], after[i])
		s.Same(battery, after[i].Service())
	}
	heartRate, _ := p.Service("180D")
	s.Len(heartRate.Characteristics(), 1)
	s.Equal([]string{
		"characteristics 180F 2 <nil>",
		"characteristics 180D 1 <nil>",
	}, s.Delegate.Entries()[1:])
}

func (s *CentralManagerSuite) TestCharacteristicDiscoveryEmptyListIsDropped() {
	p := s.connected(peripheralA)
	s.withBattery(p)

	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180F", -1)
	s.Central.ProcessEvents()

	s.Empty(s.Delegate.Entries())
	battery, _ := p.Service("180F")
	s.Len(battery.Characteristics(), 1)
}

func (s *CentralManagerSuite) TestReadValue() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)

	s.Require().NoError(p.ReadValue(c))
	s.Len(s.Bridge.CallsTo("ReadValueForCharacteristic"), 1)
	s.Nil(c.Value())

	value := []byte{0x55}
	s.Bridge.EmitValue(s.handle(), peripheralA, "180F", "2A19", value, -1)
	value[0] = 0x00
	s.Central.ProcessEvents()
	s.Equal([]byte{0x55}, c.Value())

	// A failed read reports the error and keeps the cached value.
	s.Bridge.EmitValue(s.handle(), peripheralA, "180F", "2A19", nil, 3)
	s.Central.ProcessEvents()
	s.Equal([]byte{0x55}, c.Value())

	s.Equal([]string{
		"value 2A19 55 <nil>",
		"value 2A19 55 corebluetooth: notConnected",
	}, s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestWriteValue() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)

	data := []byte{1, 2, 3}
	s.Require().NoError(p.WriteValue(data, c, central.WriteWithoutResponse))
	data[0] = 9

	calls := s.Bridge.CallsTo("WriteValueForCharacteristic")
	s.Require().Len(calls, 1)
	s.Equal([]byte{1, 2, 3}, calls[0].Args[3])
	s.Equal(central.WriteWithoutResponse, calls[0].Args[4])

	s.Bridge.EmitWrite(s.handle(), peripheralA, "180F", "2A19", -1)
	s.Central.ProcessEvents()
	s.Equal([]string{"write 2A19 <nil>"}, s.Delegate.Entries())
	s.Nil(c.Value())
}

func (s *CentralManagerSuite) TestWriteValueDisconnectedError() {
	// GOAL: Verify a write completion carrying code 7 surfaces as peripheralDisconnected
	//
	// TEST SCENARIO: Write → completion with code 7 → DidWriteValue gets ErrPeripheralDisconnected

	p := s.connected(peripheralA)
	c := s.withBattery(p)
	s.Require().NoError(p.WriteValue([]byte{0x01}, c, central.WriteWithResponse))

	s.Bridge.EmitWrite(s.handle(), peripheralA, "180F", "2A19", int(central.ErrorCodePeripheralDisconnected))
	s.Central.ProcessEvents()

	s.Equal([]string{"write 2A19 corebluetooth: peripheralDisconnected"}, s.Delegate.Entries())
	s.Require().Len(s.Delegate.Errors(), 1)
	s.ErrorIs(s.Delegate.Errors()[0], central.ErrPeripheralDisconnected)
	var cbErr *central.Error
	s.Require().ErrorAs(s.Delegate.Errors()[0], &cbErr)
	s.Equal(central.ErrorCodePeripheralDisconnected, cbErr.Code)
	s.Nil(c.Value())
}

func (s *CentralManagerSuite) TestSetNotifyValue() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)

	s.Require().NoError(p.SetNotifyValue(true, c))
	s.False(c.IsNotifying(), "notifying changes only on confirmation")

	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "180F", "2A19", true, -1)
	s.Central.ProcessEvents()
	s.True(c.IsNotifying())

	// Failure leaves the confirmed state untouched.
	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "180F", "2A19", false, 5)
	s.Central.ProcessEvents()
	s.True(c.IsNotifying())

	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "180F", "2A19", false, -1)
	s.Central.ProcessEvents()
	s.False(c.IsNotifying())
}

func (s *CentralManagerSuite) TestReadRSSI() {
	p := s.connected(peripheralA)
	_, ok := p.RSSI()
	s.False(ok)

	s.Require().NoError(p.ReadRSSI())
	s.Bridge.EmitRSSI(s.handle(), peripheralA, -61, -1)
	s.Bridge.EmitRSSI(s.handle(), peripheralA, 0, 3)
	s.Central.ProcessEvents()

	rssi, ok := p.RSSI()
	s.True(ok)
	s.Equal(-61, rssi)
	s.Equal([]string{
		"rssi " + peripheralA + " -61 <nil>",
		"rssi " + peripheralA + " 0 corebluetooth: notConnected",
	}, s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestCharacteristicProperties() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)
	s.Bridge.WithProperties(peripheralA, "180F", "2A19", central.PropertyRead|central.PropertyNotify)

	props, err := c.Properties()
	s.Require().NoError(err)
	s.Equal(central.PropertyRead|central.PropertyNotify, props)

	// Not cached.
	s.Bridge.WithProperties(peripheralA, "180F", "2A19", central.PropertyWrite)
	props, err = c.Properties()
	s.Require().NoError(err)
	s.Equal(central.PropertyWrite, props)
	s.Len(s.Bridge.CallsTo("CharacteristicProperties"), 2)

	s.Bridge.SetStatus("CharacteristicProperties", -1)
	_, err = c.Properties()
	s.ErrorIs(err, central.ErrBridgeRejected)
}

func (s *CentralManagerSuite) TestCharacteristicLookupWithoutService() {
	p := s.connected(peripheralA)
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180D", "FFF0")
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180D", -1, "2A37")
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "FFF0", -1, "2A37")
	s.Central.ProcessEvents()

	c, ok := p.Characteristic("", "2a37")
	s.Require().True(ok)
	s.Equal("180D", c.Service().UUID())

	c, ok = p.Characteristic("fff0", "2A37")
	s.Require().True(ok)
	s.Equal("FFF0", c.Service().UUID())

	_, ok = p.Characteristic("", "2A38")
	s.False(ok)
}

func (s *CentralManagerSuite) TestOwnershipChecks() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)
	other := s.connected(peripheralB)
	battery, _ := p.Service("180F")

	s.ErrorIs(other.ReadValue(c), central.ErrInvalidArgument)
	s.ErrorIs(other.ReadValue(nil), central.ErrInvalidArgument)
	s.ErrorIs(other.DiscoverCharacteristics(battery), central.ErrInvalidArgument)
	s.ErrorIs(s.Central.Connect(nil), central.ErrInvalidArgument)

	m2 := s.Helper.NewCentral(s.Bridge, nil)
	s.Bridge.EmitState(m2.Handle(), central.ManagerStatePoweredOn)
	m2.ProcessEvents()
	s.ErrorIs(m2.Connect(p), central.ErrInvalidArgument)
}

func (s *CentralManagerSuite) TestLeavingPoweredOnDisconnectsEverything() {
	p := s.connected(peripheralA)
	c := s.withBattery(p)
	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "180F", "2A19", true, -1)
	pending := s.discover(peripheralB, "Pending")
	s.Require().NoError(s.Central.Connect(pending))
	s.Central.ProcessEvents()
	s.Delegate.Reset()

	s.Bridge.EmitState(s.handle(), central.ManagerStateResetting)
	s.Central.ProcessEvents()

	s.Equal(central.ManagerStateResetting, s.Central.State())
	s.Equal(central.PeripheralStateDisconnected, p.State())
	s.Equal(central.PeripheralStateDisconnected, pending.State())
	s.False(c.IsNotifying())
	s.Equal([]string{"state resetting"}, s.Delegate.Entries())
	s.ErrorIs(p.ReadValue(c), central.ErrNotPoweredOn)
}

func (s *CentralManagerSuite) TestInvalidStateIsDropped() {
	s.emitRawState(7)
	s.emitRawState(-1)
	s.Equal(central.ManagerStatePoweredOn, s.Central.State())
	s.Empty(s.Delegate.Entries())
}

func (s *CentralManagerSuite) emitRawState(state int) {
	s.Bridge.Emit(s.handle()).DidUpdateState(s.handle(), state)
	s.Central.ProcessEvents()
}

func (s *CentralManagerSuite) TestRetrievePeripherals() {
	existing := s.discover(peripheralA, "Alpha")
	s.Bridge.
		WithKnownPeripheral(testutils.MockPeripheral{ID: peripheralA, Name: "Alpha"}).
		WithKnownPeripheral(testutils.MockPeripheral{ID: peripheralB, Name: "Beta", State: central.PeripheralStateConnected})

	result, err := s.Central.RetrievePeripheralsWithIdentifiers(peripheralA, "missing", peripheralB)
	s.Require().NoError(err)
	s.Require().Len(result, 2)
	s.Same(existing, result[0])
	s.Equal(peripheralB, result[1].Identifier())
	s.Equal("Beta", result[1].Name())
	s.Equal(central.PeripheralStateConnected, result[1].State())

	again, ok := s.Central.Peripheral(peripheralB)
	s.Require().True(ok)
	s.Same(result[1], again)

	result, err = s.Central.RetrievePeripheralsWithIdentifiers()
	s.Require().NoError(err)
	s.Empty(result)

	s.Bridge.SetStatus("RetrievePeripheralsWithIdentifiers", -1)
	_, err = s.Central.RetrievePeripheralsWithIdentifiers(peripheralA)
	s.ErrorIs(err, central.ErrBridgeRejected)
}

func (s *CentralManagerSuite) TestDelegateObservesPostEventState() {
	p := s.discover(peripheralA, "Sensor")
	s.Require().NoError(s.Central.Connect(p))

	var observed central.PeripheralState
	s.Delegate.OnEvent = func(string) { observed = p.State() }
	s.Bridge.EmitConnect(s.handle(), peripheralA)
	s.Central.ProcessEvents()

	s.Equal(central.PeripheralStateConnected, observed)
}

func (s *CentralManagerSuite) TestCommandsFromDelegate() {
	// GOAL: Verify delegates may issue commands and that nested ProcessEvents is a no-op
	//
	// TEST SCENARIO: On connect, the delegate discovers services and calls ProcessEvents → check bridge call and return 0
	p := s.discover(peripheralA, "Sensor")
	s.Require().NoError(s.Central.Connect(p))

	nested := -1
	s.Delegate.OnEvent = func(entry string) {
		if entry == "connect "+peripheralA {
			s.NoError(p.DiscoverServices())
			s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180F")
			nested = s.Central.ProcessEvents()
		}
	}
	p.SetDelegate(s.Delegate)
	s.Bridge.EmitConnect(s.handle(), peripheralA)

	s.Equal(2, s.Central.ProcessEvents())
	s.Equal(0, nested)
	s.Len(s.Bridge.CallsTo("DiscoverServices"), 1)
	s.Len(p.Services(), 1)
}

func (s *CentralManagerSuite) TestNilDelegates() {
	s.Central.SetDelegate(nil)
	s.Nil(s.Central.Delegate())

	p := s.discover(peripheralA, "Sensor")
	s.Require().NoError(s.Central.Connect(p))
	s.Bridge.EmitConnect(s.handle(), peripheralA)
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "180F")
	s.Central.ProcessEvents()

	s.Equal(central.PeripheralStateConnected, p.State())
	s.Len(p.Services(), 1)
	s.Empty(s.Delegate.Entries())
}

func (s *CentralManagerSuite) TestEndToEndGraph() {
	// GOAL: Verify the full discover → connect → GATT → notify flow produces the expected entity graph
	//
	// TEST SCENARIO: Scan, discover, connect, discover services and characteristics, read, subscribe, notify → snapshot graph
	s.Require().NoError(s.Central.ScanForPeripherals())
	p := s.discover(peripheralA, "Thermometer")
	s.Require().NoError(s.Central.StopScan())
	s.Require().NoError(s.Central.Connect(p))
	s.Bridge.EmitConnect(s.handle(), peripheralA)
	s.Central.ProcessEvents()

	p.SetDelegate(s.Delegate)
	s.Require().NoError(p.DiscoverServices())
	s.Bridge.EmitServices(s.handle(), peripheralA, -1, "1809", "180F")
	s.Central.ProcessEvents()

	for _, svc := range p.Services() {
		s.Require().NoError(p.DiscoverCharacteristics(svc))
	}
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "1809", -1, "2A1C")
	s.Bridge.EmitCharacteristics(s.handle(), peripheralA, "180F", -1, "2A19")
	s.Central.ProcessEvents()

	level, _ := p.Characteristic("180F", "2A19")
	temp, _ := p.Characteristic("1809", "2A1C")
	s.Require().NoError(p.ReadValue(level))
	s.Require().NoError(p.SetNotifyValue(true, temp))
	s.Bridge.EmitValue(s.handle(), peripheralA, "180F", "2A19", []byte{87}, -1)
	s.Bridge.EmitNotificationState(s.handle(), peripheralA, "1809", "2A1C", true, -1)
	s.Bridge.EmitValue(s.handle(), peripheralA, "1809", "2A1C", []byte{0x06, 0x6A, 0x0E}, -1)
	s.Bridge.EmitRSSI(s.handle(), peripheralA, -58, -1)
	s.Central.ProcessEvents()

	testutils.NewJSONAsserter(s.T()).AssertCentral(s.Central, `{
		"state": "poweredOn",
		"peripherals": [
			{
				"id": "`+peripheralA+`",
				"name": "Thermometer",
				"state": "connected",
				"rssi": -58,
				"services": [
					{
						"uuid": "1809",
						"characteristics": [
							{ "uuid": "2A1C", "value": [6, 106, 14], "notifying": true }
						]
					},
					{
						"uuid": "180F",
						"characteristics": [
							{ "uuid": "2A19", "value": [87], "notifying": false }
						]
					}
				]
			}
		]
	}`)

	s.Equal([]string{
		"discover " + peripheralA + " Thermometer",
		"connect " + peripheralA,
		"services " + peripheralA + " 2 <nil>",
		"characteristics 1809 1 <nil>",
		"characteristics 180F 1 <nil>",
		"value 2A19 57 <nil>",
		"notifying 2A1C true <nil>",
		"value 2A1C 066a0e <nil>",
		"rssi " + peripheralA + " -58 <nil>",
	}, s.Delegate.Entries())
	s.Equal(int64(10), s.Central.Stats().Processed)
}

func TestCentralManagerSuite(t *testing.T) {
	suite.Run(t, new(CentralManagerSuite))
}

func TestNewCentralManagerFailures(t *testing.T) {
	helper := testutils.NewTestHelper(t)

	tests := []struct {
		name   string
		bridge func() central.Bridge
	}{
		{
			name:   "nil bridge",
			bridge: func() central.Bridge { return nil },
		},
		{
			name: "bridge error",
			bridge: func() central.Bridge {
				b := testutils.NewMockBridge()
				b.NewErr = errors.New("no radio")
				return b
			},
		},
		{
			name: "zero handle",
			bridge: func() central.Bridge {
				b := testutils.NewMockBridge()
				b.ZeroHandle = true
				return b
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := central.NewCentralManager(tt.bridge(), nil, central.WithLogger(helper.Logger))
			assert.Nil(t, m)
			assert.ErrorIs(t, err, central.ErrHandleAllocation)
		})
	}
}

func TestCloseDisposesManager(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	delegate := testutils.NewRecordingDelegate()
	m, bridge := helper.PoweredOnCentral(delegate)
	h := m.Handle()
	bridge.EmitDiscover(h, peripheralA, "Sensor")
	m.ProcessEvents()
	p, _ := m.Peripheral(peripheralA)
	delegate.Reset()
	bridge.ResetCalls()

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
	assert.Equal(t, []central.Handle{h}, bridge.Released())

	assert.ErrorIs(t, m.ScanForPeripherals(), central.ErrDisposed)
	assert.ErrorIs(t, m.StopScan(), central.ErrDisposed)
	assert.ErrorIs(t, m.Connect(p), central.ErrDisposed)
	assert.ErrorIs(t, p.DiscoverServices(), central.ErrDisposed)
	assert.ErrorIs(t, p.ReadRSSI(), central.ErrDisposed)
	_, err := m.IsScanning()
	assert.ErrorIs(t, err, central.ErrDisposed)
	_, err = m.RetrievePeripheralsWithIdentifiers(peripheralA)
	assert.ErrorIs(t, err, central.ErrDisposed)
	assert.ErrorIs(t, m.Run(context.Background()), central.ErrDisposed)

	// Late native callbacks are dropped.
	bridge.EmitConnect(h, peripheralA)
	assert.Equal(t, 0, m.ProcessEvents())
	assert.Empty(t, delegate.Entries())
	assert.Equal(t, central.PeripheralStateDisconnected, p.State())
	assert.Empty(t, bridge.Calls())
}

func TestManagersSharingBridgeAreIsolated(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	bridge := testutils.NewMockBridge()
	d1 := testutils.NewRecordingDelegate()
	d2 := testutils.NewRecordingDelegate()
	m1 := helper.NewCentral(bridge, d1)
	m2 := helper.NewCentral(bridge, d2)

	bridge.EmitState(m1.Handle(), central.ManagerStatePoweredOn)
	bridge.EmitState(m2.Handle(), central.ManagerStateUnauthorized)
	bridge.EmitDiscover(m2.Handle(), peripheralB, "Beta")
	m1.ProcessEvents()
	m2.ProcessEvents()

	assert.Equal(t, central.ManagerStatePoweredOn, m1.State())
	assert.Equal(t, central.ManagerStateUnauthorized, m2.State())
	assert.Empty(t, m1.Peripherals())
	assert.Len(t, m2.Peripherals(), 1)
	assert.Equal(t, []string{"state poweredOn"}, d1.Entries())
	assert.Equal(t, []string{"state unauthorized", "discover " + peripheralB + " Beta"}, d2.Entries())

	require.NoError(t, m1.Close())
	bridge.EmitState(m2.Handle(), central.ManagerStatePoweredOn)
	assert.Equal(t, 1, m2.ProcessEvents())
}

func TestRunAppliesEventsFromOtherGoroutines(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	delegate := testutils.NewRecordingDelegate()
	bridge := testutils.NewMockBridge()
	m := helper.NewCentral(bridge, delegate)
	h := m.Handle()

	delegate.OnEvent = func(entry string) {
		if entry == "discover "+peripheralA+" Sensor" {
			require.NoError(t, m.Close())
		}
	}

	go func() {
		bridge.EmitState(h, central.ManagerStatePoweredOn)
		bridge.EmitDiscover(h, peripheralA, "Sensor")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Run(ctx))

	assert.Equal(t, []string{"state poweredOn", "discover " + peripheralA + " Sensor"}, delegate.Entries())
	assert.True(t, m.IsClosed())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	m := helper.NewCentral(testutils.NewMockBridge(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, m.Run(ctx), context.DeadlineExceeded)
	assert.False(t, m.IsClosed())
}

func TestConcurrentProducers(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	bridge := testutils.NewMockBridge()
	m := helper.NewCentral(bridge, nil, central.WithQueueSize(4096))
	h := m.Handle()

	const producers, perProducer = 8, 100
	done := make(chan struct{})
	for i := 0; i < producers; i++ {
		go func() {
			for j := 0; j < perProducer; j++ {
				bridge.EmitState(h, central.ManagerStatePoweredOn)
			}
			done <- struct{}{}
		}()
	}
	for i := 0; i < producers; i++ {
		<-done
	}

	assert.Equal(t, producers*perProducer, m.ProcessEvents())
	stats := m.Stats()
	assert.Equal(t, int64(producers*perProducer), stats.Processed)
	assert.Zero(t, stats.Spilled)
}

func TestQueueOverflowKeepsEveryEvent(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	delegate := testutils.NewRecordingDelegate()
	bridge := testutils.NewMockBridge()
	m := helper.NewCentral(bridge, delegate, central.WithQueueSize(4))
	h := m.Handle()

	const total = 50
	for i := 0; i < total-1; i++ {
		bridge.EmitState(h, central.ManagerStatePoweredOff)
	}
	bridge.EmitState(h, central.ManagerStatePoweredOn)

	assert.Equal(t, total, m.ProcessEvents())
	stats := m.Stats()
	assert.Equal(t, int64(total), stats.Processed)
	assert.Positive(t, stats.Spilled)
	assert.Equal(t, central.ManagerStatePoweredOn, m.State(), "events are applied in arrival order")
	assert.Len(t, delegate.Entries(), total)
}

func TestQueueOverflowKeepsLifecycleEvents(t *testing.T) {
	// GOAL: Verify a burst larger than the ring never loses a completion event
	//
	// TEST SCENARIO: Ring of 4 → connect event followed by 8 RSSI reads → peripheral connected, all reads delivered

	helper := testutils.NewTestHelper(t)
	delegate := testutils.NewRecordingDelegate()
	bridge := testutils.NewMockBridge()
	m := helper.NewCentral(bridge, delegate, central.WithQueueSize(4))
	h := m.Handle()

	bridge.EmitState(h, central.ManagerStatePoweredOn)
	bridge.EmitDiscover(h, peripheralA, "Sensor")
	m.ProcessEvents()
	p, ok := m.Peripheral(peripheralA)
	require.True(t, ok)
	p.SetDelegate(delegate)

	require.NoError(t, m.Connect(p))
	bridge.EmitConnect(h, peripheralA)
	for i := 0; i < 8; i++ {
		bridge.EmitRSSI(h, peripheralA, -40-i, -1)
	}
	delegate.Reset()

	assert.Equal(t, 9, m.ProcessEvents())
	assert.Equal(t, central.PeripheralStateConnected, p.State())

	entries := delegate.Entries()
	require.Len(t, entries, 9)
	assert.Equal(t, "connect "+peripheralA, entries[0])
	assert.Equal(t, "rssi "+peripheralA+" -47 <nil>", entries[8])

	rssi, ok := p.RSSI()
	assert.True(t, ok)
	assert.Equal(t, -47, rssi)
}
