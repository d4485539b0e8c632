package goble_test

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/cbcentral/internal/bridge/goble"
	"github.com/srg/cbcentral/internal/testutils"
	"github.com/srg/cbcentral/internal/testutils/mocks"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const addr = "AA:BB:CC:DD:EE:FF"

type GoBLEBridgeSuite struct {
	testutils.MockBLEPeripheralSuite
}

func TestGoBLEBridgeSuite(t *testing.T) {
	suite.Run(t, new(GoBLEBridgeSuite))
}

func (s *GoBLEBridgeSuite) connect() *central.Peripheral {
	s.T().Helper()
	s.Require().NoError(s.Central.ScanForPeripherals())
	s.WaitFor("discover " + addr + " Battery")
	s.Require().NoError(s.Central.StopScan())

	p, ok := s.Central.Peripheral(addr)
	s.Require().True(ok)
	p.SetDelegate(s.Delegate)
	s.Require().NoError(s.Central.Connect(p))
	s.WaitFor("connect " + addr)
	return p
}

func (s *GoBLEBridgeSuite) battery(p *central.Peripheral) *central.Characteristic {
	s.T().Helper()
	s.Require().NoError(p.DiscoverServices())
	s.WaitFor("services " + addr + " 1 <nil>")
	svc := p.Services()[0]
	s.Require().NoError(p.DiscoverCharacteristics(svc))
	s.WaitFor("characteristics " + svc.UUID() + " 1 <nil>")
	return svc.Characteristics()[0]
}

func (s *GoBLEBridgeSuite) TestScanReportsAdvertisement() {
	// GOAL: Verify advertisements become discovered peripherals keyed by address
	//
	// TEST SCENARIO: Scan → mocked device reports one advertisement → peripheral with name

	s.Require().NoError(s.Central.ScanForPeripherals("180F"))
	scanning, err := s.Central.IsScanning()
	s.Require().NoError(err)
	s.True(scanning)

	s.WaitFor("discover " + addr + " Battery")

	s.Require().NoError(s.Central.StopScan())
	s.Eventually(func() bool {
		scanning, _ := s.Central.IsScanning()
		return !scanning
	}, time.Second, 5*time.Millisecond)
}

func (s *GoBLEBridgeSuite) TestScanFilterSkipsOtherServices() {
	s.Require().NoError(s.Central.ScanForPeripherals("180D"))
	time.Sleep(30 * time.Millisecond)
	s.Central.ProcessEvents()
	s.Equal([]string{"state poweredOn"}, s.Delegate.Entries())
}

func (s *GoBLEBridgeSuite) TestConnectDiscoverRead() {
	// GOAL: Verify the GATT cascade maps onto go-ble client calls
	//
	// TEST SCENARIO: Connect → discover → read 2A19 → value 0x32; properties mapped from go-ble bits

	p := s.connect()
	c := s.battery(p)

	props, err := c.Properties()
	s.Require().NoError(err)
	s.Equal(central.PropertyRead|central.PropertyNotify, props)

	s.Require().NoError(p.ReadValue(c))
	s.WaitFor("value " + c.UUID() + " 32 <nil>")

	s.Require().NoError(p.ReadRSSI())
	s.WaitFor("rssi " + addr + " -50 <nil>")
}

func (s *GoBLEBridgeSuite) TestWriteWithResponseReportsCompletion() {
	p := s.connect()
	c := s.battery(p)

	s.Require().NoError(p.WriteValue([]byte{0x01, 0x02}, c, central.WriteWithResponse))
	s.WaitFor("write " + c.UUID() + " <nil>")
	s.Peripheral.Client.AssertCalled(s.T(), "WriteCharacteristic", mock.Anything, []byte{0x01, 0x02}, false)
}

func (s *GoBLEBridgeSuite) TestNotificationsFlowThroughSubscribe() {
	// GOAL: Verify notifications arrive as value updates after Subscribe
	//
	// TEST SCENARIO: Enable notify → device pushes 0x33 → value update; disable → Unsubscribe

	p := s.connect()
	c := s.battery(p)

	s.Require().NoError(p.SetNotifyValue(true, c))
	s.WaitFor("notifying " + c.UUID() + " true <nil>")
	s.True(s.Peripheral.Subscribed("2A19"))

	s.True(s.Peripheral.Notify("2A19", []byte{0x33}))
	s.WaitFor("value " + c.UUID() + " 33 <nil>")

	s.Require().NoError(p.SetNotifyValue(false, c))
	s.WaitFor("notifying " + c.UUID() + " false <nil>")
	s.False(s.Peripheral.Subscribed("2A19"))
}

func (s *GoBLEBridgeSuite) TestCancelConnection() {
	p := s.connect()
	s.Require().NoError(s.Central.CancelPeripheralConnection(p))
	s.WaitFor("disconnect " + addr + " <nil>")
	s.Equal(central.PeripheralStateDisconnected, p.State())
	s.Peripheral.Client.AssertCalled(s.T(), "CancelConnection")
}

func (s *GoBLEBridgeSuite) TestConnectWhenConnectedCompletesAgain() {
	// GOAL: Verify a repeated connect still produces a connect event
	//
	// TEST SCENARIO: Connect → connect again → second connect event without a second Dial

	p := s.connect()
	s.Delegate.Reset()

	s.Require().NoError(s.Central.Connect(p))
	s.WaitFor("connect " + addr)
	s.Equal(central.PeripheralStateConnected, p.State())
	s.Peripheral.Device.AssertNumberOfCalls(s.T(), "Dial", 1)
}

func (s *GoBLEBridgeSuite) TestLinkLossReportsPeripheralDisconnected() {
	p := s.connect()
	s.Peripheral.Client.Drop()
	s.WaitFor("disconnect " + addr + " corebluetooth: peripheralDisconnected")
	s.Equal(central.PeripheralStateDisconnected, p.State())
}

func (s *GoBLEBridgeSuite) TestGATTRequiresConnection() {
	h := s.Central.Handle()
	s.Equal(-1, s.Bridge.DiscoverServices(h, addr, nil), "unknown peripheral")
	s.Equal(-1, s.Bridge.ConnectPeripheral(h, ""))
	s.Equal(-1, s.Bridge.CancelPeripheralConnection(h, "11:22:33:44:55:66"))
}

// EmptyServiceSuite runs against a peripheral whose only service has no characteristics
type EmptyServiceSuite struct {
	testutils.MockBLEPeripheralSuite
}

func TestEmptyServiceSuite(t *testing.T) {
	suite.Run(t, new(EmptyServiceSuite))
}

func (s *EmptyServiceSuite) SetupTest() {
	s.WithPeripheral(addr).
		WithName("Beacon").
		WithService("FFF0")
	s.MockBLEPeripheralSuite.SetupTest()
}

func (s *EmptyServiceSuite) TestCharacteristicDiscoveryFindingNothingFails() {
	// GOAL: Verify a service without characteristics completes discovery with an error
	//
	// TEST SCENARIO: Connect → discover FFF0 → characteristics event carries invalidParameters

	s.Require().NoError(s.Central.ScanForPeripherals())
	s.WaitFor("discover " + addr + " Beacon")
	s.Require().NoError(s.Central.StopScan())

	p, ok := s.Central.Peripheral(addr)
	s.Require().True(ok)
	p.SetDelegate(s.Delegate)
	s.Require().NoError(s.Central.Connect(p))
	s.WaitFor("connect " + addr)

	s.Require().NoError(p.DiscoverServices())
	s.WaitFor("services " + addr + " 1 <nil>")
	svc := p.Services()[0]

	s.Require().NoError(p.DiscoverCharacteristics(svc))
	s.WaitFor("characteristics " + svc.UUID() + " 0 corebluetooth: invalidParameters")
	s.Empty(svc.Characteristics())
}

func TestBluetoothOffStillAllocatesHandle(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	original := goble.DeviceFactory
	t.Cleanup(func() { goble.DeviceFactory = original })
	goble.DeviceFactory = func() (goble.Device, error) {
		return nil, errors.New("can't init hci: no devices available: have=4 want=5")
	}

	bridge := goble.NewBridge(helper.Logger, time.Second)
	d := testutils.NewRecordingDelegate()
	m := helper.NewCentral(bridge, d)

	require.Eventually(t, func() bool {
		m.ProcessEvents()
		return m.State() == central.ManagerStatePoweredOff
	}, time.Second, 2*time.Millisecond)
	assert.Equal(t, -1, bridge.ScanForPeripherals(m.Handle(), nil))
}

func TestDeviceFactoryErrorFailsNew(t *testing.T) {
	original := goble.DeviceFactory
	t.Cleanup(func() { goble.DeviceFactory = original })
	goble.DeviceFactory = func() (goble.Device, error) {
		return nil, goble.ErrUnsupported
	}

	_, err := goble.NewBridge(nil, 0).New()
	require.Error(t, err)
	assert.ErrorIs(t, err, goble.ErrUnsupported)
}

func TestDialFailureCodes(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"timeout", context.DeadlineExceeded, "fail-to-connect " + addr + " corebluetooth: connectionTimeout"},
		{"generic", errors.New("le connection failed"), "fail-to-connect " + addr + " corebluetooth: connectionFailed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			helper := testutils.NewTestHelper(t)
			adv := testutils.NewAdvertisementBuilder().WithAddress(addr).WithName("Lock").Build()

			dev := &mocks.MockDevice{}
			dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					args.Get(2).(ble.AdvHandler)(adv)
					<-args.Get(0).(context.Context).Done()
				}).
				Return(context.Canceled)
			dev.On("Dial", mock.Anything, mock.Anything).Return(nil, tt.err)
			dev.On("Stop").Return(nil).Maybe()

			original := goble.DeviceFactory
			t.Cleanup(func() { goble.DeviceFactory = original })
			goble.DeviceFactory = func() (goble.Device, error) { return dev, nil }

			d := testutils.NewRecordingDelegate()
			m := helper.NewCentral(goble.NewBridge(helper.Logger, time.Second), d)
			waitFor := func(entry string) {
				require.Eventually(t, func() bool {
					m.ProcessEvents()
					return slices.Contains(d.Entries(), entry)
				}, time.Second, 2*time.Millisecond, "waiting for %q, got %v", entry, d.Entries())
			}
			waitFor("state poweredOn")

			require.NoError(t, m.ScanForPeripherals())
			waitFor("discover " + addr + " Lock")
			require.NoError(t, m.StopScan())

			p, ok := m.Peripheral(addr)
			require.True(t, ok)
			require.NoError(t, m.Connect(p))
			assert.Equal(t, central.PeripheralStateConnecting, p.State())

			waitFor(tt.expected)
			assert.Equal(t, central.PeripheralStateDisconnected, p.State())
		})
	}
}

func TestPropertyMapping(t *testing.T) {
	all := ble.CharBroadcast | ble.CharRead | ble.CharWriteNR | ble.CharWrite |
		ble.CharNotify | ble.CharIndicate | ble.CharSignedWrite | ble.CharExtended

	props := goble.FromBLEProperty(all)
	assert.Equal(t, central.CharacteristicProperties(0xff), props)
	assert.Equal(t, all, goble.ToBLEProperty(props))

	assert.Equal(t, central.PropertyRead|central.PropertyNotify, goble.FromBLEProperty(ble.CharRead|ble.CharNotify))
	assert.Equal(t, ble.Property(0), goble.ToBLEProperty(central.PropertyNotifyEncryptionRequired))
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, goble.NormalizeError(nil))
	assert.ErrorIs(t, goble.NormalizeError(errors.New("HCI: have=4 want=5")), goble.ErrBluetoothOff)
	plain := errors.New("boom")
	assert.Equal(t, plain, goble.NormalizeError(plain))
}
