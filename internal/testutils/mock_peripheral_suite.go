package testutils

import (
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cbcentral/internal/bridge/goble"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/stretchr/testify/suite"
)

// MockBLEPeripheralSuite runs a CentralManager over the go-ble bridge with
// goble.DeviceFactory swapped for a mocked device.
//
// Basic usage (default battery peripheral):
//
//	type BridgeSuite struct {
//	    testutils.MockBLEPeripheralSuite
//	}
//
// Custom peripheral:
//
//	func (s *BridgeSuite) SetupTest() {
//	    s.WithPeripheral("AA:BB:CC:DD:EE:FF").
//	        WithService("180D").
//	        WithCharacteristic("2A37", "notify", "")
//	    s.MockBLEPeripheralSuite.SetupTest() // call parent last to apply configuration
//	}
type MockBLEPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func() (goble.Device, error)
	TestTimeout           time.Duration

	PeripheralBuilder *PeripheralDeviceBuilder
	Peripheral        *PeripheralDevice

	Bridge   *goble.Bridge
	Central  *central.CentralManager
	Delegate *RecordingDelegate
}

func (s *MockBLEPeripheralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 2 * time.Second
	s.OriginalDeviceFactory = goble.DeviceFactory
}

// SetupTest installs the mocked device and brings a manager to poweredOn.
func (s *MockBLEPeripheralSuite) SetupTest() {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = createDefaultPeripheralBuilder()
	}
	s.Peripheral = s.PeripheralBuilder.Build()
	goble.DeviceFactory = func() (goble.Device, error) {
		return s.Peripheral.Device, nil
	}

	// The manager is rebuilt per test so the helper must see the current T.
	s.Helper = NewTestHelper(s.T())
	s.Bridge = goble.NewBridge(s.Logger, s.TestTimeout)
	s.Delegate = NewRecordingDelegate()
	s.Central = s.Helper.NewCentral(s.Bridge, s.Delegate)
	s.WaitFor("state poweredOn")
}

func (s *MockBLEPeripheralSuite) TearDownTest() {
	if s.Central != nil {
		_ = s.Central.Close()
	}
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.PeripheralBuilder = nil
	s.Peripheral = nil
}

// WithPeripheral returns the builder for a custom peripheral. Call it before
// the parent SetupTest.
func (s *MockBLEPeripheralSuite) WithPeripheral(address string) *PeripheralDeviceBuilder {
	s.PeripheralBuilder = NewPeripheralDeviceBuilder(address)
	return s.PeripheralBuilder
}

// WaitFor pumps manager events on the test goroutine until entry has been
// recorded by the delegate.
func (s *MockBLEPeripheralSuite) WaitFor(entry string) {
	s.T().Helper()
	s.Require().Eventually(func() bool {
		s.Central.ProcessEvents()
		return slices.Contains(s.Delegate.Entries(), entry)
	}, s.TestTimeout, 2*time.Millisecond, "waiting for %q, got %v", entry, s.Delegate.Entries())
}

// createDefaultPeripheralBuilder describes a peripheral with Battery Service
// (180F) and Battery Level (2A19) at 50%.
func createDefaultPeripheralBuilder() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder("AA:BB:CC:DD:EE:FF").
		FromYAML(`
name: Battery
rssi: -50
advertised: ["180F"]
services:
  - uuid: "180F"
    characteristics:
      - uuid: "2A19"
        properties: read,notify
        value: "32"
`)
}
