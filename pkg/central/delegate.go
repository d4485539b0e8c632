package central

// CentralManagerDelegate receives central-level events.
//
// CoreBluetooth marks every method except the state update as optional. Go
// interfaces have no optional methods, so all of them are required here;
// implementations supply empty bodies for the events they ignore.
//
// Delegates run on the goroutine that calls ProcessEvents or Run. They may
// read entity state and issue new commands, but must not retain or mutate
// the slices returned by entity accessors.
type CentralManagerDelegate interface {
	CentralManagerDidUpdateState(central *CentralManager)
	DidDiscoverPeripheral(central *CentralManager, peripheral *Peripheral)
	DidConnectPeripheral(central *CentralManager, peripheral *Peripheral)
	DidFailToConnectPeripheral(central *CentralManager, peripheral *Peripheral, err error)
	DidDisconnectPeripheral(central *CentralManager, peripheral *Peripheral, err error)
}

// PeripheralDelegate receives per-peripheral GATT events. A nil err means
// the operation succeeded. All methods are required, see
// CentralManagerDelegate.
type PeripheralDelegate interface {
	DidDiscoverServices(peripheral *Peripheral, err error)
	DidDiscoverCharacteristics(peripheral *Peripheral, service *Service, err error)
	DidUpdateValue(peripheral *Peripheral, characteristic *Characteristic, err error)
	DidWriteValue(peripheral *Peripheral, characteristic *Characteristic, err error)
	DidUpdateNotificationState(peripheral *Peripheral, characteristic *Characteristic, err error)
	DidReadRSSI(peripheral *Peripheral, rssi int, err error)
}
