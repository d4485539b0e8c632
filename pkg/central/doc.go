// Package central is a BLE central-role binding modeled on CoreBluetooth.
//
// A CentralManager owns a native handle obtained from a Bridge. Commands are
// forwarded to the bridge and return immediately; their outcomes arrive as
// events that the manager applies to its Peripheral, Service and
// Characteristic objects before invoking the registered delegates.
//
// Bridges may emit events from any goroutine. Events are queued per manager
// and applied on the owner goroutine by ProcessEvents or Run:
//
//	m, err := central.NewCentralManager(bridge, delegate, central.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer m.Close()
//	return m.Run(ctx)
//
// All entities are addressed by UUID strings. Service and characteristic
// UUIDs are compared in normalized form (see NormalizeUUID); peripheral
// identifiers are compared verbatim.
package central
