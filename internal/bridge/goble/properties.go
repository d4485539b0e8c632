package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/cbcentral/pkg/central"
)

var propertyMap = []struct {
	ble  ble.Property
	prop central.CharacteristicProperties
}{
	{ble.CharBroadcast, central.PropertyBroadcast},
	{ble.CharRead, central.PropertyRead},
	{ble.CharWriteNR, central.PropertyWriteWithoutResponse},
	{ble.CharWrite, central.PropertyWrite},
	{ble.CharNotify, central.PropertyNotify},
	{ble.CharIndicate, central.PropertyIndicate},
	{ble.CharSignedWrite, central.PropertyAuthenticatedSignedWrites},
	{ble.CharExtended, central.PropertyExtendedProperties},
}

// FromBLEProperty converts go-ble characteristic properties.
func FromBLEProperty(p ble.Property) central.CharacteristicProperties {
	var props central.CharacteristicProperties
	for _, m := range propertyMap {
		if p&m.ble != 0 {
			props |= m.prop
		}
	}
	return props
}

// ToBLEProperty is the inverse of FromBLEProperty. Encryption-required
// flags have no go-ble equivalent and are dropped.
func ToBLEProperty(props central.CharacteristicProperties) ble.Property {
	var p ble.Property
	for _, m := range propertyMap {
		if props&m.prop != 0 {
			p |= m.ble
		}
	}
	return p
}
