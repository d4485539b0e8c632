package central

import (
	"fmt"
	"strings"
)

// CharacteristicProperties is the bitset of CBCharacteristicProperties.
// The low byte matches the GATT characteristic properties field.
type CharacteristicProperties uint32

const (
	PropertyBroadcast                  CharacteristicProperties = 1 << 0
	PropertyRead                       CharacteristicProperties = 1 << 1
	PropertyWriteWithoutResponse       CharacteristicProperties = 1 << 2
	PropertyWrite                      CharacteristicProperties = 1 << 3
	PropertyNotify                     CharacteristicProperties = 1 << 4
	PropertyIndicate                   CharacteristicProperties = 1 << 5
	PropertyAuthenticatedSignedWrites  CharacteristicProperties = 1 << 6
	PropertyExtendedProperties         CharacteristicProperties = 1 << 7
	PropertyNotifyEncryptionRequired   CharacteristicProperties = 1 << 8
	PropertyIndicateEncryptionRequired CharacteristicProperties = 1 << 9
)

// propertyNames is ordered by bit position; String and Names rely on it.
var propertyNames = []struct {
	flag CharacteristicProperties
	name string
}{
	{PropertyBroadcast, "broadcast"},
	{PropertyRead, "read"},
	{PropertyWriteWithoutResponse, "writeWithoutResponse"},
	{PropertyWrite, "write"},
	{PropertyNotify, "notify"},
	{PropertyIndicate, "indicate"},
	{PropertyAuthenticatedSignedWrites, "authenticatedSignedWrites"},
	{PropertyExtendedProperties, "extendedProperties"},
	{PropertyNotifyEncryptionRequired, "notifyEncryptionRequired"},
	{PropertyIndicateEncryptionRequired, "indicateEncryptionRequired"},
}

// Has reports whether all bits of flag are set.
func (p CharacteristicProperties) Has(flag CharacteristicProperties) bool {
	return flag != 0 && p&flag == flag
}

// Names returns the names of the set flags in bit order.
func (p CharacteristicProperties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.flag != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p CharacteristicProperties) String() string {
	return strings.Join(p.Names(), ",")
}

// ParseProperties parses a comma-separated list such as "read,notify".
// Matching is case-insensitive; "writeNR" and "write-without-response" are
// accepted as aliases.
func ParseProperties(s string) (CharacteristicProperties, error) {
	var props CharacteristicProperties
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		flag, ok := lookupProperty(part)
		if !ok {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
		props |= flag
	}
	return props, nil
}

func lookupProperty(name string) (CharacteristicProperties, bool) {
	key := strings.ToLower(strings.ReplaceAll(name, "-", ""))
	switch key {
	case "writenr", "writewithoutresponse":
		return PropertyWriteWithoutResponse, true
	case "signedwrite":
		return PropertyAuthenticatedSignedWrites, true
	}
	for _, pn := range propertyNames {
		if strings.ToLower(pn.name) == key {
			return pn.flag, true
		}
	}
	return 0, false
}

// WriteType selects between acknowledged and unacknowledged writes.
type WriteType int

const (
	WriteWithResponse WriteType = iota
	WriteWithoutResponse
)

func (t WriteType) String() string {
	switch t {
	case WriteWithResponse:
		return "withResponse"
	case WriteWithoutResponse:
		return "withoutResponse"
	default:
		return fmt.Sprintf("WriteType(%d)", int(t))
	}
}
