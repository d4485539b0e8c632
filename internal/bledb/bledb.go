// Package bledb names well-known Bluetooth SIG assigned numbers.
package bledb

import (
	"encoding/binary"
	"strconv"

	"github.com/srg/cbcentral/pkg/central"
)

// Keys are normalized 16-bit UUIDs.
var services = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"1816": "Cycling Speed and Cadence",
	"181a": "Environmental Sensing",
	"181c": "User Data",
}

var characteristics = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a04": "Peripheral Preferred Connection Parameters",
	"2a05": "Service Changed",
	"2a19": "Battery Level",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a39": "Heart Rate Control Point",
	"2a5b": "CSC Measurement",
	"2a6e": "Temperature",
	"2a6f": "Humidity",
}

// Appearance category values (upper 10 bits of the Appearance value).
var appearances = map[uint16]string{
	0x000: "Unknown",
	0x001: "Phone",
	0x002: "Computer",
	0x003: "Watch",
	0x00d: "Heart Rate Sensor",
	0x00f: "Thermometer",
	0x012: "Cycling",
}

// LookupService returns the assigned name of a service UUID, or "".
func LookupService(uuid string) string {
	return services[central.NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the assigned name of a characteristic UUID,
// or "".
func LookupCharacteristic(uuid string) string {
	return characteristics[central.NormalizeUUID(uuid)]
}

// LookupAppearanceCode returns the category name of an Appearance value.
func LookupAppearanceCode(code uint16) string {
	return appearances[code>>6]
}

// DescribeValue renders values of characteristics whose format is fixed by
// the assigned numbers. ok is false when uuid has no known format or the
// value does not fit it.
func DescribeValue(uuid string, value []byte) (string, bool) {
	switch central.NormalizeUUID(uuid) {
	case "2a19":
		if len(value) != 1 {
			return "", false
		}
		return strconv.Itoa(int(value[0])) + "%", true
	case "2a01":
		if len(value) != 2 {
			return "", false
		}
		name := LookupAppearanceCode(binary.LittleEndian.Uint16(value))
		return name, name != ""
	case "2a00", "2a24", "2a25", "2a26", "2a27", "2a28", "2a29":
		return string(value), len(value) > 0
	}
	return "", false
}
