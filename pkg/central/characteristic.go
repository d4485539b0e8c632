package central

import "fmt"

// Characteristic is a single data point within a Service.
type Characteristic struct {
	uuid        string
	service     *Service
	value       []byte
	isNotifying bool
}

func newCharacteristic(uuid string, service *Service) *Characteristic {
	return &Characteristic{uuid: uuid, service: service}
}

// UUID returns the characteristic UUID as reported by the bridge.
func (c *Characteristic) UUID() string {
	return c.uuid
}

// Service returns the service to which this characteristic belongs.
func (c *Characteristic) Service() *Service {
	return c.service
}

// Value returns the last value delivered by a read or a notification, or nil.
func (c *Characteristic) Value() []byte {
	return c.value
}

// IsNotifying reports the subscription state last confirmed by the native
// stack. Calling SetNotifyValue does not change it.
func (c *Characteristic) IsNotifying() bool {
	return c.isNotifying
}

// Properties queries the native stack for the characteristic properties.
// The result is never cached.
func (c *Characteristic) Properties() (CharacteristicProperties, error) {
	p := c.service.peripheral
	return p.central.characteristicProperties(p, c)
}

func (c *Characteristic) String() string {
	return fmt.Sprintf("Characteristic: uuid=%s, service=%s, notifying=%t", c.uuid, c.service.uuid, c.isNotifying)
}
