package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/cbcentral/internal/bridge/goble"
	"github.com/srg/cbcentral/internal/bridge/sim"
	"github.com/srg/cbcentral/internal/testutils/mocks"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/stretchr/testify/mock"
	"gopkg.in/yaml.v3"
)

// PeripheralDeviceBuilder describes one peripheral once and renders it either
// as a mocked go-ble device or as a simulator profile entry.
type PeripheralDeviceBuilder struct {
	profile        sim.PeripheralProfile
	advertisements []*AdvertisementBuilder
}

// NewPeripheralDeviceBuilder creates a builder for a peripheral at address id.
func NewPeripheralDeviceBuilder(id string) *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{
		profile: sim.PeripheralProfile{ID: id, RSSI: -60},
	}
}

// WithName sets the advertised local name.
func (b *PeripheralDeviceBuilder) WithName(name string) *PeripheralDeviceBuilder {
	b.profile.Name = name
	return b
}

// WithRSSI sets the RSSI reported by ReadRSSI.
func (b *PeripheralDeviceBuilder) WithRSSI(rssi int) *PeripheralDeviceBuilder {
	b.profile.RSSI = rssi
	return b
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, sim.ServiceProfile{UUID: uuid})
	b.profile.Advertised = append(b.profile.Advertised, uuid)
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
// properties is a list such as "read,notify"; value is hex.
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties, value string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, sim.CharacteristicProfile{
		UUID:       uuid,
		Properties: properties,
		Value:      value,
	})
	return b
}

// FromYAML replaces the profile with a simulator peripheral entry.
func (b *PeripheralDeviceBuilder) FromYAML(yamlStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	var p sim.PeripheralProfile
	if err := yaml.Unmarshal([]byte(fmt.Sprintf(yamlStrFmt, args...)), &p); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromYAML: failed to unmarshal: %v", err))
	}
	if p.ID == "" {
		p.ID = b.profile.ID
	}
	b.profile = p
	return b
}

// Profile returns the simulator rendition.
func (b *PeripheralDeviceBuilder) Profile() sim.PeripheralProfile {
	return b.profile
}

// Advertisement returns the scan advertisement for this peripheral.
func (b *PeripheralDeviceBuilder) Advertisement() *mocks.MockAdvertisement {
	return NewAdvertisementBuilder().
		WithAddress(b.profile.ID).
		WithName(b.profile.Name).
		WithRSSI(b.profile.RSSI).
		WithServices(b.profile.Advertised...).
		Build()
}

// PeripheralDevice is a mocked go-ble device with one reachable peripheral.
type PeripheralDevice struct {
	Device   *mocks.MockDevice
	Client   *mocks.MockClient
	Services []*ble.Service

	mu       sync.Mutex
	handlers map[string]ble.NotificationHandler
}

// Build creates the mocked device. Scan reports the peripheral and then
// blocks until the scan context ends, like a real radio.
func (b *PeripheralDeviceBuilder) Build() *PeripheralDevice {
	d := &PeripheralDevice{
		Device:   &mocks.MockDevice{},
		Client:   mocks.NewMockClient(),
		handlers: map[string]ble.NotificationHandler{},
	}

	for _, sp := range b.profile.Services {
		svc := &ble.Service{UUID: ble.MustParse(sp.UUID)}
		for _, cp := range sp.Characteristics {
			props, err := central.ParseProperties(cp.Properties)
			if err != nil {
				panic(err)
			}
			value, err := sim.DecodeHex(cp.Value)
			if err != nil {
				panic(err)
			}
			svc.Characteristics = append(svc.Characteristics, &ble.Characteristic{
				UUID:     ble.MustParse(cp.UUID),
				Property: goble.ToBLEProperty(props),
				Value:    value,
			})
		}
		d.Services = append(d.Services, svc)
	}

	adv := b.Advertisement()
	d.Device.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ctx := args.Get(0).(context.Context)
			handler := args.Get(2).(ble.AdvHandler)
			handler(adv)
			<-ctx.Done()
		}).
		Return(context.Canceled).Maybe()
	d.Device.On("Dial", mock.Anything, mock.Anything).Return(d.Client, nil).Maybe()
	d.Device.On("Stop").Return(nil).Maybe()

	d.Client.On("DiscoverServices", mock.Anything).Return(d.Services, nil).Maybe()
	d.Client.On("CancelConnection").Return(nil).Maybe()
	d.Client.On("ReadRSSI").Return(b.profile.RSSI).Maybe()

	for _, svc := range d.Services {
		d.Client.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil).Maybe()
		for _, c := range svc.Characteristics {
			if c.Property&ble.CharRead != 0 {
				d.Client.On("ReadCharacteristic", c).Return(c.Value, nil).Maybe()
			} else {
				d.Client.On("ReadCharacteristic", c).Return(nil, fmt.Errorf("characteristic does not support read")).Maybe()
			}
			d.Client.On("WriteCharacteristic", c, mock.Anything, mock.Anything).Return(nil).Maybe()
			d.Client.On("Subscribe", c, mock.Anything, mock.Anything).
				Run(func(args mock.Arguments) {
					d.mu.Lock()
					defer d.mu.Unlock()
					d.handlers[central.NormalizeUUID(c.UUID.String())] = args.Get(2).(ble.NotificationHandler)
				}).
				Return(nil).Maybe()
			d.Client.On("Unsubscribe", c, mock.Anything).
				Run(func(args mock.Arguments) {
					d.mu.Lock()
					defer d.mu.Unlock()
					delete(d.handlers, central.NormalizeUUID(c.UUID.String()))
				}).
				Return(nil).Maybe()
		}
	}
	return d
}

// Notify pushes value to the subscription handler of characteristicUUID.
// It reports false when nothing is subscribed.
func (d *PeripheralDevice) Notify(characteristicUUID string, value []byte) bool {
	d.mu.Lock()
	h, ok := d.handlers[central.NormalizeUUID(characteristicUUID)]
	d.mu.Unlock()
	if ok {
		h(value)
	}
	return ok
}

// Subscribed reports whether characteristicUUID has an active subscription.
func (d *PeripheralDevice) Subscribed(characteristicUUID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[central.NormalizeUUID(characteristicUUID)]
	return ok
}
