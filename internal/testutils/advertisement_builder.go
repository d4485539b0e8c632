package testutils

import (
	"github.com/go-ble/ble"
	"github.com/srg/cbcentral/internal/testutils/mocks"
)

// AdvertisementBuilder builds mocked go-ble advertisements for testing.
// Only explicitly configured fields get mock expectations; Services always
// answers so scan filters can inspect it.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	connectable bool

	nameSet        bool
	rssiSet        bool
	connectableSet bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	b.nameSet = true
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	b.rssiSet = true
	return b
}

// WithServices adds advertised service UUIDs ("180D" or full form).
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	return b
}

// WithConnectable sets whether the device accepts connections.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	b.connectableSet = true
	return b
}

// Build creates a MockAdvertisement. Expectations are optional so a filtered
// scan that never asks for the name does not fail AssertExpectations.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	adv := &mocks.MockAdvertisement{}

	var services []ble.UUID
	for _, s := range b.services {
		services = append(services, ble.MustParse(s))
	}

	addr := &mocks.MockAddr{}
	addr.On("String").Return(b.address).Maybe()
	adv.On("Addr").Return(addr).Maybe()
	adv.On("Services").Return(services).Maybe()

	if b.nameSet {
		adv.On("LocalName").Return(b.name).Maybe()
	} else {
		adv.On("LocalName").Return("").Maybe()
	}
	if b.rssiSet {
		adv.On("RSSI").Return(b.rssi).Maybe()
	}
	if b.connectableSet {
		adv.On("Connectable").Return(b.connectable).Maybe()
	}
	return adv
}
