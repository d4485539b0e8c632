package testutils

import (
	"encoding/json"

	"github.com/srg/cbcentral/pkg/central"
)

type CentralJSON struct {
	State       string           `json:"state"`
	Peripherals []PeripheralJSON `json:"peripherals"`
}

type PeripheralJSON struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	State    string        `json:"state"`
	RSSI     *int          `json:"rssi,omitempty"`
	Services []ServiceJSON `json:"services"`
}

type ServiceJSON struct {
	UUID            string               `json:"uuid"`
	Characteristics []CharacteristicJSON `json:"characteristics"`
}

type CharacteristicJSON struct {
	UUID      string `json:"uuid"`
	Value     []int  `json:"value"`
	Notifying bool   `json:"notifying"`
}

// CentralToJSON renders the manager's entity graph. Values are emitted as
// integer arrays rather than base64 so expectations stay readable.
func CentralToJSON(m *central.CentralManager) string {
	c := CentralJSON{
		State:       m.State().String(),
		Peripherals: []PeripheralJSON{},
	}
	for _, p := range m.Peripherals() {
		c.Peripherals = append(c.Peripherals, peripheralJSON(p))
	}
	return MustJSON(c)
}

// PeripheralToJSON renders one peripheral with its services and
// characteristics.
func PeripheralToJSON(p *central.Peripheral) string {
	return MustJSON(peripheralJSON(p))
}

func peripheralJSON(p *central.Peripheral) PeripheralJSON {
	pj := PeripheralJSON{
		ID:       p.Identifier(),
		Name:     p.Name(),
		State:    p.State().String(),
		Services: []ServiceJSON{},
	}
	if rssi, ok := p.RSSI(); ok {
		pj.RSSI = &rssi
	}
	for _, s := range p.Services() {
		sj := ServiceJSON{UUID: s.UUID(), Characteristics: []CharacteristicJSON{}}
		for _, c := range s.Characteristics() {
			var value []int
			if v := c.Value(); v != nil {
				value = make([]int, len(v))
				for i, b := range v {
					value[i] = int(b)
				}
			}
			sj.Characteristics = append(sj.Characteristics, CharacteristicJSON{
				UUID:      c.UUID(),
				Value:     value,
				Notifying: c.IsNotifying(),
			})
		}
		pj.Services = append(pj.Services, sj)
	}
	return pj
}

// MustJSON marshals v or panics.
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
