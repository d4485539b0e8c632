package sim

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/srg/cbcentral/pkg/central"
	"gopkg.in/yaml.v3"
)

// Profile describes the simulated radio and the peripherals in range.
type Profile struct {
	// State is the manager state reported on registration.
	State string `yaml:"state" default:"poweredOn"`
	// Latency delays every simulated event.
	Latency     time.Duration       `yaml:"latency" default:"5ms"`
	Peripherals []PeripheralProfile `yaml:"peripherals"`
}

// PeripheralProfile is one simulated peripheral. An empty ID gets a random
// uppercase UUID, like a CoreBluetooth identifier.
type PeripheralProfile struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	RSSI       int      `yaml:"rssi" default:"-60"`
	Advertised []string `yaml:"advertised"`
	// ConnectError, when set, fails every connection with that error code.
	ConnectError *int             `yaml:"connect_error"`
	Services     []ServiceProfile `yaml:"services"`
}

type ServiceProfile struct {
	UUID            string                  `yaml:"uuid"`
	Characteristics []CharacteristicProfile `yaml:"characteristics"`
}

// CharacteristicProfile values are hex strings ("64", "0x0102").
type CharacteristicProfile struct {
	UUID       string `yaml:"uuid"`
	Properties string `yaml:"properties" default:"read"`
	Value      string `yaml:"value"`
	// Notify values are pushed, in order, once notifications are enabled.
	Notify     []string `yaml:"notify"`
	ReadError  *int     `yaml:"read_error"`
	WriteError *int     `yaml:"write_error"`
}

// LoadProfile reads a YAML profile from disk.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	return ParseProfile(data)
}

// ParseProfile decodes, defaults and validates a YAML profile.
func ParseProfile(data []byte) (*Profile, error) {
	p := &Profile{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	p.applyDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// applyDefaults fills tagged defaults on every nested entry and assigns
// missing identifiers.
func (p *Profile) applyDefaults() {
	defaults.SetDefaults(p)
	for i := range p.Peripherals {
		pp := &p.Peripherals[i]
		if pp.RSSI == 0 {
			pp.RSSI = -60
		}
		if pp.ID == "" {
			pp.ID = strings.ToUpper(uuid.NewString())
		}
		for j := range pp.Services {
			for k := range pp.Services[j].Characteristics {
				c := &pp.Services[j].Characteristics[k]
				if c.Properties == "" {
					c.Properties = "read"
				}
			}
		}
	}
}

// Validate reports the first structural problem in the profile.
func (p *Profile) Validate() error {
	if _, err := ParseState(p.State); err != nil {
		return err
	}
	if p.Latency < 0 {
		return errors.New("latency must not be negative")
	}
	seen := make(map[string]bool, len(p.Peripherals))
	for _, pp := range p.Peripherals {
		if seen[pp.ID] {
			return fmt.Errorf("duplicate peripheral id %q", pp.ID)
		}
		seen[pp.ID] = true
		for _, s := range pp.Services {
			if s.UUID == "" {
				return fmt.Errorf("peripheral %q: service without uuid", pp.ID)
			}
			for _, c := range s.Characteristics {
				if c.UUID == "" {
					return fmt.Errorf("peripheral %q: service %s: characteristic without uuid", pp.ID, s.UUID)
				}
				if _, err := central.ParseProperties(c.Properties); err != nil {
					return fmt.Errorf("characteristic %s: %w", c.UUID, err)
				}
				if _, err := DecodeHex(c.Value); err != nil {
					return fmt.Errorf("characteristic %s: %w", c.UUID, err)
				}
				for _, v := range c.Notify {
					if _, err := DecodeHex(v); err != nil {
						return fmt.Errorf("characteristic %s: notify: %w", c.UUID, err)
					}
				}
			}
		}
	}
	return nil
}

// ParseState maps a state name such as "poweredOn" to its value.
func ParseState(name string) (central.ManagerState, error) {
	for s := central.ManagerStateUnknown; s <= central.ManagerStatePoweredOn; s++ {
		if strings.EqualFold(s.String(), name) {
			return s, nil
		}
	}
	return central.ManagerStateUnknown, fmt.Errorf("unknown manager state %q", name)
}

// DecodeHex decodes "0x"-prefixed or bare hex, ignoring spaces and colons.
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex value %q: %w", s, err)
	}
	return b, nil
}
