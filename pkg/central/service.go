package central

import "fmt"

// Service groups related characteristics on a Peripheral. Its UUID is unique
// within the owning peripheral only.
type Service struct {
	uuid            string
	peripheral      *Peripheral
	characteristics []*Characteristic
}

func newService(uuid string, peripheral *Peripheral) *Service {
	return &Service{uuid: uuid, peripheral: peripheral}
}

func (s *Service) UUID() string {
	return s.uuid
}

// Peripheral returns the peripheral to which this service belongs.
func (s *Service) Peripheral() *Peripheral {
	return s.peripheral
}

// Characteristics returns the characteristics from the last successful
// discovery for this service, in discovery order.
func (s *Service) Characteristics() []*Characteristic {
	return s.characteristics
}

// Characteristic looks up a characteristic of this service by UUID.
func (s *Service) Characteristic(uuid string) (*Characteristic, bool) {
	key := NormalizeUUID(uuid)
	for _, c := range s.characteristics {
		if NormalizeUUID(c.uuid) == key {
			return c, true
		}
	}
	return nil, false
}

func (s *Service) String() string {
	return fmt.Sprintf("Service: uuid=%s, characteristics=%d", s.uuid, len(s.characteristics))
}

// replaceCharacteristics installs a new characteristic set in the given
// order. Existing objects with a matching UUID are kept so cached values and
// subscription state survive re-discovery. Duplicate ids are skipped.
func (s *Service) replaceCharacteristics(ids []string) {
	next := make([]*Characteristic, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		key := NormalizeUUID(id)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if c, ok := s.Characteristic(id); ok {
			next = append(next, c)
			continue
		}
		next = append(next, newCharacteristic(id, s))
	}
	s.characteristics = next
}
