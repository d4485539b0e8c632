package testutils

import (
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/srg/cbcentral/pkg/central"
)

// RecordingDelegate implements both delegate interfaces and records every
// callback as a one-line string, e.g. "connect AA" or "value 2a19 32 <nil>".
// OnEvent, when set, runs after the entry is recorded, still inside the
// callback, so tests can inspect state or issue nested commands.
type RecordingDelegate struct {
	mu      sync.Mutex
	entries []string
	errs    []error

	OnEvent func(entry string)
}

func NewRecordingDelegate() *RecordingDelegate {
	return &RecordingDelegate{}
}

// Entries returns a copy of the recorded callbacks in invocation order.
func (d *RecordingDelegate) Entries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.entries...)
}

// Errors returns the err arguments in invocation order. Callbacks without an
// err parameter record nothing here.
func (d *RecordingDelegate) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func (d *RecordingDelegate) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.errs = nil
}

func (d *RecordingDelegate) add(entry string) {
	d.mu.Lock()
	d.entries = append(d.entries, entry)
	d.mu.Unlock()
	if d.OnEvent != nil {
		d.OnEvent(entry)
	}
}

func (d *RecordingDelegate) addErr(err error, format string, args ...any) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
	d.add(fmt.Sprintf(format, args...) + " " + errString(err))
}

func errString(err error) string {
	if err == nil {
		return "<nil>"
	}
	return err.Error()
}

func (d *RecordingDelegate) CentralManagerDidUpdateState(c *central.CentralManager) {
	d.add("state " + c.State().String())
}

func (d *RecordingDelegate) DidDiscoverPeripheral(_ *central.CentralManager, p *central.Peripheral) {
	d.add(fmt.Sprintf("discover %s %s", p.Identifier(), p.Name()))
}

func (d *RecordingDelegate) DidConnectPeripheral(_ *central.CentralManager, p *central.Peripheral) {
	d.add("connect " + p.Identifier())
}

func (d *RecordingDelegate) DidFailToConnectPeripheral(_ *central.CentralManager, p *central.Peripheral, err error) {
	d.addErr(err, "fail-to-connect %s", p.Identifier())
}

func (d *RecordingDelegate) DidDisconnectPeripheral(_ *central.CentralManager, p *central.Peripheral, err error) {
	d.addErr(err, "disconnect %s", p.Identifier())
}

func (d *RecordingDelegate) DidDiscoverServices(p *central.Peripheral, err error) {
	d.addErr(err, "services %s %d", p.Identifier(), len(p.Services()))
}

func (d *RecordingDelegate) DidDiscoverCharacteristics(_ *central.Peripheral, s *central.Service, err error) {
	d.addErr(err, "characteristics %s %d", s.UUID(), len(s.Characteristics()))
}

func (d *RecordingDelegate) DidUpdateValue(_ *central.Peripheral, c *central.Characteristic, err error) {
	d.addErr(err, "value %s %s", c.UUID(), hex.EncodeToString(c.Value()))
}

func (d *RecordingDelegate) DidWriteValue(_ *central.Peripheral, c *central.Characteristic, err error) {
	d.addErr(err, "write %s", c.UUID())
}

func (d *RecordingDelegate) DidUpdateNotificationState(_ *central.Peripheral, c *central.Characteristic, err error) {
	d.addErr(err, "notifying %s %t", c.UUID(), c.IsNotifying())
}

func (d *RecordingDelegate) DidReadRSSI(p *central.Peripheral, rssi int, err error) {
	d.addErr(err, "rssi %s %d", p.Identifier(), rssi)
}
