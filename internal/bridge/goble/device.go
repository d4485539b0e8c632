package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Device is the part of ble.Device the bridge drives.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, addr ble.Addr) (Client, error)
	Stop() error
}

// Client is the part of ble.Client the bridge drives.
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	Unsubscribe(c *ble.Characteristic, ind bool) error
	ReadRSSI() int
	CancelConnection() error
}

// bleDevice wraps ble.Device so Dial returns the narrow Client.
type bleDevice struct {
	dev ble.Device
}

func (d *bleDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return d.dev.Scan(ctx, allowDup, h)
}

func (d *bleDevice) Dial(ctx context.Context, addr ble.Addr) (Client, error) {
	c, err := d.dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *bleDevice) Stop() error {
	return d.dev.Stop()
}

// DeviceFactory creates the platform BLE device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (Device, error) {
	dev, err := newPlatformDevice()
	if err != nil {
		return nil, err
	}
	return &bleDevice{dev: dev}, nil
}

// ErrBluetoothOff is reported when the adapter exists but is powered off.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// ErrUnsupported is reported on platforms without a go-ble backend.
var ErrUnsupported = errors.New("bluetooth is not supported on this platform")

// NormalizeError maps known go-ble error strings to sentinel errors. The
// original error stays in the chain.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "have=4 want=5"), strings.Contains(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %w", ErrBluetoothOff, err)
	default:
		return err
	}
}

// parseUUIDs converts a UUID filter. Empty input yields a nil filter, which
// go-ble treats as "all".
func parseUUIDs(uuids []string) ([]ble.UUID, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	result := make([]ble.UUID, 0, len(uuids))
	for _, s := range uuids {
		u, err := parseUUID(s)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, nil
}

func parseUUID(s string) (ble.UUID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	u, err := ble.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return u, nil
}
