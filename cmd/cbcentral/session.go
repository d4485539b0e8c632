package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/cbcentral/internal/bridge/goble"
	"github.com/srg/cbcentral/internal/bridge/sim"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/srg/cbcentral/pkg/config"
)

// builtinProfile selects the embedded simulator profile.
const builtinProfile = "builtin"

var errStepDone = errors.New("step done")

// callback is one delegate invocation, flattened.
type callback struct {
	kind           string
	peripheral     *central.Peripheral
	service        *central.Service
	characteristic *central.Characteristic
	rssi           int
	err            error
}

// step is the command the session is currently waiting on.
type step struct {
	// match reports whether cb completes the step.
	match func(cb callback) bool
	// watch, if set, sees every callback before match.
	watch func(cb callback)
	// peripheral, if set, fails the step when it disconnects.
	peripheral *central.Peripheral

	done   context.CancelCauseFunc
	result error
}

// session owns one CentralManager and drives it from the command goroutine.
// Every wait issues a command, then runs the manager until a delegate
// callback completes the step.
type session struct {
	cfg     *config.Config
	logger  *logrus.Logger
	bridge  central.Bridge
	central *central.CentralManager
	current *step
}

// openSession loads configuration, picks the bridge and waits for the
// radio to report poweredOn.
func openSession(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	var bridge central.Bridge
	switch cfg.Bridge {
	case config.BridgeSim:
		profile := sim.DefaultProfile()
		if cfg.SimProfile != "" && cfg.SimProfile != builtinProfile {
			if profile, err = sim.LoadProfile(cfg.SimProfile); err != nil {
				return nil, err
			}
		}
		bridge = sim.NewBridge(profile, logger)
	default:
		bridge = goble.NewBridge(logger, cfg.ConnectTimeout)
	}

	s := &session{cfg: cfg, logger: logger, bridge: bridge}
	m, err := central.NewCentralManager(bridge, s, cfg.CentralOptions(logger)...)
	if err != nil {
		return nil, err
	}
	s.central = m

	waitCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	err = s.wait(waitCtx, &step{match: func(cb callback) bool {
		return cb.kind == "state" && m.State() != central.ManagerStateUnknown
	}}, nil)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("waiting for bluetooth: %w", err)
	}
	if m.State() != central.ManagerStatePoweredOn {
		_ = m.Close()
		return nil, fmt.Errorf("%w (state %s)", central.ErrNotPoweredOn, m.State())
	}
	return s, nil
}

func (s *session) Close() error {
	return s.central.Close()
}

// wait issues the command and runs the manager until st completes, ctx ends
// or the awaited peripheral disconnects.
func (s *session) wait(ctx context.Context, st *step, issue func() error) error {
	stepCtx, done := context.WithCancelCause(ctx)
	defer done(nil)
	st.done = done
	s.current = st
	defer func() { s.current = nil }()

	if issue != nil {
		if err := issue(); err != nil {
			return err
		}
	}
	if err := s.central.Run(stepCtx); err != nil && !errors.Is(context.Cause(stepCtx), errStepDone) {
		return err
	}
	if errors.Is(context.Cause(stepCtx), errStepDone) {
		return st.result
	}
	return ErrSessionClosed
}

func (s *session) dispatch(cb callback) {
	st := s.current
	if st == nil {
		return
	}
	if st.watch != nil {
		st.watch(cb)
	}
	if st.peripheral != nil && cb.kind == "disconnect" && cb.peripheral == st.peripheral {
		st.result = fmt.Errorf("%w: %s", ErrConnectionLost, cb.peripheral.Identifier())
		if cb.err != nil {
			st.result = fmt.Errorf("%w: %w", st.result, cb.err)
		}
		st.done(errStepDone)
		return
	}
	if st.match != nil && st.match(cb) {
		st.result = cb.err
		st.done(errStepDone)
	}
}

// find returns the peripheral with id, scanning for it when the bridge does
// not know it yet.
func (s *session) find(ctx context.Context, id string) (*central.Peripheral, error) {
	ps, err := s.central.RetrievePeripheralsWithIdentifiers(id)
	if err != nil {
		return nil, err
	}
	if len(ps) > 0 {
		return ps[0], nil
	}

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()
	defer func() { _ = s.central.StopScan() }()

	var found *central.Peripheral
	err = s.wait(scanCtx, &step{match: func(cb callback) bool {
		if cb.kind == "discover" && central.SameUUID(cb.peripheral.Identifier(), id) {
			found = cb.peripheral
			return true
		}
		return false
	}}, func() error { return s.central.ScanForPeripherals() })
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s", ErrPeripheralNotFound, id)
	}
	return found, err
}

// connect finds and connects the peripheral, installing the session as its
// delegate.
func (s *session) connect(ctx context.Context, id string) (*central.Peripheral, error) {
	p, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	p.SetDelegate(s)

	connectCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	err = s.wait(connectCtx, &step{match: func(cb callback) bool {
		return cb.peripheral == p && (cb.kind == "connect" || cb.kind == "fail-to-connect")
	}}, func() error { return s.central.Connect(p) })
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}
	return p, nil
}

func (s *session) disconnect(ctx context.Context, p *central.Peripheral) {
	if p.State() == central.PeripheralStateDisconnected {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = s.wait(ctx, &step{match: func(cb callback) bool {
		return cb.kind == "disconnect" && cb.peripheral == p
	}}, func() error { return s.central.CancelPeripheralConnection(p) })
}

// discover runs service discovery and characteristic discovery for each
// service found. Filters are optional. A discovery that finds nothing leaves
// the peripheral without those attributes; callers decide whether that is an
// error. Each wait is bounded by the connect timeout.
func (s *session) discover(ctx context.Context, p *central.Peripheral, serviceUUIDs []string, characteristicUUIDs []string) error {
	err := s.discoveryWait(ctx, &step{peripheral: p, match: func(cb callback) bool {
		return cb.kind == "services" && cb.peripheral == p
	}}, func() error { return p.DiscoverServices(serviceUUIDs...) })
	if err != nil {
		return fmt.Errorf("discover services: %w", err)
	}
	for _, svc := range p.Services() {
		err := s.discoveryWait(ctx, &step{peripheral: p, match: func(cb callback) bool {
			return cb.kind == "characteristics" && cb.service == svc
		}}, func() error { return p.DiscoverCharacteristics(svc, characteristicUUIDs...) })
		if err != nil {
			return fmt.Errorf("discover characteristics of %s: %w", svc.UUID(), err)
		}
	}
	return nil
}

// discoveryWait waits for one discovery event. Bridges complete a discovery
// that found nothing with invalidParameters, which is not a failure here.
func (s *session) discoveryWait(ctx context.Context, st *step, issue func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	err := s.wait(ctx, st, issue)
	if errors.Is(err, central.ErrInvalidParameters) {
		return nil
	}
	return err
}

// characteristic connects and resolves (service, characteristic).
func (s *session) characteristic(ctx context.Context, id, serviceUUID, characteristicUUID string) (*central.Peripheral, *central.Characteristic, error) {
	p, err := s.connect(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := s.discover(ctx, p, []string{serviceUUID}, []string{characteristicUUID}); err != nil {
		return p, nil, err
	}
	if _, ok := p.Service(serviceUUID); !ok {
		return p, nil, &central.NotFoundError{
			Resource: "service",
			UUIDs:    []string{id, serviceUUID},
		}
	}
	c, ok := p.Characteristic(serviceUUID, characteristicUUID)
	if !ok {
		return p, nil, &central.NotFoundError{
			Resource: "characteristic",
			UUIDs:    []string{id, serviceUUID, characteristicUUID},
		}
	}
	return p, c, nil
}

func (s *session) read(ctx context.Context, p *central.Peripheral, c *central.Characteristic) ([]byte, error) {
	err := s.wait(ctx, &step{peripheral: p, match: func(cb callback) bool {
		return cb.kind == "value" && cb.characteristic == c
	}}, func() error { return p.ReadValue(c) })
	if err != nil {
		return nil, err
	}
	return c.Value(), nil
}

func (s *session) CentralManagerDidUpdateState(m *central.CentralManager) {
	s.logger.WithField("state", m.State().String()).Debug("Central state updated")
	s.dispatch(callback{kind: "state"})
}

func (s *session) DidDiscoverPeripheral(_ *central.CentralManager, p *central.Peripheral) {
	s.dispatch(callback{kind: "discover", peripheral: p})
}

func (s *session) DidConnectPeripheral(_ *central.CentralManager, p *central.Peripheral) {
	s.dispatch(callback{kind: "connect", peripheral: p})
}

func (s *session) DidFailToConnectPeripheral(_ *central.CentralManager, p *central.Peripheral, err error) {
	if err == nil {
		err = central.ErrConnectionFailed
	}
	s.dispatch(callback{kind: "fail-to-connect", peripheral: p, err: err})
}

func (s *session) DidDisconnectPeripheral(_ *central.CentralManager, p *central.Peripheral, err error) {
	s.dispatch(callback{kind: "disconnect", peripheral: p, err: err})
}

func (s *session) DidDiscoverServices(p *central.Peripheral, err error) {
	s.dispatch(callback{kind: "services", peripheral: p, err: err})
}

func (s *session) DidDiscoverCharacteristics(p *central.Peripheral, svc *central.Service, err error) {
	s.dispatch(callback{kind: "characteristics", peripheral: p, service: svc, err: err})
}

func (s *session) DidUpdateValue(p *central.Peripheral, c *central.Characteristic, err error) {
	s.dispatch(callback{kind: "value", peripheral: p, characteristic: c, err: err})
}

func (s *session) DidWriteValue(p *central.Peripheral, c *central.Characteristic, err error) {
	s.dispatch(callback{kind: "write", peripheral: p, characteristic: c, err: err})
}

func (s *session) DidUpdateNotificationState(p *central.Peripheral, c *central.Characteristic, err error) {
	s.dispatch(callback{kind: "notifying", peripheral: p, characteristic: c, err: err})
}

func (s *session) DidReadRSSI(p *central.Peripheral, rssi int, err error) {
	s.dispatch(callback{kind: "rssi", peripheral: p, rssi: rssi, err: err})
}
