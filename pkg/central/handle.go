package central

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// nativeHandle owns one native central manager handle. It is released
// exactly once, either by CentralManager.Close or by the cleanup attached to
// an unreachable manager.
type nativeHandle struct {
	bridge   Bridge
	h        Handle
	released atomic.Bool
	once     sync.Once
}

func acquireHandle(bridge Bridge) (*nativeHandle, error) {
	if bridge == nil {
		return nil, fmt.Errorf("%w: bridge is nil", ErrHandleAllocation)
	}
	h, err := bridge.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandleAllocation, err)
	}
	if h == 0 {
		return nil, ErrHandleAllocation
	}
	return &nativeHandle{bridge: bridge, h: h}, nil
}

func (n *nativeHandle) value() Handle {
	return n.h
}

func (n *nativeHandle) disposed() bool {
	return n.released.Load()
}

// release frees the native handle. It reports whether this call did the
// release; later calls are no-ops.
func (n *nativeHandle) release() bool {
	first := false
	n.once.Do(func() {
		// Mark first so events racing with the release are dropped.
		n.released.Store(true)
		unregister(n.bridge, n.h)
		n.bridge.Release(n.h)
		first = true
	})
	return first
}
