package testutils

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/cbcentral/pkg/central"
	"github.com/stretchr/testify/require"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewCentral creates a manager over bridge and closes it when the test ends.
func (h *TestHelper) NewCentral(bridge central.Bridge, delegate central.CentralManagerDelegate, opts ...central.Option) *central.CentralManager {
	h.T.Helper()
	opts = append([]central.Option{central.WithLogger(h.Logger)}, opts...)
	m, err := central.NewCentralManager(bridge, delegate, opts...)
	require.NoError(h.T, err)
	h.T.Cleanup(func() { _ = m.Close() })
	return m
}

// PoweredOnCentral creates a manager over a MockBridge and applies a
// poweredOn state event.
func (h *TestHelper) PoweredOnCentral(delegate central.CentralManagerDelegate) (*central.CentralManager, *MockBridge) {
	h.T.Helper()
	bridge := NewMockBridge()
	m := h.NewCentral(bridge, delegate)
	bridge.EmitState(m.Handle(), central.ManagerStatePoweredOn)
	require.Equal(h.T, 1, m.ProcessEvents())
	require.Equal(h.T, central.ManagerStatePoweredOn, m.State())
	return m, bridge
}

// LoadFixture reads a file relative to the project root.
func LoadFixture(relPath string) (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	projectRoot := wd
	for {
		if _, err := os.Stat(filepath.Join(projectRoot, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(projectRoot)
		if parent == projectRoot {
			return "", fmt.Errorf("could not find project root (go.mod not found)")
		}
		projectRoot = parent
	}

	fullPath := filepath.Join(projectRoot, relPath)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", fullPath, err)
	}
	return string(data), nil
}
