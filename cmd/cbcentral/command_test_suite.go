package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/srg/cbcentral/internal/testutils"
	"github.com/stretchr/testify/suite"
)

// Peripherals of the built-in simulator profile.
const (
	hrmStrap   = "5A1C2D3E-0000-4000-8000-00000000A001"
	thermostat = "5A1C2D3E-0000-4000-8000-00000000B002"
)

// CommandTestSuite runs commands end to end against the simulated radio.
type CommandTestSuite struct {
	suite.Suite
	Text *testutils.TextAsserter
	JSON *testutils.JSONAsserter
}

func (s *CommandTestSuite) SetupTest() {
	s.Text = testutils.NewTextAsserter(s.T())
	s.JSON = testutils.NewJSONAsserter(s.T())
}

// ExecuteCommand runs a fresh command tree with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return buf.String(), err
}

// WriteConfig writes a YAML config file into a temp dir and returns its path.
func (s *CommandTestSuite) WriteConfig(yaml string) string {
	path := filepath.Join(s.T().TempDir(), "cbcentral.yaml")
	s.Require().NoError(os.WriteFile(path, []byte(yaml), 0o600))
	return path
}
