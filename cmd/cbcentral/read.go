package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <peripheral-id> <service-uuid> <characteristic-uuid>",
		Short: "Read a characteristic value",
		Long: `Connects to a peripheral, resolves the characteristic and prints its
value as hex.`,
		Args: cobra.ExactArgs(3),
		RunE: runRead,
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	p, c, err := s.characteristic(ctx, args[0], args[1], args[2])
	if p != nil {
		defer s.disconnect(ctx, p)
	}
	if err != nil {
		return err
	}

	value, err := s.read(ctx, p, c)
	if err != nil {
		return fmt.Errorf("read %s: %w", c.UUID(), err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(value))
	return err
}
