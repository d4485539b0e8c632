package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/cbcentral/internal/bridge/sim"
	"github.com/srg/cbcentral/pkg/central"
)

func newWriteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "write <peripheral-id> <service-uuid> <characteristic-uuid> <hex-value>",
		Short: "Write a characteristic value",
		Long: `Connects to a peripheral and writes a hex encoded value to a
characteristic. The value accepts an optional 0x prefix and ':' or space
separators.`,
		Args: cobra.ExactArgs(4),
		RunE: runWrite,
	}
	cmd.Flags().Bool("without-response", false, "Write without response")
	return cmd
}

func runWrite(cmd *cobra.Command, args []string) error {
	data, err := sim.DecodeHex(args[3])
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", args[3], err)
	}
	withoutResponse, _ := cmd.Flags().GetBool("without-response")

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

	if withoutResponse {
		// No completion callback is delivered for this write type.
		if err := p.WriteValue(data, c, central.WriteWithoutResponse); err != nil {
			return fmt.Errorf("write %s: %w", c.UUID(), err)
		}
	} else {
		err = s.wait(ctx, &step{peripheral: p, match: func(cb callback) bool {
			return cb.kind == "write" && cb.characteristic == c
		}}, func() error { return p.WriteValue(data, c, central.WriteWithResponse) })
		if err != nil {
			return fmt.Errorf("write %s: %w", c.UUID(), err)
		}
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes to %s\n", len(data), c.UUID())
	return err
}
