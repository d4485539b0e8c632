package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRSSICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rssi <peripheral-id>",
		Short: "Read the RSSI of a connected peripheral",
		Args:  cobra.ExactArgs(1),
		RunE:  runRSSI,
	}
}

func runRSSI(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	p, err := s.connect(ctx, args[0])
	if err != nil {
		return err
	}
	defer s.disconnect(ctx, p)

	var rssi int
	err = s.wait(ctx, &step{peripheral: p, match: func(cb callback) bool {
		if cb.kind == "rssi" && cb.peripheral == p {
			rssi = cb.rssi
			return true
		}
		return false
	}}, p.ReadRSSI)
	if err != nil {
		return fmt.Errorf("read rssi: %w", err)
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%d dBm\n", rssi)
	return err
}
