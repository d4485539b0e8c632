package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/cbcentral/pkg/central"
)

func newSubscribeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subscribe <peripheral-id> <service-uuid> <characteristic-uuid>",
		Short: "Print characteristic notifications",
		Long: `Connects to a peripheral, enables notifications on a characteristic
and prints every value update as hex until the duration elapses, the
requested number of values arrived, or Ctrl+C is pressed.`,
		Args: cobra.ExactArgs(3),
		RunE: runSubscribe,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Stop after this long (0 for indefinite)")
	cmd.Flags().IntP("count", "n", 0, "Stop after this many values (0 for unlimited)")
	return cmd
}

func runSubscribe(cmd *cobra.Command, args []string) error {
	duration, _ := cmd.Flags().GetDuration("duration")
	count, _ := cmd.Flags().GetInt("count")
	if count < 0 {
		return fmt.Errorf("invalid count %d", count)
	}

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

	listenCtx := ctx
	if duration > 0 {
		var cancel context.CancelFunc
		listenCtx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	received := 0
	err = s.wait(listenCtx, &step{peripheral: p, match: func(cb callback) bool {
		if cb.characteristic != c {
			return false
		}
		switch cb.kind {
		case "notifying":
			// Only a refusal ends the step.
			return cb.err != nil
		case "value":
			if cb.err != nil {
				s.logger.WithError(cb.err).Warn("Value update failed")
				return false
			}
			received++
			fmt.Fprintln(out, hex.EncodeToString(c.Value()))
			return count > 0 && received >= count
		}
		return false
	}}, func() error { return p.SetNotifyValue(true, c) })
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("subscribe %s: %w", c.UUID(), err)
	}

	if p.State() == central.PeripheralStateConnected && c.IsNotifying() {
		_ = p.SetNotifyValue(false, c)
	}
	return nil
}
