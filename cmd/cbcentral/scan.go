package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// discovered is one scan result row.
type discovered struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Sightings int    `json:"sightings"`
}

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan for BLE peripherals",
		Long: `Scan for and display Bluetooth Low Energy peripherals in the vicinity.

Peripherals are listed in the order they were first discovered. Use
--services to only report peripherals advertising one of the given
service UUIDs.`,
		Args: cobra.NoArgs,
		RunE: runScan,
	}
	cmd.Flags().DurationP("duration", "d", 0, "Scan duration (default: scan_timeout from config)")
	cmd.Flags().StringP("format", "f", "", "Output format (table, json)")
	cmd.Flags().StringSliceP("services", "s", nil, "Filter by service UUIDs")
	return cmd
}

func runScan(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != "" && format != "table" && format != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", format)
	}
	services, _ := cmd.Flags().GetStringSlice("services")
	duration, _ := cmd.Flags().GetDuration("duration")

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if format == "" {
		format = s.cfg.OutputFormat
	}
	if duration <= 0 {
		duration = s.cfg.ScanTimeout
	}

	found, err := s.scan(cmd.Context(), duration, services)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return displayPeripheralsJSON(out, found)
	}
	return displayPeripheralsTable(out, found)
}

// scan collects discoveries until duration elapses, keyed by identifier in
// first-seen order.
func (s *session) scan(ctx context.Context, duration time.Duration, services []string) (*orderedmap.OrderedMap[string, *discovered], error) {
	found := orderedmap.New[string, *discovered]()

	scanCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()
	defer func() { _ = s.central.StopScan() }()

	err := s.wait(scanCtx, &step{watch: func(cb callback) {
		if cb.kind != "discover" {
			return
		}
		id := cb.peripheral.Identifier()
		if d, ok := found.Get(id); ok {
			d.Sightings++
			if cb.peripheral.Name() != "" {
				d.Name = cb.peripheral.Name()
			}
			return
		}
		found.Set(id, &discovered{ID: id, Name: cb.peripheral.Name(), Sightings: 1})
		s.logger.WithField("peripheral", id).Debug("Discovered peripheral")
	}}, func() error { return s.central.ScanForPeripherals(services...) })

	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return found, nil
}

func displayPeripheralsTable(out io.Writer, found *orderedmap.OrderedMap[string, *discovered]) error {
	if found.Len() == 0 {
		_, err := fmt.Fprintln(out, "No peripherals discovered")
		return err
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tIDENTIFIER\tSIGHTINGS")
	fmt.Fprintln(w, "----\t----------\t---------")
	for pair := found.Oldest(); pair != nil; pair = pair.Next() {
		d := pair.Value
		name := d.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", name, d.ID, d.Sightings)
	}
	return w.Flush()
}

func displayPeripheralsJSON(out io.Writer, found *orderedmap.OrderedMap[string, *discovered]) error {
	list := make([]*discovered, 0, found.Len())
	for pair := found.Oldest(); pair != nil; pair = pair.Next() {
		list = append(list, pair.Value)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}
