package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/srg/cbcentral/internal/bledb"
	"github.com/srg/cbcentral/pkg/central"
)

type inspectedCharacteristic struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties"`
	Value      string   `json:"value,omitempty"`
	Text       string   `json:"text,omitempty"`
	Error      string   `json:"error,omitempty"`
}

type inspectedService struct {
	UUID            string                     `json:"uuid"`
	Name            string                     `json:"name,omitempty"`
	Characteristics []*inspectedCharacteristic `json:"characteristics"`
}

type inspectedPeripheral struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Services []*inspectedService `json:"services"`
}

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <peripheral-id>",
		Short: "Inspect the services and characteristics of a BLE peripheral",
		Long: `Connects to a peripheral, discovers all of its services and
characteristics, and reads every readable characteristic value.`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	cmd.Flags().Bool("no-read", false, "Skip reading characteristic values")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")
	noRead, _ := cmd.Flags().GetBool("no-read")

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	result, err := s.inspect(cmd.Context(), args[0], !noRead)
	if err != nil {
		return err
	}

	if asJSON || s.cfg.OutputFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return displayInspectTree(cmd.OutOrStdout(), result)
}

func (s *session) inspect(ctx context.Context, id string, readValues bool) (*inspectedPeripheral, error) {
	p, err := s.connect(ctx, id)
	if err != nil {
		return nil, err
	}
	defer s.disconnect(ctx, p)

	if err := s.discover(ctx, p, nil, nil); err != nil {
		return nil, err
	}

	result := &inspectedPeripheral{ID: p.Identifier(), Name: p.Name()}
	for _, svc := range p.Services() {
		is := &inspectedService{UUID: svc.UUID(), Name: bledb.LookupService(svc.UUID())}
		for _, c := range svc.Characteristics() {
			ic := &inspectedCharacteristic{UUID: c.UUID(), Name: bledb.LookupCharacteristic(c.UUID())}
			props, err := c.Properties()
			if err != nil {
				ic.Error = err.Error()
				is.Characteristics = append(is.Characteristics, ic)
				continue
			}
			ic.Properties = props.Names()

			if readValues && props.Has(central.PropertyRead) {
				value, err := s.read(ctx, p, c)
				switch {
				case err != nil:
					s.logger.WithError(err).WithField("characteristic", c.UUID()).Warn("Read failed")
					ic.Error = err.Error()
				default:
					ic.Value = hex.EncodeToString(value)
					ic.Text, _ = bledb.DescribeValue(c.UUID(), value)
				}
			}
			is.Characteristics = append(is.Characteristics, ic)
		}
		result.Services = append(result.Services, is)
	}
	return result, nil
}

func displayInspectTree(out io.Writer, p *inspectedPeripheral) error {
	title := color.New(color.Bold).SprintFunc()
	svcColor := color.New(color.FgCyan).SprintFunc()
	chrColor := color.New(color.FgGreen).SprintFunc()
	errColor := color.New(color.FgRed).SprintFunc()

	name := p.Name
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(out, "%s %s\n", title(name), p.ID)
	for _, svc := range p.Services {
		fmt.Fprintf(out, "  Service %s%s\n", svcColor(svc.UUID), named(svc.Name))
		for _, c := range svc.Characteristics {
			line := fmt.Sprintf("    Characteristic %s%s [%s]", chrColor(c.UUID), named(c.Name), strings.Join(c.Properties, ","))
			switch {
			case c.Error != "":
				line += " " + errColor("error: "+c.Error)
			case c.Text != "":
				line += " = " + c.Value + " (" + c.Text + ")"
			case c.Value != "":
				line += " = " + c.Value
			}
			if _, err := fmt.Fprintln(out, line); err != nil {
				return err
			}
		}
	}
	return nil
}

func named(name string) string {
	if name == "" {
		return ""
	}
	return " " + name
}
