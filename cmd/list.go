package cmd

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"serterm/pkg/serial"
)

func newListCmd() *cobra.Command {
	var (
		details bool
		format  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available serial ports",
		Long: `List all available serial ports on the system.

On Windows these are COM ports, on Linux /dev/tty* devices and on macOS
/dev/cu.* and /dev/tty.* devices. USB adapters show their vendor and
product IDs with --details.`,
		Aliases: []string{"ls", "ports"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := serial.GetDetailedPortsList()
			if err != nil {
				return fmt.Errorf("error listing ports: %w", err)
			}
			return printPorts(cmd.OutOrStdout(), ports, format, details)
		},
	}

	cmd.Flags().BoolVarP(&details, "details", "d", false, "show detailed port information")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, csv, json)")
	return cmd
}

func printPorts(w io.Writer, ports []serial.PortInfo, format string, details bool) error {
	switch format {
	case "table":
		printPortsTable(w, ports, details)
		return nil
	case "csv":
		return printPortsCSV(w, ports, details)
	case "json":
		return printPortsJSON(w, ports, details)
	default:
		return fmt.Errorf("unknown format %q (table, csv, json)", format)
	}
}

func printPortsTable(w io.Writer, ports []serial.PortInfo, details bool) {
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found.")
		return
	}

	fmt.Fprintf(w, "Found %d serial port(s):\n", len(ports))
	for _, p := range ports {
		fmt.Fprintf(w, "  %s", p.Name)
		if details && p.IsUSB {
			fmt.Fprintf(w, " [USB] VID:%s PID:%s", p.VID, p.PID)
			if p.Product != "" {
				fmt.Fprintf(w, " - %s", p.Product)
			}
			if p.SerialNumber != "" {
				fmt.Fprintf(w, " (SN: %s)", p.SerialNumber)
			}
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, "\nUse 'serterm <port>' or 'serterm connect <port>' to connect.")
}

func printPortsCSV(w io.Writer, ports []serial.PortInfo, details bool) error {
	cw := csv.NewWriter(w)
	if details {
		cw.Write([]string{"port", "is_usb", "vid", "pid", "product", "serial_number"})
	} else {
		cw.Write([]string{"port"})
	}
	for _, p := range ports {
		if details {
			cw.Write([]string{p.Name, strconv.FormatBool(p.IsUSB), p.VID, p.PID, p.Product, p.SerialNumber})
		} else {
			cw.Write([]string{p.Name})
		}
	}
	cw.Flush()
	return cw.Error()
}

func printPortsJSON(w io.Writer, ports []serial.PortInfo, details bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if details {
		if ports == nil {
			ports = []serial.PortInfo{}
		}
		return enc.Encode(ports)
	}

	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}
	return enc.Encode(names)
}
