package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

func newConnectCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <port|profile>",
		Short: "Check a port or profile opens, then start a session",
		Long: `Connect to a serial port directly or using a saved profile.

The port is opened once to check it is usable before the terminal starts,
and a failure prints likely causes.

Examples:
  # Connect to COM3 with default settings
  serterm connect COM3

  # Connect to /dev/ttyUSB0 at 9600 baud
  serterm connect /dev/ttyUSB0 -b 9600

  # Connect using a saved profile
  serterm connect bench`,
		Args:    cobra.ExactArgs(1),
		Aliases: []string{"c", "open"},
		RunE:    c.runConnect,
	}
	addSessionFlags(cmd)
	return cmd
}

func (c *cli) runConnect(cmd *cobra.Command, args []string) error {
	target := args[0]

	var portArgs []string
	if isSerialPort(target) {
		portArgs = []string{target}
	} else {
		st, err := c.store()
		if err != nil {
			return err
		}
		if !st.Exists(target) {
			printTargets(cmd.ErrOrStderr(), st)
			return fmt.Errorf("'%s' is neither a serial port nor a saved profile", target)
		}
		c.v.Set("profile", target)
		c.v.Set("ini", "")
	}

	s, path, err := c.resolveSettings(cmd, portArgs)
	if err != nil {
		return err
	}

	if !c.v.GetBool("loopback") {
		if err := testConnection(cmd.OutOrStdout(), serial.NewPort(), s.SerialConfig()); err != nil {
			printHints(cmd.ErrOrStderr(), err)
			return err
		}
	}
	return c.startSession(cmd, s, path)
}

// isSerialPort reports whether name looks like a device rather than a
// profile name.
func isSerialPort(name string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "com") || strings.HasPrefix(name, "/dev/") {
		return true
	}
	return serial.IsPortAvailable(name)
}

// testConnection opens and closes the port once.
func testConnection(out io.Writer, t serial.Transport, cfg serial.SerialConfig) error {
	fmt.Fprintf(out, "Testing connection to %s...\n", cfg.Port)
	if err := t.Open(cfg); err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	defer t.Close()

	fmt.Fprintf(out, "Connection successful: %s\n", cfg)
	return nil
}

func printTargets(w io.Writer, st *settings.Store) {
	fmt.Fprintln(w, "Available ports:")
	ports, _ := serial.ListPorts()
	if len(ports) == 0 {
		fmt.Fprintln(w, "  No serial ports found.")
	}
	for _, p := range ports {
		fmt.Fprintf(w, "  - %s\n", p)
	}

	profiles, _ := st.List()
	if len(profiles) > 0 {
		fmt.Fprintln(w, "\nSaved profiles:")
		for _, p := range profiles {
			fmt.Fprintf(w, "  - %s (port: %s)\n", p.Name, p.Port)
		}
	}
}

// printHints suggests fixes for common open failures.
func printHints(w io.Writer, err error) {
	msg := strings.ToLower(err.Error())
	var hints []string

	if strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		hints = append(hints,
			"Check you have permission to access the port",
			"On Linux add your user to the 'dialout' group: sudo usermod -a -G dialout $USER")
	}
	if strings.Contains(msg, "busy") || strings.Contains(msg, "in use") {
		hints = append(hints,
			"The port may be in use by another application",
			"Close other terminal programs or serial monitors")
	}
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no such") {
		hints = append(hints,
			"The port does not exist",
			"Use 'serterm list' to see available ports")
	}
	if len(hints) == 0 {
		return
	}

	fmt.Fprintln(w, "Possible solutions:")
	for _, h := range hints {
		fmt.Fprintf(w, "  - %s\n", h)
	}
}
