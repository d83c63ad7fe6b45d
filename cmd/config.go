package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage saved profiles",
		Long: `Manage saved terminal profiles.

A profile is a settings file kept under the profile directory. It holds the
port parameters, echo, newline style, pacing delays, send history and macros.
Start a session from a profile with 'serterm --profile <name>'.`,
		Aliases: []string{"profile"},
	}

	cmd.AddCommand(newConfigSaveCmd(c))
	cmd.AddCommand(newConfigListCmd(c))
	cmd.AddCommand(newConfigShowCmd(c))
	cmd.AddCommand(newConfigDeleteCmd(c))
	cmd.AddCommand(newConfigPathCmd(c))
	return cmd
}

func newConfigSaveCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "save <name>",
		Short: "Save the current settings as a profile",
		Long: `Save the settings a session would start with as a named profile.

Example:
  serterm config save bench -p /dev/ttyUSB0 -b 9600 --txnl UNIX`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, _, err := c.resolveSettings(cmd, nil)
			if err != nil {
				return err
			}
			st, err := c.store()
			if err != nil {
				return err
			}
			if err := st.Save(args[0], s); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Profile '%s' saved to %s\n", args[0], st.Path(args[0]))
			fmt.Fprintf(out, "  %s\n", s.SerialConfig())
			fmt.Fprintf(out, "  tx newline %s, echo %s\n", s.TxStyle, onOff(s.Echo))
			return nil
		},
	}
}

func newConfigListCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List saved profiles",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			profiles, err := st.List()
			if err != nil {
				return err
			}
			printProfiles(cmd.OutOrStdout(), profiles)
			return nil
		},
	}
}

func printProfiles(out io.Writer, profiles []settings.ProfileInfo) {
	if len(profiles) == 0 {
		fmt.Fprintln(out, "No saved profiles found.")
		fmt.Fprintln(out, "\nUse 'serterm config save <name>' to save one.")
		return
	}

	fmt.Fprintf(out, "Found %d saved profile(s):\n\n", len(profiles))
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tPORT\tBAUD\tTX NEWLINE\tMODIFIED")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			p.Name, p.Port, p.Baud, p.TxStyle, p.Modified.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

// profileView is the printable form of a profile.
type profileView struct {
	Name      string     `json:"name" yaml:"name"`
	Path      string     `json:"path" yaml:"path"`
	Port      string     `json:"port" yaml:"port"`
	Baud      int        `json:"baud" yaml:"baud"`
	Parity    string     `json:"parity" yaml:"parity"`
	DataBits  int        `json:"databits" yaml:"databits"`
	StopBits  string     `json:"stopbits" yaml:"stopbits"`
	Echo      string     `json:"echo" yaml:"echo"`
	TxNewline string     `json:"txnl" yaml:"txnl"`
	AutoStyle string     `json:"txnl_autostyle" yaml:"txnl_autostyle"`
	CharDelay string     `json:"char_delay" yaml:"char_delay"`
	LineDelay string     `json:"line_delay" yaml:"line_delay"`
	Capture   string     `json:"capture,omitempty" yaml:"capture,omitempty"`
	Macros    []string   `json:"macros,omitempty" yaml:"macros,omitempty"`
	History   [][]string `json:"history,omitempty" yaml:"history,omitempty"`
}

func newProfileView(name, path string, s *settings.Settings) profileView {
	v := profileView{
		Name:      name,
		Path:      path,
		Port:      s.Port,
		Baud:      s.Baud,
		Parity:    s.Parity,
		DataBits:  s.DataBits,
		StopBits:  serial.FormatStopBits(s.StopBits),
		Echo:      onOff(s.Echo),
		TxNewline: s.TxStyle.String(),
		AutoStyle: s.AutoStyle.String(),
		CharDelay: s.CharDelay.String(),
		LineDelay: s.LineDelay.String(),
		Capture:   s.CaptureFile,
	}
	for i, m := range s.Macros {
		if m != "" {
			v.Macros = append(v.Macros, fmt.Sprintf("%d: %s", i+1, strings.TrimRight(m, "\r\n")))
		}
	}
	for _, h := range s.SendHistory {
		if len(h) > 0 {
			v.History = append(v.History, h)
		}
	}
	return v
}

func newConfigShowCmd(c *cli) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a saved profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			s, err := st.Load(args[0])
			if err != nil {
				return err
			}
			return printProfile(cmd.OutOrStdout(), newProfileView(args[0], st.Path(args[0]), s), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, yaml, json)")
	return cmd
}

func printProfile(out io.Writer, v profileView, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode profile: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q (text, yaml, json)", format)
	}

	fmt.Fprintf(out, "Profile: %s\n", v.Name)
	fmt.Fprintln(out, strings.Repeat("=", len(v.Name)+9))
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "File:\t%s\n", v.Path)
	fmt.Fprintf(w, "Port:\t%s\n", v.Port)
	fmt.Fprintf(w, "Baud Rate:\t%d\n", v.Baud)
	fmt.Fprintf(w, "Framing:\t%d %s %s\n", v.DataBits, v.Parity, v.StopBits)
	fmt.Fprintf(w, "Echo:\t%s\n", v.Echo)
	fmt.Fprintf(w, "TX Newline:\t%s (auto %s)\n", v.TxNewline, v.AutoStyle)
	fmt.Fprintf(w, "Delays:\t%s per char, %s per line\n", v.CharDelay, v.LineDelay)
	if v.Capture != "" {
		fmt.Fprintf(w, "Capture:\t%s\n", v.Capture)
	}
	for _, m := range v.Macros {
		fmt.Fprintf(w, "Macro:\t%s\n", m)
	}
	return w.Flush()
}

func newConfigDeleteCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <name>",
		Short:   "Delete a saved profile",
		Aliases: []string{"rm", "remove"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.store()
			if err != nil {
				return err
			}
			if err := st.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Profile '%s' deleted.\n", args[0])
			return nil
		},
	}
}

func newConfigPathCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the settings and profile directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := c.settingsDir()
			if err != nil {
				return err
			}
			st, err := c.store()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "settings: %s\nprofiles: %s\n",
				filepath.Join(dir, defaultSettingsFile), st.Dir())
			return nil
		},
	}
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
