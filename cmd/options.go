package cmd

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

// defaultSettingsFile is loaded and saved when neither --ini nor --profile
// is given.
const defaultSettingsFile = "serterm.ini"

func parseEcho(v string) (bool, error) {
	on, err := settings.ParseOnOff(v)
	if err != nil {
		return false, fmt.Errorf("echo: %w", err)
	}
	return on, nil
}

// settingsDir returns --profile-dir or the per-user default.
func (c *cli) settingsDir() (string, error) {
	if dir := c.v.GetString("profile-dir"); dir != "" {
		return dir, nil
	}
	return settings.DefaultDir()
}

func (c *cli) store() (*settings.Store, error) {
	dir, err := c.settingsDir()
	if err != nil {
		return nil, err
	}
	return settings.NewStore(filepath.Join(dir, "profiles")), nil
}

// resolveSettings builds the session settings: defaults, then the settings
// file, then environment and command line. It also returns the file the
// session saves to.
func (c *cli) resolveSettings(cmd *cobra.Command, args []string) (*settings.Settings, string, error) {
	s := settings.Default()
	var path string

	switch {
	case c.v.GetString("ini") != "":
		path = c.v.GetString("ini")
		s = c.loadFile(path, s)

	case c.v.GetString("profile") != "":
		st, err := c.store()
		if err != nil {
			return nil, "", err
		}
		name := c.v.GetString("profile")
		loaded, err := st.LoadOver(name, s)
		if err != nil {
			return nil, "", err
		}
		s, path = loaded, st.Path(name)

	default:
		dir, err := c.settingsDir()
		if err != nil {
			c.log.Warn().Err(err).Msg("no settings directory, settings will not be saved")
			break
		}
		path = filepath.Join(dir, defaultSettingsFile)
		s = c.loadFile(path, s)
	}

	if err := applyOverrides(c.v, s); err != nil {
		return nil, "", err
	}
	if len(args) == 1 {
		s.Port = args[0]
	}
	if err := s.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid settings: %w", err)
	}
	return s, path, nil
}

// loadFile reads path over base. A missing file is normal on first run; any
// other failure is logged and base is used as is.
func (c *cli) loadFile(path string, base *settings.Settings) *settings.Settings {
	s, err := settings.LoadOver(path, base)
	switch {
	case err == nil:
		c.log.Debug().Str("path", path).Msg("settings loaded")
		return s
	case errors.Is(err, settings.ErrNotFound):
		c.log.Debug().Str("path", path).Msg("no settings file, using defaults")
	default:
		c.log.Warn().Err(err).Msg("ignoring settings file")
	}
	return base
}

// applyOverrides copies every value given by environment or flag into s.
func applyOverrides(v *viper.Viper, s *settings.Settings) error {
	if v.IsSet("port") {
		s.Port = v.GetString("port")
	}
	if v.IsSet("baud") {
		s.Baud = v.GetInt("baud")
	}
	if v.IsSet("parity") {
		s.Parity = strings.ToLower(v.GetString("parity"))
	}
	if v.IsSet("databits") {
		s.DataBits = v.GetInt("databits")
	}
	if v.IsSet("stopbits") {
		sb, err := serial.ParseStopBits(v.GetString("stopbits"))
		if err != nil {
			return err
		}
		s.StopBits = sb
	}
	if v.IsSet("echo") {
		on, err := parseEcho(v.GetString("echo"))
		if err != nil {
			return err
		}
		s.Echo = on
	}
	if v.IsSet("txnl") {
		style, err := linedisc.ParseStyle(v.GetString("txnl"))
		if err != nil {
			return err
		}
		s.TxStyle = style
	}
	if v.IsSet("char-delay") {
		s.CharDelay = v.GetDuration("char-delay")
	}
	if v.IsSet("line-delay") {
		s.LineDelay = v.GetDuration("line-delay")
	}
	if v.IsSet("capture") {
		s.CaptureFile = v.GetString("capture")
	}
	return nil
}
