package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"serterm/pkg/app"
	"serterm/pkg/linedisc"
	"serterm/pkg/serial"
	"serterm/pkg/settings"
)

// Version is the program version reported by --version.
var Version = "1.0.0"

// rootCmd is the command Execute runs.
var rootCmd = newRootCmd()

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what every command shares: the merged flag/env view and the
// logger set up before any command runs.
type cli struct {
	v       *viper.Viper
	log     zerolog.Logger
	logFile io.Closer
}

func newRootCmd() *cobra.Command {
	_, root := newCLI()
	return root
}

func newCLI() (*cli, *cobra.Command) {
	c := &cli{v: viper.New(), log: zerolog.Nop()}

	root := &cobra.Command{
		Use:   "serterm [port]",
		Short: "A serial terminal with newline translation and paced sending",
		Long: `serterm connects to a serial port and shows what the device sends.

Received CR, LF, CR LF and LF CR line endings all display as one line break,
and the style the device uses is detected. Typed and sent text has its line
endings translated to the chosen style (WINDOWS, UNIX, OLD MAC or AUTO) and can
be paced with a per-character and a per-line delay.

Settings are read from --ini (or a saved --profile), then SERTERM_* environment
variables, then flags given on the command line.`,
		Example: `  serterm -p /dev/ttyUSB0 -b 9600
  serterm COM3 --txnl UNIX --char-delay 5ms --line-delay 100ms
  serterm --profile bench --headless < commands.txt`,
		Version:           Version,
		Args:              cobra.MaximumNArgs(1),
		PersistentPreRunE: c.preRun,
		PersistentPostRun: c.postRun,
		RunE:              c.runTerminal,
		SilenceUsage:      true,
		SilenceErrors:     true,
		DisableAutoGenTag: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	pf := root.PersistentFlags()
	pf.BoolP("verbose", "v", false, "verbose output")
	pf.String("log-file", "", "write logs to this file")
	pf.StringP("ini", "i", "", "settings file to load and save")
	pf.String("profile", "", "saved profile to load")
	pf.String("profile-dir", "", "directory of saved profiles and default settings")
	pf.StringP("port", "p", "", "serial port")
	pf.IntP("baud", "b", 115200, "baud rate")
	pf.String("parity", "none", "parity (none, odd, even, mark, space)")
	pf.Int("databits", 8, "data bits (5, 6, 7 or 8)")
	pf.String("stopbits", "1", "stop bits (1, 1.5 or 2)")
	pf.StringP("echo", "e", "ON", "local echo (ON or OFF)")
	pf.String("txnl", "WINDOWS", "transmit newline style (WINDOWS, UNIX, OLD MAC, AUTO)")
	pf.Duration("char-delay", 0, "delay after each sent character")
	pf.Duration("line-delay", 0, "delay after each sent line break")
	pf.String("capture", "", "capture file written on exit (.txt, .log or .json)")

	addSessionFlags(root)

	root.AddCommand(newListCmd())
	root.AddCommand(newConfigCmd(c))
	root.AddCommand(newConnectCmd(c))
	return c, root
}

// addSessionFlags adds the flags of commands that start a session.
func addSessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("headless", false, "no screen: print received text, send lines read from stdin")
	f.Bool("loopback", false, "use an in-memory loopback port instead of a device")
	f.String("tee", "", "append raw received bytes to this file")
	f.String("send-file", "", "send this file once the port is open")
	f.String("charset", "ISO-8859-1", "single-byte charset used to show received bytes")
}

// preRun merges flags with the environment and rejects bad values before
// anything is opened.
func (c *cli) preRun(cmd *cobra.Command, args []string) error {
	c.v.SetEnvPrefix("SERTERM")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()
	if err := c.v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	if err := validateFlags(c.v); err != nil {
		return err
	}

	logger, closer, err := newLogger(c.v.GetString("log-file"), c.v.GetBool("verbose"), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	c.log = logger
	c.logFile = closer
	return nil
}

func (c *cli) postRun(cmd *cobra.Command, args []string) {
	if c.logFile != nil {
		c.logFile.Close()
		c.logFile = nil
	}
}

// validateFlags checks values given by flag or environment.
func validateFlags(v *viper.Viper) error {
	if v.IsSet("baud") {
		if err := serial.ValidateBaudRate(v.GetInt("baud")); err != nil {
			return err
		}
	}
	if v.IsSet("echo") {
		if _, err := parseEcho(v.GetString("echo")); err != nil {
			return err
		}
	}
	if v.IsSet("txnl") {
		if _, err := linedisc.ParseStyle(v.GetString("txnl")); err != nil {
			return err
		}
	}
	if v.IsSet("stopbits") {
		if _, err := serial.ParseStopBits(v.GetString("stopbits")); err != nil {
			return err
		}
	}
	// Settings files keep delays in whole milliseconds.
	for _, key := range []string{"char-delay", "line-delay"} {
		if !v.IsSet(key) {
			continue
		}
		d := v.GetDuration(key)
		if d < 0 {
			return fmt.Errorf("%s cannot be negative", key)
		}
		if d%time.Millisecond != 0 {
			return fmt.Errorf("%s must be a whole number of milliseconds, got %s", key, d)
		}
	}
	return nil
}

// newLogger logs to path when given, otherwise warnings go to stderr.
func newLogger(path string, verbose bool, stderr io.Writer) (zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}

	if path == "" {
		if !verbose {
			level = zerolog.WarnLevel
		}
		w := zerolog.ConsoleWriter{Out: stderr, TimeFormat: "15:04:05.000"}
		return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), f, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// runTerminal starts a session from the merged settings.
func (c *cli) runTerminal(cmd *cobra.Command, args []string) error {
	s, path, err := c.resolveSettings(cmd, args)
	if err != nil {
		return err
	}
	return c.startSession(cmd, s, path)
}

// startSession runs the terminal with s until the user quits.
func (c *cli) startSession(cmd *cobra.Command, s *settings.Settings, path string) error {
	charset, err := linedisc.LookupCharset(c.v.GetString("charset"))
	if err != nil {
		return err
	}

	var transport serial.Transport = serial.NewPort()
	if c.v.GetBool("loopback") {
		transport = serial.NewMemoryPort(true)
	}

	opts := app.Options{
		Settings:     s,
		SettingsPath: path,
		Transport:    transport,
		Charset:      charset,
		SendFile:     c.v.GetString("send-file"),
		Logger:       c.log,
		Output:       cmd.OutOrStdout(),
		Input:        cmd.InOrStdin(),
		Errors:       cmd.ErrOrStderr(),
	}

	if teePath := c.v.GetString("tee"); teePath != "" {
		tee, err := os.OpenFile(teePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open tee file: %w", err)
		}
		defer tee.Close()
		opts.Tee = tee
	}

	headless := c.v.GetBool("headless") || !isTerminal(os.Stdin) || !isTerminal(os.Stdout)
	c.log.Info().
		Str("port", s.Port).
		Int("baud", s.Baud).
		Str("txnl", s.TxStyle.String()).
		Bool("headless", headless).
		Msg("starting terminal")

	if headless {
		return app.RunHeadless(cmd.Context(), opts, cmd.ErrOrStderr())
	}

	// tcell owns the terminal; only a log file can take log lines.
	if c.v.GetString("log-file") == "" {
		opts.Logger = zerolog.Nop()
	}
	return app.RunInteractive(cmd.Context(), opts, cmd.ErrOrStderr())
}
