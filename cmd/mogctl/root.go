package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hub-gain/mogdevice"
)

var (
	addr         string
	device       string
	port         int
	baudRate     int
	timeout      time.Duration
	retryFor     time.Duration
	logLevel     string
	profilesFile string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mogctl",
	Short: "Control MOGlabs laboratory instruments",
	Long: `A CLI for MOGlabs devices (DDS RF synthesizers, laser controllers)
reached over Ethernet (default port 7802) or USB serial (115200 8N1).
Commands are sent as-is using the device's ASCII protocol.`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addr, "addr", "a", "", "Device address (host, host:port, COM3, USB or /dev/tty*)")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "Named device from the profiles file")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "TCP port override (default 7802)")
	rootCmd.PersistentFlags().IntVar(&baudRate, "baud", 0, "Serial baud rate (default 115200)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Second, "Communication timeout")
	rootCmd.PersistentFlags().DurationVar(&retryFor, "retry", 0, "Keep retrying the connection for this long (0 = single attempt)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&profilesFile, "profiles", "", "YAML file with named device profiles")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(logLevel); err == nil {
		level = parsed
	}

	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// deviceConfig resolves the connection settings from flags and, when a named
// device is requested, the profiles file.
func deviceConfig(logger zerolog.Logger) (mogdevice.Config, error) {
	cfg := mogdevice.Config{
		Addr:     addr,
		Port:     port,
		BaudRate: baudRate,
		Timeout:  timeout,
		Logger:   &logger,
	}

	if device != "" {
		profiles, err := loadProfiles(profilesFile)
		if err != nil {
			return cfg, err
		}
		profile, ok := profiles.Lookup(device)
		if !ok {
			return cfg, fmt.Errorf("unknown device %q in profiles file", device)
		}
		profile.apply(&cfg)
	}

	if cfg.Addr == "" {
		return cfg, fmt.Errorf("no device address: use --addr or --device")
	}
	return cfg, nil
}

// connect dials the device, retrying with exponential backoff when --retry
// is set.
func connect(ctx context.Context) (*mogdevice.Device, error) {
	logger := newLogger()

	cfg, err := deviceConfig(logger)
	if err != nil {
		return nil, err
	}

	if retryFor <= 0 {
		return mogdevice.Dial(ctx, cfg)
	}

	var dev *mogdevice.Device
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryFor

	err = backoff.RetryNotify(func() error {
		var dialErr error
		dev, dialErr = mogdevice.Dial(ctx, cfg)
		return dialErr
	}, bo, func(err error, next time.Duration) {
		logger.Warn().Err(err).Dur("next_attempt", next).Msg("connection failed, retrying")
	})
	if err != nil {
		return nil, err
	}
	return dev, nil
}

// infoCmd prints the device identification string
var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print the device identification string",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		fmt.Println(dev.Info())
		return nil
	},
}

// versionCmd prints firmware component versions
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print firmware versions of the device components",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		vers, err := dev.Version(ctx)
		if err != nil {
			return err
		}
		for name, ver := range vers {
			fmt.Printf("%s: %s\n", name, ver)
		}
		return nil
	},
}

// askCmd sends a query and prints the raw reply
var askCmd = &cobra.Command{
	Use:   "ask <command>",
	Short: "Send a query and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		resp, err := dev.Ask(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

// cmdCmd sends a command and requires an OK acknowledgement
var cmdCmd = &cobra.Command{
	Use:   "cmd <command>",
	Short: "Send a command and check it is acknowledged with OK",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		resp, err := dev.Cmd(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

// dictCmd sends a query and prints the name/value reply entries
var dictCmd = &cobra.Command{
	Use:   "dict <command>",
	Short: "Send a query whose reply is a set of name/value pairs",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		dict, err := dev.AskDict(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		for _, key := range dict.Keys() {
			val, _ := dict.Get(key)
			fmt.Printf("%s: %s\n", key, val)
		}
		return nil
	},
}

var continueOnError bool

// runCmd executes a script of device commands
var runCmd = &cobra.Command{
	Use:   "run <script file>",
	Short: "Run a script of device commands",
	Long: `Executes the commands in the given file one per line. Lines starting
with "#" and blank lines are skipped. Each command must be acknowledged
with OK by the device.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		lines, err := mogdevice.LoadScriptFile(args[0])
		if err != nil {
			return err
		}

		dev, err := connect(ctx)
		if err != nil {
			return err
		}
		defer dev.Close()

		result, runErr := dev.RunScript(ctx, lines, mogdevice.ScriptOptions{
			ContinueOnError: continueOnError,
		})
		for _, r := range result.Results {
			if r.Err != nil {
				fmt.Printf("%4d  %-30s FAILED: %v\n", r.Line.Num, r.Line.Cmd, r.Err)
			} else {
				fmt.Printf("%4d  %-30s %s\n", r.Line.Num, r.Line.Cmd, r.Reply)
			}
		}
		if runErr != nil {
			return fmt.Errorf("script aborted: %w", runErr)
		}
		if result.Failed > 0 {
			return fmt.Errorf("%d of %d commands failed", result.Failed, len(result.Results))
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&continueOnError, "continue-on-error", false, "Keep going after a rejected command")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(cmdCmd)
	rootCmd.AddCommand(dictCmd)
	rootCmd.AddCommand(runCmd)
}
