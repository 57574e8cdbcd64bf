package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/e7canasta/orion-care-sensor/camera-shm/internal/config"
)

// cli carries the loaded configuration from the root command to subcommands.
type cli struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "camera-shm",
		Short: "Cancellable camera streaming over a shared-memory ring buffer",
		Long: `camera-shm captures frames from a camera and publishes them to a
shared-memory ring buffer (producer), or reads the latest frames from that
buffer and displays them (consumer).

Every session is bound to a task id. The session starts streaming once the
task registry knows the task and stops when the task is revoked.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(newRunCommand(c))
	rootCmd.AddCommand(newLoopbackCommand(c))
	rootCmd.AddCommand(newRevokeCommand(c))
	rootCmd.AddCommand(newStatusCommand(c))

	return rootCmd
}

// load reads the configuration and installs the default logger.
func (c *cli) load(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	if c.logFormat != "" {
		cfg.Log.Format = c.logFormat
	}

	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	c.cfg = cfg
	return nil
}

// newLogger builds the slog handler selected by the log section.
func newLogger(w io.Writer, lc config.LogConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", lc.Level, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(lc.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q (must be text or json)", lc.Format)
	}
}
