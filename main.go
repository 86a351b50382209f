package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lexandro/taskwatch/livereload"
)

// rootOptions holds the flags that are not configuration overrides.
// Overrides (--debounce and friends) are read through viper.
type rootOptions struct {
	configPath string
	dir        string
	logLevel   string
	logFile    string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "taskwatch [target...]",
		Short: "Run tasks whenever watched files change",
		Long: `taskwatch watches the files of the targets declared in taskwatch.yaml and
runs their tasks when one of them is added, changed or deleted.

Changes are collected for a short quiet period (debounceDelay) and handed to
the task as one batch. Runs of the same target never overlap; with
interrupt: true a newer batch cancels the running task and restarts it with
every collected change.

Example usage:
  taskwatch                      # Watch every target
  taskwatch scripts styles       # Watch a subset of targets
  taskwatch config               # Print the effective configuration
  taskwatch targets              # List targets and the files they match`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: taskwatch.{yaml,yml,json,toml} in --dir)")
	flags.StringVar(&opts.dir, "dir", "", "Directory searched for the config file (default: current working directory)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")
	flags.StringVar(&opts.logFile, "log-file", "", "Log file path, rotated by size (default: stderr)")
	flags.Duration("debounce", 500*time.Millisecond, "Override options.debounceDelay")
	flags.Bool("interrupt", false, "Override options.interrupt")
	flags.Bool("concurrent", false, "Override options.concurrent")
	flags.String("control-addr", "", "Serve MCP control tools over HTTP on this address")
	flags.String("livereload-addr", livereload.DefaultAddr, "Address of the livereload server")

	root.AddCommand(
		newWatchCmd(opts),
		newConfigCmd(opts),
		newTargetsCmd(opts),
		newRegisterCmd(opts),
	)
	return root
}

// setupLogger creates an slog.Logger writing to stderr or a rotated file.
// The returned closer releases the log file.
func setupLogger(level string, logFile string) (*slog.Logger, io.Closer) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var writer io.WriteCloser = nopCloser{os.Stderr}
	if logFile != "" {
		writer = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{Level: logLevel})
	return slog.New(handler), writer
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
