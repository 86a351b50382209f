package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexandro/taskwatch/config"
	"github.com/lexandro/taskwatch/register"
	"github.com/lexandro/taskwatch/target"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [target...]",
		Short: "Watch targets and run their tasks on change (default command)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts, args)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration after env and flag overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", cfg.Path())
			return cfg.Dump(cmd.OutOrStdout())
		},
	}
}

func newTargetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "targets [target...]",
		Short: "List targets, their effective options and the files they match",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			targets, err := cfg.Targets(args...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, t := range targets {
				if i > 0 {
					fmt.Fprintln(out)
				}
				files, err := target.Expand(t)
				if err != nil {
					return fmt.Errorf("expanding target %q: %w", t.Name, err)
				}
				fmt.Fprint(out, describeTarget(t, files))
			}
			return nil
		},
	}
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "register project|user",
		Short: "Register the control server with MCP clients (.mcp.json or ~/.claude.json)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			url, err := register.ControlURL(cfg.Control.Addr)
			if err != nil {
				return err
			}
			configPath, err := register.ConfigPath(args[0], cfg.Dir())
			if err != nil {
				return err
			}
			if err := register.Write(configPath, name, register.Entry{Type: "http", URL: url}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %q (%s) in %s\n", name, url, configPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", config.DefaultName, "Server name in the MCP client config")
	return cmd
}

// loadConfig reads the configuration with flag and environment overrides.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.File, error) {
	v, err := config.NewViper(cmd.Root().PersistentFlags())
	if err != nil {
		return nil, err
	}
	dir := opts.dir
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
	}
	return config.Load(v, opts.configPath, dir)
}

func describeTarget(t *target.Target, files []string) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("%s\n", t.Name))
	builder.WriteString(fmt.Sprintf("  cwd:      %s\n", t.Options.Cwd))
	builder.WriteString(fmt.Sprintf("  files:    %s\n", strings.Join(t.Patterns, ", ")))
	if len(t.Tasks) > 0 {
		builder.WriteString(fmt.Sprintf("  tasks:    %s\n", strings.Join(t.Tasks, " && ")))
	}

	var flags []string
	for _, f := range []struct {
		name string
		on   bool
	}{
		{"interrupt", t.Options.Interrupt},
		{"spawn", t.Options.Spawn},
		{"atBegin", t.Options.AtBegin},
		{"reload", t.Options.Reload},
		{"forceRestart", t.Options.ForceRestart},
		{"livereload", t.Options.LiveReload},
	} {
		if f.on {
			flags = append(flags, f.name)
		}
	}
	builder.WriteString(fmt.Sprintf("  debounce: %s\n", t.Options.DebounceDelay))
	if len(flags) > 0 {
		builder.WriteString(fmt.Sprintf("  options:  %s\n", strings.Join(flags, ", ")))
	}
	if len(t.Options.Events) > 0 {
		kinds := make([]string, len(t.Options.Events))
		for i, k := range t.Options.Events {
			kinds[i] = k.String()
		}
		builder.WriteString(fmt.Sprintf("  events:   %s\n", strings.Join(kinds, ", ")))
	}

	builder.WriteString(fmt.Sprintf("  matching: %d files\n", len(files)))
	for _, file := range files {
		builder.WriteString(fmt.Sprintf("    %s\n", file))
	}
	return builder.String()
}
