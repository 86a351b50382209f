package config

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to environment overrides, e.g.
// TASKWATCH_OPTIONS_DEBOUNCEDELAY=1s or TASKWATCH_CONTROL_ADDR=:8090.
const EnvPrefix = "TASKWATCH"

// DefaultName is the base name searched for when no config file is given.
const DefaultName = "taskwatch"

var (
	// ErrNoTargets is returned when the configuration declares no target.
	ErrNoTargets = errors.New("no targets configured")
	// ErrUnknownTarget is returned when a selected target is not declared.
	ErrUnknownTarget = errors.New("unknown target")
)

// Options holds the options that can be set globally and per target.
// Unset fields fall back to the global value, then to the built-in default.
type Options struct {
	Cwd            string   `mapstructure:"cwd" yaml:"cwd,omitempty"`
	DebounceDelay  string   `mapstructure:"debounceDelay" yaml:"debounceDelay,omitempty"`
	Interrupt      *bool    `mapstructure:"interrupt" yaml:"interrupt,omitempty"`
	Spawn          *bool    `mapstructure:"spawn" yaml:"spawn,omitempty"`
	AtBegin        *bool    `mapstructure:"atBegin" yaml:"atBegin,omitempty"`
	Reload         *bool    `mapstructure:"reload" yaml:"reload,omitempty"`
	ForceRestart   *bool    `mapstructure:"forceRestart" yaml:"forceRestart,omitempty"`
	LiveReload     *bool    `mapstructure:"livereload" yaml:"livereload,omitempty"`
	DateFormat     string   `mapstructure:"dateFormat" yaml:"dateFormat,omitempty"`
	Events         []string `mapstructure:"events" yaml:"events,omitempty"`
	InterruptGrace string   `mapstructure:"interruptGrace" yaml:"interruptGrace,omitempty"`
	FatalExitCodes []int    `mapstructure:"fatalExitCodes" yaml:"fatalExitCodes,omitempty"`
}

// GlobalOptions are the top-level options. They add engine-wide settings to
// the per-target ones.
type GlobalOptions struct {
	Options              `mapstructure:",squash" yaml:",inline"`
	Concurrent           bool `mapstructure:"concurrent" yaml:"concurrent"`
	MaxConsecutiveFatals int  `mapstructure:"maxConsecutiveFatals" yaml:"maxConsecutiveFatals"`
}

// TargetConfig is one entry of the ordered targets list.
type TargetConfig struct {
	Name    string   `mapstructure:"name" yaml:"name"`
	Files   []string `mapstructure:"files" yaml:"files"`
	Tasks   []string `mapstructure:"tasks" yaml:"tasks,omitempty"`
	Options Options  `mapstructure:"options" yaml:"options,omitempty"`
}

// LiveReloadConfig configures the livereload server.
type LiveReloadConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// ControlConfig configures the MCP control server. An empty address
// disables it.
type ControlConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// File is the decoded configuration file with environment and flag
// overrides applied.
type File struct {
	Options       GlobalOptions    `mapstructure:"options" yaml:"options"`
	LiveReload    LiveReloadConfig `mapstructure:"livereload" yaml:"livereload"`
	Control       ControlConfig    `mapstructure:"control" yaml:"control"`
	Ignore        []string         `mapstructure:"ignore" yaml:"ignore,omitempty"`
	Gitignore     bool             `mapstructure:"gitignore" yaml:"gitignore"`
	TargetConfigs []TargetConfig   `mapstructure:"targets" yaml:"targets"`

	path string
}

// Path returns the absolute path of the file the configuration was read from.
func (f *File) Path() string {
	return f.path
}

// Dir returns the directory relative cwd options are resolved against.
func (f *File) Dir() string {
	return filepath.Dir(f.path)
}

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"debounce":        "options.debounceDelay",
	"interrupt":       "options.interrupt",
	"concurrent":      "options.concurrent",
	"control-addr":    "control.addr",
	"livereload-addr": "livereload.addr",
}

// NewViper returns a viper instance with defaults and TASKWATCH_ environment
// overrides. Flags in flags that exist in flagKeys are bound as overrides;
// flags may be nil.
func NewViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags == nil {
		return v, nil
	}
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("binding flag --%s: %w", name, err)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("options.cwd", ".")
	v.SetDefault("options.debounceDelay", "500ms")
	v.SetDefault("options.interrupt", false)
	v.SetDefault("options.spawn", true)
	v.SetDefault("options.atBegin", false)
	v.SetDefault("options.reload", false)
	v.SetDefault("options.forceRestart", false)
	v.SetDefault("options.livereload", false)
	v.SetDefault("options.dateFormat", "")
	v.SetDefault("options.interruptGrace", "2s")
	v.SetDefault("options.concurrent", false)
	v.SetDefault("options.maxConsecutiveFatals", 0)
	v.SetDefault("livereload.addr", "127.0.0.1:35729")
	v.SetDefault("control.addr", "")
	v.SetDefault("gitignore", true)
}

// Load reads the configuration from path. When path is empty a file named
// taskwatch.{yaml,yml,json,toml} is searched for in dir.
func Load(v *viper.Viper, path string, dir string) (*File, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultName)
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("no %s config file found in %s", DefaultName, dir)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", v.ConfigFileUsed(), err)
	}
	abs, err := filepath.Abs(v.ConfigFileUsed())
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	f.path = abs

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks the structure of the configuration. Option values are
// checked when targets are built.
func (f *File) Validate() error {
	if len(f.TargetConfigs) == 0 {
		return ErrNoTargets
	}
	seen := make(map[string]bool, len(f.TargetConfigs))
	for i, t := range f.TargetConfigs {
		if t.Name == "" {
			return fmt.Errorf("target #%d has no name", i+1)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target %q", t.Name)
		}
		seen[t.Name] = true
		if len(t.Files) == 0 {
			return fmt.Errorf("target %q has no files", t.Name)
		}
	}
	if f.Options.MaxConsecutiveFatals < 0 {
		return fmt.Errorf("maxConsecutiveFatals must not be negative, got %d", f.Options.MaxConsecutiveFatals)
	}
	return nil
}

// Dump writes the configuration as YAML.
func (f *File) Dump(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
