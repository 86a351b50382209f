package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/watcher"
)

// Targets builds the targets with their effective options. names selects a
// subset; the result keeps declaration order either way.
func (f *File) Targets(names ...string) ([]*target.Target, error) {
	selected, err := f.selected(names)
	if err != nil {
		return nil, err
	}

	targets := make([]*target.Target, 0, len(selected))
	for _, tc := range selected {
		opts, err := f.effective(tc.Options)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", tc.Name, err)
		}
		targets = append(targets, &target.Target{
			Name:     tc.Name,
			Patterns: append([]string(nil), tc.Files...),
			Tasks:    append([]string(nil), tc.Tasks...),
			Options:  opts,
		})
	}
	return targets, nil
}

func (f *File) selected(names []string) ([]TargetConfig, error) {
	if len(names) == 0 {
		return f.TargetConfigs, nil
	}
	want := make(map[string]bool, len(names))
	for _, name := range names {
		want[name] = true
	}
	var out []TargetConfig
	for _, tc := range f.TargetConfigs {
		if want[tc.Name] {
			out = append(out, tc)
			delete(want, tc.Name)
		}
	}
	for _, name := range names {
		if want[name] {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, name)
		}
	}
	return out, nil
}

func (f *File) effective(local Options) (target.Options, error) {
	global := f.Options.Options

	cwd := pickString(local.Cwd, global.Cwd, ".")
	if !filepath.IsAbs(cwd) {
		cwd = filepath.Join(f.Dir(), cwd)
	}

	debounce, err := parseDuration("debounceDelay", pickString(local.DebounceDelay, global.DebounceDelay, "500ms"))
	if err != nil {
		return target.Options{}, err
	}
	grace, err := parseDuration("interruptGrace", pickString(local.InterruptGrace, global.InterruptGrace, "2s"))
	if err != nil {
		return target.Options{}, err
	}

	eventNames := local.Events
	if eventNames == nil {
		eventNames = global.Events
	}
	events, err := parseEvents(eventNames)
	if err != nil {
		return target.Options{}, err
	}

	exitCodes := local.FatalExitCodes
	if exitCodes == nil {
		exitCodes = global.FatalExitCodes
	}

	return target.Options{
		Cwd:            filepath.Clean(cwd),
		DebounceDelay:  debounce,
		Interrupt:      pickBool(local.Interrupt, global.Interrupt, false),
		Spawn:          pickBool(local.Spawn, global.Spawn, true),
		AtBegin:        pickBool(local.AtBegin, global.AtBegin, false),
		Reload:         pickBool(local.Reload, global.Reload, false),
		ForceRestart:   pickBool(local.ForceRestart, global.ForceRestart, false),
		LiveReload:     pickBool(local.LiveReload, global.LiveReload, false),
		DateFormat:     pickString(local.DateFormat, global.DateFormat, target.DefaultDateFormat),
		Events:         events,
		InterruptGrace: grace,
		FatalExitCodes: append([]int(nil), exitCodes...),
	}, nil
}

// LiveReloadWanted reports whether any selected target pushes livereload
// notifications.
func LiveReloadWanted(targets []*target.Target) bool {
	for _, t := range targets {
		if t.Options.LiveReload {
			return true
		}
	}
	return false
}

func parseDuration(name string, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", name, value)
	}
	return d, nil
}

// parseEvents converts event names. "all" or an empty list accepts every kind.
func parseEvents(names []string) ([]watcher.Kind, error) {
	var kinds []watcher.Kind
	for _, name := range names {
		if strings.EqualFold(strings.TrimSpace(name), "all") {
			return nil, nil
		}
		kind, err := watcher.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

func pickString(local, global, fallback string) string {
	if local != "" {
		return local
	}
	if global != "" {
		return global
	}
	return fallback
}

func pickBool(local, global *bool, fallback bool) bool {
	if local != nil {
		return *local
	}
	if global != nil {
		return *global
	}
	return fallback
}
