package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lexandro/taskwatch/config"
	"github.com/lexandro/taskwatch/engine"
	"github.com/lexandro/taskwatch/history"
	"github.com/lexandro/taskwatch/ignore"
	"github.com/lexandro/taskwatch/livereload"
	"github.com/lexandro/taskwatch/runner"
	"github.com/lexandro/taskwatch/server"
	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/tools"
	"github.com/lexandro/taskwatch/watcher"
)

// watchSession is one invocation of the watch command. It outlives the
// engines it builds: each reload gets a fresh engine while the ledger,
// servers and interrupt channel stay.
type watchSession struct {
	load       func() (*config.File, error)
	names      []string
	stdout     io.Writer
	stderr     io.Writer
	logger     *slog.Logger
	interrupts <-chan struct{}

	reporter *engine.Reporter
	ledger   *history.Ledger
	holder   *engine.Holder
	notifier engine.Notifier
}

func runWatch(cmd *cobra.Command, opts *rootOptions, names []string) error {
	logger, logCloser := setupLogger(opts.logLevel, opts.logFile)
	defer logCloser.Close()

	// SIGTERM ends the process; SIGINT goes to the engine as an operator
	// interrupt so that the first one only cancels the active run.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	interrupts := make(chan struct{}, 1)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt)
	defer signal.Stop(signals)
	go forwardInterrupts(ctx, signals, interrupts)

	session := &watchSession{
		load:       func() (*config.File, error) { return loadConfig(cmd, opts) },
		names:      names,
		stdout:     cmd.OutOrStdout(),
		stderr:     cmd.ErrOrStderr(),
		logger:     logger,
		interrupts: interrupts,
	}
	return session.run(ctx)
}

// forwardInterrupts turns signals into operator interrupts. A pending
// interrupt is not doubled up.
func forwardInterrupts(ctx context.Context, signals <-chan os.Signal, interrupts chan<- struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
			select {
			case interrupts <- struct{}{}:
			default:
			}
		}
	}
}

// run loads the configuration, starts the long-lived servers and runs watch
// cycles until one ends without asking for a reload.
func (s *watchSession) run(ctx context.Context) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	targets, err := cfg.Targets(s.names...)
	if err != nil {
		return err
	}

	s.reporter = engine.NewReporter(s.stdout, s.logger)
	s.holder = &engine.Holder{}
	s.ledger, err = history.NewLedger(history.DefaultLimit)
	if err != nil {
		return fmt.Errorf("creating run ledger: %w", err)
	}
	defer s.ledger.Close()

	s.logger.Info("starting taskwatch",
		"config", cfg.Path(),
		"targets", len(targets),
		"concurrent", cfg.Options.Concurrent,
	)

	serversCtx, stopServers := context.WithCancel(ctx)
	defer stopServers()
	g, gctx := errgroup.WithContext(serversCtx)

	if config.LiveReloadWanted(targets) {
		lr := livereload.NewServer(cfg.LiveReload.Addr, s.logger)
		if err := lr.Start(); err != nil {
			return fmt.Errorf("starting livereload server: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lr.Stop(stopCtx); err != nil {
				s.logger.Warn("livereload server stop failed", "error", err)
			}
		}()
		s.notifier = lr
	}

	if addr := cfg.Control.Addr; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on control address %s: %w", addr, err)
		}
		mcpServer := server.Setup(
			&tools.StatusHandler{Engine: s.holder, StartTime: time.Now(), ConfigPath: cfg.Path(), Logger: s.logger},
			&tools.TriggerHandler{Engine: s.holder, Logger: s.logger},
			&tools.HistoryHandler{Ledger: s.ledger, Logger: s.logger},
		)
		g.Go(func() error {
			return server.Serve(gctx, ln, server.NewHTTPHandler(mcpServer), s.logger)
		})
	}

	g.Go(func() error {
		defer stopServers()
		return s.loop(gctx, cfg)
	})
	return g.Wait()
}

// loop runs cycles, reloading the configuration whenever a cycle asks for
// it. A configuration that fails to load keeps the previous one in place.
func (s *watchSession) loop(ctx context.Context, cfg *config.File) error {
	for {
		err := s.cycle(ctx, cfg)
		if !errors.Is(err, engine.ErrReload) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		next, loadErr := s.load()
		if loadErr == nil {
			_, loadErr = next.Targets(s.names...)
		}
		if loadErr != nil {
			s.logger.Error("reloading config failed, keeping previous config", "error", loadErr)
			s.reporter.Warning(fmt.Errorf("reloading config: %w", loadErr))
			continue
		}
		s.logger.Info("config reloaded", "config", next.Path())
		cfg = next
	}
}

// cycle builds the watcher and engine for cfg and runs them until the engine
// returns.
func (s *watchSession) cycle(ctx context.Context, cfg *config.File) error {
	targets, err := cfg.Targets(s.names...)
	if err != nil {
		return err
	}
	resolver, err := target.NewResolver(targets)
	if err != nil {
		return fmt.Errorf("resolving targets: %w", err)
	}

	matcher, err := ignore.NewMatcher(ignore.MatcherOptions{
		RootDir:        cfg.Dir(),
		CustomPatterns: cfg.Ignore,
		UseGitignore:   cfg.Gitignore,
	})
	if err != nil {
		return fmt.Errorf("creating ignore matcher: %w", err)
	}

	fileWatcher, err := watcher.NewWatcher(resolver.Roots(), matcher, s.logger)
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}

	dispatcher := runner.NewDispatcher(s.logger)
	for _, t := range targets {
		dispatcher.Register(t.Name, &runner.CommandTask{
			Commands:       t.Tasks,
			Dir:            t.Options.Cwd,
			Stdout:         s.stdout,
			Stderr:         s.stderr,
			Grace:          t.Options.InterruptGrace,
			FatalExitCodes: t.Options.FatalExitCodes,
			Logger:         s.logger.With("target", t.Name),
		})
	}

	e, err := engine.New(engine.Config{
		Targets:              targets,
		Concurrent:           cfg.Options.Concurrent,
		MaxConsecutiveFatals: cfg.Options.MaxConsecutiveFatals,
		Executor:             dispatcher,
		Events:               fileWatcher.Events(),
		Interrupts:           s.interrupts,
		Reporter:             s.reporter,
		Recorder:             s.ledger,
		Notifier:             s.notifier,
		Logger:               s.logger,
	})
	if err != nil {
		fileWatcher.Close()
		return err
	}
	s.holder.Set(e)
	defer s.holder.Set(nil)

	s.logger.Info("watching", "roots", fileWatcher.Roots(), "targets", len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fileWatcher.Start()
		return nil
	})
	g.Go(func() error {
		defer fileWatcher.Close()
		return e.Run(gctx)
	})
	return g.Wait()
}
