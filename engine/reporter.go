package engine

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/lexandro/taskwatch/target"
	"github.com/lexandro/taskwatch/watcher"
)

// Reporter writes the operator-facing console lines. Their wording is
// stable so that other tools can grep for them. Every line is mirrored to
// the logger at debug level.
type Reporter struct {
	mu     sync.Mutex
	out    io.Writer
	logger *slog.Logger
}

// NewReporter creates a reporter writing to out.
func NewReporter(out io.Writer, logger *slog.Logger) *Reporter {
	return &Reporter{out: out, logger: logger}
}

// FileChanged prints `>> File "lib/one.js" changed.`.
func (r *Reporter) FileChanged(path string, kind watcher.Kind) {
	r.printf(">> File %q %s.", path, kind)
}

// Waiting prints the idle marker.
func (r *Reporter) Waiting() {
	r.printf("Waiting...")
}

// Done prints the completion marker of a finished run.
func (r *Reporter) Done(failed bool) {
	if failed {
		r.printf("Done, with errors.")
		return
	}
	r.printf("Done, without errors.")
}

// Completed prints the timing line. When waiting is true the idle marker is
// appended, so one completed cycle prints "Waiting..." exactly once.
func (r *Reporter) Completed(elapsed time.Duration, at time.Time, dateFormat string, waiting bool) {
	line := fmt.Sprintf("Completed in %s at %s", target.FormatSeconds(elapsed), target.FormatTime(at, dateFormat))
	if waiting {
		line += " - Waiting..."
	}
	r.printf("%s", line)
}

// Warning prints an ordinary task failure.
func (r *Reporter) Warning(err error) {
	r.printf("Warning: %v", err)
}

// Fatal prints a fatal task failure.
func (r *Reporter) Fatal(err error) {
	r.printf("Fatal error: %v", err)
}

// Interrupted prints the notice for a cancelled run.
func (r *Reporter) Interrupted() {
	r.printf("Previously spawned task has been interrupted...")
}

// Reloading prints the notice shown before the watch loop restarts.
func (r *Reporter) Reloading() {
	r.printf("Reloading watch config...")
}

func (r *Reporter) printf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	fmt.Fprintln(r.out, line)
	r.mu.Unlock()
	r.logger.Debug("console", "line", line)
}
