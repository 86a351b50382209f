package tools

import (
	"fmt"
	"strings"

	"github.com/lexandro/taskwatch/engine"
	"github.com/lexandro/taskwatch/history"
	"github.com/lexandro/taskwatch/target"
)

// FormatTargetStatus formats the state of one target as human-readable text.
func FormatTargetStatus(ts engine.TargetStatus) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("── %s ──\n", ts.Name))
	builder.WriteString(fmt.Sprintf("  State: %s", ts.State))
	switch {
	case ts.RunningID != "":
		builder.WriteString(fmt.Sprintf(" (run %s)", ts.RunningID))
	case ts.PendingFiles > 0:
		builder.WriteString(fmt.Sprintf(" (%d files pending)", ts.PendingFiles))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("  Cwd: %s\n", ts.Cwd))
	builder.WriteString(fmt.Sprintf("  Patterns: %s\n", strings.Join(ts.Patterns, ", ")))

	if last := ts.LastRun; last != nil {
		builder.WriteString(fmt.Sprintf("  Last run: %s in %s, %d files, finished %s\n",
			outcomeLabel(last.Outcome, last.Fatal),
			target.FormatSeconds(last.Duration),
			last.Files,
			last.Finished.Format("15:04:05"),
		))
		if last.Reason != "" {
			builder.WriteString(fmt.Sprintf("  Reason: %s\n", last.Reason))
		}
	}
	return builder.String()
}

// FormatRecords formats run history records, newest first, as
// human-readable text.
func FormatRecords(records []history.Record) string {
	if len(records) == 0 {
		return "No runs found."
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Found %d runs:\n\n", len(records)))

	for _, rec := range records {
		builder.WriteString(fmt.Sprintf("  %s  %-12s %-20s %s  (%d files)\n",
			rec.Started.Format("2006-01-02 15:04:05"),
			rec.Target,
			outcomeLabel(rec.Outcome, rec.Fatal),
			target.FormatSeconds(rec.Duration),
			len(rec.Files),
		))
		if len(rec.Files) > 0 {
			builder.WriteString(fmt.Sprintf("      files: %s\n", strings.Join(rec.Files, ", ")))
		}
		if rec.Reason != "" {
			builder.WriteString(fmt.Sprintf("      reason: %s\n", rec.Reason))
		}
	}

	return builder.String()
}

func outcomeLabel(outcome string, fatal bool) string {
	if fatal {
		return outcome + " (fatal)"
	}
	return outcome
}
