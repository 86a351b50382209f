package watcher

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the normalized type of a file system change.
type Kind int

const (
	KindAdded Kind = iota
	KindChanged
	KindDeleted
)

// String returns the word used in console output ("added", "changed", "deleted").
func (k Kind) String() string {
	switch k {
	case KindAdded:
		return "added"
	case KindChanged:
		return "changed"
	case KindDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration value into a Kind.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "added", "add", "create":
		return KindAdded, nil
	case "changed", "change", "write":
		return KindChanged, nil
	case "deleted", "delete", "remove":
		return KindDeleted, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", value)
	}
}

// Event is a single normalized change notification for an absolute path.
type Event struct {
	Path string
	Kind Kind
	Time time.Time
}
