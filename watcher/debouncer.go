package watcher

import (
	"sort"
	"sync"
	"time"
)

// DefaultDebounce is the quiet period used when a target does not set one.
const DefaultDebounce = 500 * time.Millisecond

// minDebounce keeps a zero window from sealing events of the same burst apart.
const minDebounce = 10 * time.Millisecond

// Change is one path inside a Batch together with its latest kind.
type Change struct {
	Path string
	Kind Kind
}

// Batch is a sealed set of changes for one target. Paths are relative to the
// target's working directory, unique and sorted.
type Batch struct {
	Target  string
	Changes []Change
	Opened  time.Time
	Sealed  time.Time
}

// Paths returns the changed paths in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Changes))
	for i, c := range b.Changes {
		paths[i] = c.Path
	}
	return paths
}

// Len returns the number of changed paths.
func (b Batch) Len() int {
	return len(b.Changes)
}

// Merge returns the union of b and newer. For a path present in both, the
// kind from newer wins.
func (b Batch) Merge(newer Batch) Batch {
	kinds := make(map[string]Kind, len(b.Changes)+len(newer.Changes))
	for _, c := range b.Changes {
		kinds[c.Path] = c.Kind
	}
	for _, c := range newer.Changes {
		kinds[c.Path] = c.Kind
	}

	merged := Batch{
		Target:  b.Target,
		Changes: sortedChanges(kinds),
		Opened:  b.Opened,
		Sealed:  b.Sealed,
	}
	if merged.Target == "" {
		merged.Target = newer.Target
	}
	if merged.Opened.IsZero() || (!newer.Opened.IsZero() && newer.Opened.Before(merged.Opened)) {
		merged.Opened = newer.Opened
	}
	if newer.Sealed.After(merged.Sealed) {
		merged.Sealed = newer.Sealed
	}
	return merged
}

func sortedChanges(kinds map[string]Kind) []Change {
	changes := make([]Change, 0, len(kinds))
	for path, kind := range kinds {
		changes = append(changes, Change{Path: path, Kind: kind})
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Path < changes[j].Path
	})
	return changes
}

// Debouncer collects the changes of one target and emits a sealed Batch after
// a quiet period. Every Add resets the timer, so the window only closes once
// no event has arrived for the full interval.
type Debouncer struct {
	target   string
	interval time.Duration
	output   chan<- Batch
	done     chan struct{}

	mu         sync.Mutex
	changes    map[string]Kind
	opened     time.Time
	timer      *time.Timer
	generation uint64
	stopped    bool
}

// NewDebouncer creates a debouncer for target that delivers sealed batches
// on output. A zero interval falls back to a minimal window.
func NewDebouncer(target string, interval time.Duration, output chan<- Batch) *Debouncer {
	if interval < minDebounce {
		interval = minDebounce
	}
	return &Debouncer{
		target:   target,
		interval: interval,
		output:   output,
		done:     make(chan struct{}),
		changes:  make(map[string]Kind),
	}
}

// Interval returns the effective quiet period.
func (d *Debouncer) Interval() time.Duration {
	return d.interval
}

// Add adds a change to the open batch, opening one if needed, and restarts
// the quiet period.
func (d *Debouncer) Add(path string, kind Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if len(d.changes) == 0 {
		d.opened = time.Now()
	}
	d.changes[path] = kind

	if d.timer != nil {
		d.timer.Stop()
	}
	d.generation++
	gen := d.generation
	d.timer = time.AfterFunc(d.interval, func() { d.fire(gen) })
}

// FireNow seals whatever is open right away, even an empty batch.
func (d *Debouncer) FireNow() {
	d.mu.Lock()
	batch, ok := d.sealLocked(true)
	d.mu.Unlock()
	if ok {
		d.deliver(batch)
	}
}

// Stop cancels the pending timer and drops the open batch.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.changes = make(map[string]Kind)
	close(d.done)
}

// fire is the timer callback. A callback from a timer that has since been
// reset carries an old generation and does nothing.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.generation {
		d.mu.Unlock()
		return
	}
	batch, ok := d.sealLocked(false)
	d.mu.Unlock()
	if ok {
		d.deliver(batch)
	}
}

func (d *Debouncer) sealLocked(allowEmpty bool) (Batch, bool) {
	if d.stopped || (len(d.changes) == 0 && !allowEmpty) {
		return Batch{}, false
	}
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.generation++

	now := time.Now()
	opened := d.opened
	if opened.IsZero() {
		opened = now
	}
	batch := Batch{
		Target:  d.target,
		Changes: sortedChanges(d.changes),
		Opened:  opened,
		Sealed:  now,
	}
	d.changes = make(map[string]Kind)
	d.opened = time.Time{}
	return batch, true
}

func (d *Debouncer) deliver(batch Batch) {
	select {
	case d.output <- batch:
	case <-d.done:
	}
}
