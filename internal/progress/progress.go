// Package progress implements a thread-safe aggregator of per-URL transfer
// state. A background worker mutates it while an observer polls snapshots.
package progress

import (
	"sync"
	"time"
)

// Entry is the transfer state of a single URL.
type Entry struct {
	URL        string
	Percentage float64
	Begin      time.Time
	End        time.Time
}

// State is a point-in-time summary of an operation.
type State struct {
	Count      int
	Finished   int
	Failed     int
	Percentage float64
}

// Tracker accumulates transfer state for one operation. All access goes
// through a single mutex so snapshots never observe partial mutations.
type Tracker struct {
	mu       sync.Mutex
	name     string
	count    int
	entries  []Entry
	inflight []int
	finished []int
	failed   []int
	terminal map[string]bool
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{terminal: make(map[string]bool)}
}

// Reset clears all state, including the operation name and expected count.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = ""
	t.count = 0
	t.entries = nil
	t.inflight = nil
	t.finished = nil
	t.failed = nil
	t.terminal = make(map[string]bool)
}

// SetName labels the current operation.
func (t *Tracker) SetName(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.name = name
}

// Name returns the current operation label.
func (t *Tracker) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name
}

// SetCount sets the number of expected items. Values below 1 mean the count
// cannot be deduced.
func (t *Tracker) SetCount(count int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count = count
}

// Count returns the expected item count.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// Add appends a new in-flight entry for url.
func (t *Tracker) Add(url string, percentage float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{
		URL:        url,
		Percentage: percentage,
		Begin:      time.Now(),
	})
	t.inflight = append(t.inflight, len(t.entries)-1)
}

// Update sets the percentage of an in-flight url. An unknown url is a
// silent no-op.
func (t *Tracker) Update(url string, percentage float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for n := range t.entries {
		if t.entries[n].URL == url {
			t.entries[n].Percentage = percentage
			return
		}
	}
}

// MarkFinished moves url out of the in-flight set into the finished set.
func (t *Tracker) MarkFinished(url string) {
	t.mark(url, &t.finished)
}

// MarkFailed moves url out of the in-flight set into the failed set.
func (t *Tracker) MarkFailed(url string) {
	t.mark(url, &t.failed)
}

// mark classifies url into the given terminal set. A url is classified at
// most once; unknown urls are a silent no-op.
func (t *Tracker) mark(url string, dest *[]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.terminal[url] {
		return
	}
	for n := range t.entries {
		if t.entries[n].URL != url {
			continue
		}
		for k, pos := range t.inflight {
			if pos == n {
				t.inflight = append(t.inflight[:k], t.inflight[k+1:]...)
				break
			}
		}
		t.entries[n].End = time.Now()
		*dest = append(*dest, n)
		t.terminal[url] = true
		return
	}
}

// Total returns a snapshot of the operation. The percentage is the share of
// expected items seen so far, or 0 when the expected count is unknown.
func (t *Tracker) Total() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	var percentage float64
	if t.count > 0 {
		percentage = float64(len(t.entries)) / float64(t.count) * 100
	}
	return State{
		Count:      t.count,
		Finished:   len(t.finished),
		Failed:     len(t.failed),
		Percentage: percentage,
	}
}

// InFlight returns a copy of the entries currently in flight.
func (t *Tracker) InFlight() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(t.inflight)
}

// Finished returns a copy of the successfully completed entries.
func (t *Tracker) Finished() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(t.finished)
}

// Failed returns a copy of the failed entries.
func (t *Tracker) Failed() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.collect(t.failed)
}

func (t *Tracker) collect(positions []int) []Entry {
	entries := make([]Entry, 0, len(positions))
	for _, pos := range positions {
		entries = append(entries, t.entries[pos])
	}
	return entries
}
