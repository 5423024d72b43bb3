// Package presence tracks how many viewers are watching a shared document.
// The server is authoritative; the tracker only stores its latest count.
package presence

import "sync"

type Tracker struct {
	mu    sync.Mutex
	count int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetCount replaces the tracked count. Negative counts are stored as 0.
// It reports whether the stored value changed.
func (t *Tracker) SetCount(n int) bool {
	if n < 0 {
		n = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	changed := t.count != n
	t.count = n
	return changed
}

// Reset is called when the transport disconnects.
func (t *Tracker) Reset() bool {
	return t.SetCount(0)
}

func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
