package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type windowEntry struct {
	sid string
	ts  time.Time
}

// window is the sliding-window state for one threshold rule. Entries are kept
// sorted by timestamp; eviction is lazy, done on insertion. fired tracks
// whether the rule is currently at-or-above threshold so that matches are
// edge-triggered.
type window struct {
	mu      sync.Mutex
	entries []windowEntry
	fired   bool
}

// Aggregator maintains one window per threshold rule. Each window carries its
// own lock so unrelated rules never serialize on each other; the aggregator
// lock only guards the rule-id index.
type Aggregator struct {
	mu      sync.Mutex
	windows map[uuid.UUID]*window
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{windows: make(map[uuid.UUID]*window)}
}

func (a *Aggregator) window(ruleID uuid.UUID) *window {
	a.mu.Lock()
	defer a.mu.Unlock()
	w, ok := a.windows[ruleID]
	if !ok {
		w = &window{}
		a.windows[ruleID] = w
	}
	return w
}

// Prune drops window state for rules absent from keep, so deleted or disabled
// rules do not leak their windows across cycles.
func (a *Aggregator) Prune(keep map[uuid.UUID]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.windows {
		if _, ok := keep[id]; !ok {
			delete(a.windows, id)
		}
	}
}

// RecordAndCount inserts (sid, ts) into the rule's window, evicts entries
// outside the trailing span, and reports the resulting member count. fire is
// true only on the transition from below-threshold to at-or-above-threshold.
//
// Entries can reach the window out of timestamp order (parallel workers,
// newest-first source pages), so insertion places the entry in sorted
// position and eviction cuts against the newest timestamp seen, never the
// inserted one. An identifier already present is not inserted twice, so
// reprocessing an event after an aborted cycle leaves the count unchanged.
//
// After a match the window is kept (a sustained burst does not retrigger);
// the rule re-arms once the pruned count drops below the threshold. With
// clearOnMatch the window is emptied on fire instead, so every full refill
// produces a new match.
//
// Keeping only the newest `count` entries is lossless: if at least count
// events are inside the window, the newest count of them are too. That bounds
// memory per rule by the configured threshold, not by event volume.
func (a *Aggregator) RecordAndCount(ruleID uuid.UUID, sid string, ts time.Time, count int, span time.Duration, clearOnMatch bool) (members int, fire bool) {
	w := a.window(ruleID)
	w.mu.Lock()
	defer w.mu.Unlock()

	known := false
	for _, e := range w.entries {
		if e.sid == sid {
			known = true
			break
		}
	}
	if !known {
		i := len(w.entries)
		for i > 0 && w.entries[i-1].ts.After(ts) {
			i--
		}
		w.entries = append(w.entries, windowEntry{})
		copy(w.entries[i+1:], w.entries[i:])
		w.entries[i] = windowEntry{sid: sid, ts: ts}
	}

	cutoff := w.entries[len(w.entries)-1].ts.Add(-span)
	start := 0
	for start < len(w.entries) && w.entries[start].ts.Before(cutoff) {
		start++
	}
	if excess := len(w.entries) - start - count; excess > 0 {
		start += excess
	}
	if start > 0 {
		w.entries = append(w.entries[:0], w.entries[start:]...)
	}

	members = len(w.entries)

	if members >= count {
		if !w.fired {
			w.fired = true
			fire = true
			if clearOnMatch {
				w.entries = w.entries[:0]
				w.fired = false
			}
		}
	} else {
		w.fired = false
	}

	return members, fire
}
