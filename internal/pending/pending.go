// Package pending implements the UDP→TCP handoff table: a mutex-guarded
// map from sender IP to pending TransferExpected entries, with
// idle-window expiry swept opportunistically on access (spec.md §5).
package pending

import (
	"net"
	"sync"
	"time"
)

// Entry is the Go realization of a TransferExpected record (spec.md §3).
type Entry struct {
	SenderIP string // net.IP.String() form, used as the map key too
	SrcName  string
	AddedAt  time.Time
}

// Table is the pending-transfer table. The zero value is not usable;
// construct with New.
type Table struct {
	mu         sync.Mutex
	entries    map[string][]Entry
	idleWindow time.Duration
}

// New creates a Table that expires entries older than idleWindow.
func New(idleWindow time.Duration) *Table {
	return &Table{
		entries:    make(map[string][]Entry),
		idleWindow: idleWindow,
	}
}

// Add records that senderIP has announced an imminent TCP transfer.
func (t *Table) Add(senderIP net.IP, srcName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := senderIP.String()
	t.sweepLocked(key)
	t.entries[key] = append(t.entries[key], Entry{
		SenderIP: key,
		SrcName:  srcName,
		AddedAt:  time.Now(),
	})
}

// Take matches the oldest pending entry for senderIP (first-come-first-
// served) and removes it, reporting whether a match existed. Expired
// entries are swept first.
func (t *Table) Take(senderIP net.IP) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := senderIP.String()
	t.sweepLocked(key)

	list := t.entries[key]
	if len(list) == 0 {
		return Entry{}, false
	}

	head := list[0]
	remaining := list[1:]
	if len(remaining) == 0 {
		delete(t.entries, key)
	} else {
		t.entries[key] = remaining
	}
	return head, true
}

// sweepLocked drops entries older than idleWindow for key. Callers must
// hold t.mu.
func (t *Table) sweepLocked(key string) {
	list := t.entries[key]
	if len(list) == 0 {
		return
	}

	cutoff := time.Now().Add(-t.idleWindow)
	fresh := list[:0]
	for _, e := range list {
		if e.AddedAt.After(cutoff) {
			fresh = append(fresh, e)
		}
	}
	if len(fresh) == 0 {
		delete(t.entries, key)
		return
	}
	t.entries[key] = fresh
}

// Len reports the total number of live (un-swept) entries across all
// senders. Intended for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for key := range t.entries {
		t.sweepLocked(key)
		n += len(t.entries[key])
	}
	return n
}
