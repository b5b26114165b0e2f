// Package pending holds HTTP invocations that have been submitted to the
// host and are waiting for their result.
package pending

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morezero/invoke-bridge/pkg/invoke"
)

var (
	// ErrDuplicate is returned when a correlation id is already outstanding.
	ErrDuplicate = errors.New("pending: correlation id already outstanding")
	// ErrNotFound is returned when no entry exists for a correlation id.
	ErrNotFound = errors.New("pending: correlation id not found")
)

// Entry is a held connection. Done has capacity 1 so the responder never
// blocks on a connection whose view has gone away.
type Entry struct {
	View      string
	Origin    string
	Done      chan invoke.Result
	CreatedAt time.Time

	abandoned atomic.Bool
}

// NewEntry creates an entry for a request on view from origin.
func NewEntry(view, origin string) *Entry {
	return &Entry{
		View:      view,
		Origin:    origin,
		Done:      make(chan invoke.Result, 1),
		CreatedAt: time.Now(),
	}
}

// Abandon marks the entry's connection as gone. The entry stays in the
// table until its result arrives.
func (e *Entry) Abandon() { e.abandoned.Store(true) }

// Abandoned reports whether the view disconnected before the result.
func (e *Entry) Abandoned() bool { return e.abandoned.Load() }

// Table maps correlation ids to held connections. The lock is only held
// for the map operation itself.
type Table struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]*Entry)}
}

// Insert registers e under id.
func (t *Table) Insert(id string, e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; ok {
		return ErrDuplicate
	}
	t.entries[id] = e
	return nil
}

// Remove claims and deletes the entry for id. Exactly one caller wins.
func (t *Table) Remove(id string) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(t.entries, id)
	return e, nil
}

// Len returns the number of outstanding entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
