// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history keeps the bounded, in-memory log of translations made
// during this session.
package history

import (
	"strings"
	"sync"
)

// Capacity is the maximum number of entries kept. Older entries are dropped
// first.
const Capacity = 1000

// Entry is one recorded translation.
type Entry struct {
	Original    string `json:"original"`
	Translation string `json:"translation"`
}

// Notifier is called after each successful Record, outside the log's lock.
type Notifier func()

// Log is an append-only ledger with a fixed capacity.
type Log struct {
	entries  []Entry
	capacity int
	notify   Notifier
	mu       sync.Mutex
}

// New creates an empty log. notify may be nil.
func New(notify Notifier) *Log {
	return newWithCapacity(Capacity, notify)
}

func newWithCapacity(capacity int, notify Notifier) *Log {
	return &Log{
		entries:  make([]Entry, 0, 64),
		capacity: capacity,
		notify:   notify,
	}
}

// Record appends an entry and evicts the oldest ones beyond capacity. It does
// nothing and returns false if either field is blank.
func (l *Log) Record(original, translation string) bool {
	if strings.TrimSpace(original) == "" || strings.TrimSpace(translation) == "" {
		return false
	}

	l.mu.Lock()
	l.entries = append(l.entries, Entry{Original: original, Translation: translation})
	if over := len(l.entries) - l.capacity; over > 0 {
		// Copy down so the backing array does not grow without bound.
		n := copy(l.entries, l.entries[over:])
		clear(l.entries[n:])
		l.entries = l.entries[:n]
	}
	l.mu.Unlock()

	if l.notify != nil {
		l.notify()
	}
	return true
}

// List returns a copy of the entries, oldest first.
func (l *Log) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
