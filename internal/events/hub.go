// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// EVENT NAMES
// =============================================================================

const (
	// IncomingText carries the rewritten text from any ingress source.
	IncomingText = "incoming_text"

	// HTTPServerFailed carries a ServerFailure when the listener cannot start.
	HTTPServerFailed = "http_server_failed"

	// TranslationHistoryUpdated has no payload; subscribers re-fetch the history.
	TranslationHistoryUpdated = "translation_history_updated"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// ErrHubClosed is returned by Emit after Close.
var ErrHubClosed = errors.New("events: hub closed")

// =============================================================================
// TYPES
// =============================================================================

// Emitter publishes a named event.
type Emitter interface {
	Emit(event string, payload any) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, payload any) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(event string, payload any) error {
	return f(event, payload)
}

// ServerFailure is the payload of HTTPServerFailed.
type ServerFailure struct {
	Port    int    `json:"port"`
	Message string `json:"message"`
}

// Envelope is the wire form of an event.
type Envelope struct {
	ID      string          `json:"id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Time    time.Time       `json:"time"`
}

// Subscription receives envelopes until it or its hub is closed.
type Subscription struct {
	C <-chan Envelope

	ch      chan Envelope
	hub     *Hub
	dropped atomic.Int64
	once    sync.Once
}

// Close detaches the subscription from its hub.
func (s *Subscription) Close() {
	s.hub.remove(s)
}

// Dropped returns how many envelopes were skipped because the queue was full.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// =============================================================================
// HUB
// =============================================================================

// Hub fans events out to every subscriber. A subscriber whose queue is full
// misses the event instead of blocking the emitter.
type Hub struct {
	subs   map[*Subscription]struct{}
	closed bool
	buffer int
	logger *zap.Logger
	onDrop func(event string)
	mu     sync.RWMutex
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithBuffer sets the per-subscriber queue length.
func WithBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithDropHook is called with the event name whenever a subscriber misses one.
func WithDropHook(fn func(event string)) HubOption {
	return func(h *Hub) { h.onDrop = fn }
}

// NewHub creates a hub with no subscribers.
func NewHub(logger *zap.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		subs:   make(map[*Subscription]struct{}),
		buffer: DefaultBuffer,
		logger: logger.Named("events"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Emit encodes payload and delivers it to all current subscribers. A nil
// payload produces an envelope without one.
func (h *Hub) Emit(event string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", event, err)
		}
		raw = data
	}
	env := Envelope{
		ID:      uuid.NewString(),
		Event:   event,
		Payload: raw,
		Time:    time.Now().UTC(),
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	for sub := range h.subs {
		select {
		case sub.ch <- env:
		default:
			sub.dropped.Add(1)
			h.logger.Warn("EVENT_DROPPED", zap.String("event", event), zap.String("id", env.ID))
			if h.onDrop != nil {
				h.onDrop(event)
			}
		}
	}
	h.logger.Debug("EVENT_EMITTED", zap.String("event", event), zap.Int("subscribers", len(h.subs)))
	return nil
}

// Subscribe registers a new subscriber. Subscribing to a closed hub returns a
// subscription whose channel is already closed.
func (h *Hub) Subscribe() *Subscription {
	ch := make(chan Envelope, h.buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.once.Do(func() { close(ch) })
		return sub
	}
	h.subs[sub] = struct{}{}
	return sub
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later Emit calls fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		delete(h.subs, sub)
		sub.once.Do(func() { close(sub.ch) })
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
	sub.once.Do(func() { close(sub.ch) })
}
