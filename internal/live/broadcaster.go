// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

// Package live carries signals to long-lived client connections.
package live

import (
	"log/slog"
	"sync"
)

// Signal is an event addressed to every connection subscribed to a topic.
type Signal struct {
	Topic string
	Event string
}

// EventDisconnect tells a connection to terminate because the identity it
// was authenticated under has been revoked.
const EventDisconnect = "disconnect"

// Broadcaster distributes signals to subscribers. Delivery is
// fire-and-forget: a subscriber with a full buffer misses the signal.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string][]chan Signal
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[string][]chan Signal),
	}
}

// Subscribe creates a channel receiving signals for a topic.
func (b *Broadcaster) Subscribe(topic string) chan Signal {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Signal, 8)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}

// Unsubscribe removes a channel from a topic and closes it.
func (b *Broadcaster) Unsubscribe(topic string, ch chan Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, sub := range subs {
		if sub == ch {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// Broadcast sends a signal to all subscribers of its topic.
func (b *Broadcaster) Broadcast(sig Signal) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[sig.Topic] {
		select {
		case ch <- sig:
		default:
			slog.Warn("signal dropped: subscriber buffer full",
				"topic", sig.Topic,
				"event", sig.Event,
			)
		}
	}
}

// Disconnect broadcasts a disconnect signal to a topic. Not acknowledged;
// the caller never blocks on delivery.
func (b *Broadcaster) Disconnect(topic string) {
	b.Broadcast(Signal{Topic: topic, Event: EventDisconnect})
}
