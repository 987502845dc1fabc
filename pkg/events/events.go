// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events publishes converter activity (startup progress, bill table,
// validator status changes) to outside consumers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind identifies the type of an event
type Kind string

const (
	KindPhase     Kind = "phase"
	KindBillTable Kind = "bill_table"
	KindStatus    Kind = "status"
)

// Event is one notification. Fields not relevant to the kind are empty.
type Event struct {
	Kind Kind      `json:"kind"`
	Time time.Time `json:"time"`

	Phase string `json:"phase,omitempty"`

	Currency      string   `json:"currency,omitempty"`
	Denominations []uint32 `json:"denominations,omitempty"`

	Downstream string `json:"downstream,omitempty"`
	Upstream   string `json:"upstream,omitempty"`
	Code       byte   `json:"code,omitempty"`
	Detail     []byte `json:"detail,omitempty"`
}

// Publisher delivers events
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Async decouples a slow Publisher from the converter loop. Events are
// queued and dropped when the queue is full.
type Async struct {
	next    Publisher
	queue   chan Event
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewAsync starts a goroutine delivering to next
func NewAsync(next Publisher, buffer int, logger *slog.Logger) *Async {
	a := &Async{
		next:   next,
		queue:  make(chan Event, buffer),
		logger: logger,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for e := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := a.next.Publish(ctx, e); err != nil {
			a.logger.Warn("event publish failed", "kind", e.Kind, "error", err)
		}
		cancel()
	}
}

// Publish queues e without blocking
func (a *Async) Publish(_ context.Context, e Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	select {
	case a.queue <- e:
	default:
		a.dropped++
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full
func (a *Async) Dropped() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// Close flushes queued events and closes the wrapped publisher
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	a.wg.Wait()
	return a.next.Close()
}
