// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Assembler states
const (
	stateWaitSync1 = iota
	stateWaitSync2
	stateWaitLength
	stateWaitData
)

// Clock supplies the current time. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock
var SystemClock Clock = systemClock{}

// AssemblerCounters are running totals kept by an Assembler
type AssemblerCounters struct {
	Bytes     uint64
	Frames    uint64
	Timeouts  uint64
	Discarded uint64
	Overwrote uint64
}

// Assembler cuts complete frames out of a received byte stream. Feed is
// called from the goroutine that reads the link; Take is called from the
// goroutine that consumes frames. A frame becomes visible to Take only once
// its last byte has arrived.
type Assembler struct {
	framing Framing
	clock   Clock

	mu       sync.Mutex
	state    int
	buffer   [MaxFrameSize]byte
	index    int
	length   int
	lastByte time.Time
	frame    []byte
	counters AssemblerCounters

	ready  *atomic.Bool
	notify chan struct{}
}

// NewAssembler creates an assembler for the given framing. A nil clock uses
// the system clock.
func NewAssembler(f Framing, clock Clock) (*Assembler, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock
	}
	return &Assembler{
		framing: f,
		clock:   clock,
		state:   stateWaitSync1,
		ready:   atomic.NewBool(false),
		notify:  make(chan struct{}, 1),
	}, nil
}

// Reset drops any partial frame and any frame not yet taken
func (a *Assembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
	a.frame = nil
	a.ready.Store(false)
}

func (a *Assembler) resetLocked() {
	a.state = stateWaitSync1
	a.index = 0
	a.length = 0
}

// Feed processes one received byte. It never blocks.
func (a *Assembler) Feed(b byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	a.counters.Bytes++

	// A silent gap inside a frame means the rest of it was lost
	if a.state != stateWaitSync1 && a.framing.InterByteTimeout > 0 &&
		now.Sub(a.lastByte) > a.framing.InterByteTimeout {
		a.counters.Timeouts++
		a.resetLocked()
	}
	a.lastByte = now

	pattern := a.framing.Sync

	switch a.state {
	case stateWaitSync1:
		if b != pattern[0] {
			a.counters.Discarded++
			return
		}
		a.buffer[0] = b
		a.index = 1
		if len(pattern) == 2 {
			a.state = stateWaitSync2
		} else {
			a.state = stateWaitLength
		}

	case stateWaitSync2:
		if b == pattern[1] {
			a.buffer[1] = b
			a.index = 2
			a.state = stateWaitLength
			return
		}
		if b == pattern[0] {
			// re-anchor on a repeated first sync byte
			a.buffer[0] = b
			a.index = 1
			return
		}
		a.counters.Discarded += uint64(a.index) + 1
		a.resetLocked()

	case stateWaitLength:
		length := FrameLength(b, a.framing.LengthOffset, a.framing.MaxFrameLength())
		if length < len(pattern)+1 || length > MaxFrameSize {
			a.counters.Discarded += uint64(a.index) + 1
			a.resetLocked()
			return
		}
		a.length = length
		a.buffer[a.index] = b
		a.index++
		if a.index == a.length {
			a.completeLocked()
			return
		}
		a.state = stateWaitData

	case stateWaitData:
		a.buffer[a.index] = b
		a.index++
		if a.index == a.length {
			a.completeLocked()
		}
	}
}

// FeedBytes feeds every byte in data
func (a *Assembler) FeedBytes(data []byte) {
	for _, b := range data {
		a.Feed(b)
	}
}

func (a *Assembler) completeLocked() {
	if a.ready.Load() {
		a.counters.Overwrote++
	}
	a.frame = append(a.frame[:0], a.buffer[:a.length]...)
	a.counters.Frames++
	a.resetLocked()
	a.ready.Store(true)

	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Ready reports whether a completed frame is waiting to be taken
func (a *Assembler) Ready() bool {
	return a.ready.Load()
}

// Take returns the completed frame and clears the ready flag. The returned
// slice is a copy owned by the caller.
func (a *Assembler) Take() ([]byte, bool) {
	if !a.ready.Load() {
		return nil, false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.ready.Swap(false) {
		return nil, false
	}
	return append([]byte(nil), a.frame...), true
}

// Notify returns a channel that receives a value after each completed frame.
// Signals are coalesced, so callers must drain with Take.
func (a *Assembler) Notify() <-chan struct{} {
	return a.notify
}

// Framing returns the parameters the assembler was built with
func (a *Assembler) Framing() Framing {
	return a.framing
}

// Counters returns a snapshot of the running totals
func (a *Assembler) Counters() AssemblerCounters {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters
}
