// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"fmt"
	"sync"
	"time"
)

// LinkStats is a point-in-time copy of a link's counters
type LinkStats struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames    uint64
	ValidFrames    uint64
	CRCErrors      uint64
	LengthErrors   uint64
	HeaderErrors   uint64
	UnknownOpcodes uint64
	DataMissing    uint64
	ParseErrors    uint64
	Echoes         uint64
	Timeouts       uint64
	Retransmits    uint64
	Sent           uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// Errors returns the number of frames that failed to parse
func (s LinkStats) Errors() uint64 {
	return s.TotalFrames - s.ValidFrames
}

// String returns a formatted statistics summary
func (s LinkStats) String() string {
	errorPct := 0.0
	if s.TotalFrames > 0 {
		errorPct = float64(s.Errors()) / float64(s.TotalFrames) * 100
	}
	return fmt.Sprintf(
		"frames=%d valid=%d errors=%d (%.2f%%) crc=%d length=%d header=%d opcode=%d echoes=%d timeouts=%d retransmits=%d sent=%d rate=%.1f/s",
		s.TotalFrames, s.ValidFrames, s.Errors(), errorPct,
		s.CRCErrors, s.LengthErrors, s.HeaderErrors, s.UnknownOpcodes,
		s.Echoes, s.Timeouts, s.Retransmits, s.Sent, s.FrameRate,
	)
}

// Statistics tracks frame counts and error rates for one link. It is safe for
// concurrent use.
type Statistics struct {
	mu    sync.Mutex
	stats LinkStats
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{stats: LinkStats{StartTime: now, LastUpdateTime: now}}
}

// Update records the outcome of parsing one received frame
func (s *Statistics) Update(parseErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.stats
	st.TotalFrames++
	st.LastUpdateTime = time.Now()

	switch Classify(parseErr) {
	case Ok:
		st.ValidFrames++
	case CrcInvalid:
		st.CRCErrors++
	case InvalidLength:
		st.LengthErrors++
	case InvalidHeader:
		st.HeaderErrors++
	case UnknownOpcode:
		st.UnknownOpcodes++
	case DataMissingForOpcode:
		st.DataMissing++
	default:
		st.ParseErrors++
	}

	elapsed := time.Since(st.StartTime).Seconds()
	if elapsed > 0 {
		st.FrameRate = float64(st.TotalFrames) / elapsed
		st.ErrorRate = float64(st.Errors()) / elapsed
	}
}

// RecordEcho counts a frame that repeated our own request
func (s *Statistics) RecordEcho() {
	s.mu.Lock()
	s.stats.Echoes++
	s.mu.Unlock()
}

// RecordTimeout counts an exchange that got no usable reply in time
func (s *Statistics) RecordTimeout() {
	s.mu.Lock()
	s.stats.Timeouts++
	s.mu.Unlock()
}

// RecordRetransmit counts a request that was sent again
func (s *Statistics) RecordRetransmit() {
	s.mu.Lock()
	s.stats.Retransmits++
	s.mu.Unlock()
}

// RecordSent counts a transmitted frame
func (s *Statistics) RecordSent() {
	s.mu.Lock()
	s.stats.Sent++
	s.mu.Unlock()
}

// Snapshot returns a copy of the counters
func (s *Statistics) Snapshot() LinkStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	return s.Snapshot().String()
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.stats = LinkStats{StartTime: now, LastUpdateTime: now}
}
