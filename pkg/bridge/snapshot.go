// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"time"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/mapper"
)

// Snapshot is a copy of the converter state for display
type Snapshot struct {
	Phase         Phase
	PollPhase     PollPhase
	PollPeriod    time.Duration
	LastStatus    string
	LastUpstream  string
	MappedStatus  string
	StatusAge     time.Duration
	StatusFresh   bool
	Loaded        bool
	Currency      string
	Denominations []uint32
	Enabled       uint32
	Upstream      bp.LinkStats
	Downstream    bp.LinkStats
}

// Snapshot returns the state captured at the end of the last Process call.
// Safe to call from any goroutine.
func (b *Bridge) Snapshot() Snapshot {
	b.snapMu.Lock()
	defer b.snapMu.Unlock()
	s := b.snap
	s.Denominations = append([]uint32(nil), b.snap.Denominations...)
	return s
}

func (b *Bridge) updateSnapshot() {
	s := Snapshot{
		Phase:       b.Phase(),
		PollPhase:   b.pollPhase,
		PollPeriod:  b.pollPeriod.Load(),
		StatusFresh: b.statusFresh(),
		Loaded:      b.table.Loaded,
		Currency:    b.table.Currency,
		Enabled:     b.table.UpstreamEnabled,
		Upstream:    b.up.Stats().Snapshot(),
		Downstream:  b.down.Stats().Snapshot(),
	}
	if b.lastStatus != nil {
		s.LastStatus = b.lastStatus.Name()
		s.StatusAge = b.clock.Now().Sub(b.lastStatusAt)
		if code, _, ok := mapper.StatusCode(b.lastStatus); ok {
			s.MappedStatus = bp.FormatOpcode(bp.ProtocolCCNET, bp.Receive, code)
		}
	}
	if b.lastUpstream != nil {
		s.LastUpstream = b.lastUpstream.Name()
	}
	for _, d := range b.table.Denominations {
		s.Denominations = append(s.Denominations, d.Value)
	}

	b.snapMu.Lock()
	b.snap = s
	b.snapMu.Unlock()
}
