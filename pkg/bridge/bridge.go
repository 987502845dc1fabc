// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bridge runs the protocol converter: it brings up the downstream
// validator, keeps its status fresh with a background poll, and answers every
// command from the upstream CCNET host by talking to the validator in its own
// protocol.
//
// All state is owned by the goroutine calling Process (or Run). The only
// work done elsewhere is byte assembly in each link's receive goroutine.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"go.uber.org/atomic"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/billtable"
	"github.com/Thermoquad/billbridge/pkg/events"
	"github.com/Thermoquad/billbridge/pkg/mapper"
)

// Default timings
const (
	DefaultPollPeriod       = 100 * time.Millisecond
	DefaultStatusTTL        = 1500 * time.Millisecond
	DefaultStartupTimeout   = 200 * time.Millisecond
	DefaultResponseTimeout  = 50 * time.Millisecond
	DefaultBillTableTimeout = 100 * time.Millisecond
	DefaultStartupWarn      = 5 * time.Second
	DefaultTick             = 5 * time.Millisecond
)

// Errors returned by downstream exchanges
var (
	ErrTimeout          = errors.New("bridge: no reply from validator")
	ErrRetriesExhausted = errors.New("bridge: validator reply corrupted after retry")
	ErrUnsupported      = errors.New("bridge: not supported by downstream protocol")
	ErrRefused          = errors.New("bridge: validator refused command")
)

// Options tunes the converter. Zero durations other than PollPeriod take
// their defaults; a zero PollPeriod disables background polling.
type Options struct {
	PollPeriod       time.Duration
	StatusTTL        time.Duration
	StartupTimeout   time.Duration
	ResponseTimeout  time.Duration
	BillTableTimeout time.Duration
	StartupWarn      time.Duration
	Tick             time.Duration
	StatsInterval    time.Duration
	Retries          int
	Currency         string
}

// DefaultOptions returns the options used when nothing is configured
func DefaultOptions() Options {
	return Options{
		PollPeriod: DefaultPollPeriod,
		Retries:    1,
		Currency:   billtable.DefaultCurrency,
	}
}

func (o *Options) applyDefaults() {
	if o.StatusTTL <= 0 {
		o.StatusTTL = DefaultStatusTTL
	}
	if o.StartupTimeout <= 0 {
		o.StartupTimeout = DefaultStartupTimeout
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = DefaultResponseTimeout
	}
	if o.BillTableTimeout <= 0 {
		o.BillTableTimeout = DefaultBillTableTimeout
	}
	if o.StartupWarn <= 0 {
		o.StartupWarn = DefaultStartupWarn
	}
	if o.Tick <= 0 {
		o.Tick = DefaultTick
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
}

// PollPhase tracks the background status request
type PollPhase int

const (
	PollIdle PollPhase = iota
	PollSending
	PollSent
)

func (p PollPhase) String() string {
	switch p {
	case PollSending:
		return "sending"
	case PollSent:
		return "sent"
	default:
		return "idle"
	}
}

// Bridge is the converter state machine
type Bridge struct {
	up, down *Link
	clock    bp.Clock
	opts     Options
	pub      events.Publisher
	logger   *slog.Logger

	pollPeriod *atomic.Duration

	startup         *fsm.FSM
	lastStartupWarn time.Time
	lastAbsentWarn  time.Time

	pollPhase  PollPhase
	lastPollAt time.Time

	lastStatus   *bp.Message
	lastStatusAt time.Time
	lastUpstream *bp.Message
	lastRequest  *bp.Message
	lastSentAt   time.Time
	echoWarned   bool

	table *billtable.Table

	handlers map[byte]func(*bp.Message)

	snapMu sync.Mutex
	snap   Snapshot
}

// New creates a converter between an upstream CCNET link and a downstream
// validator link
func New(up, down *Link, opts Options, clock bp.Clock, pub events.Publisher, logger *slog.Logger) (*Bridge, error) {
	if up.Protocol() != bp.ProtocolCCNET {
		return nil, fmt.Errorf("upstream protocol %s not supported, want CCNET", up.Protocol())
	}
	if _, ok := mapper.CommandTag(down.Protocol()); !ok {
		return nil, fmt.Errorf("downstream protocol %s not supported", down.Protocol())
	}
	opts.applyDefaults()
	if clock == nil {
		clock = bp.SystemClock
	}
	if pub == nil {
		pub = events.Nop{}
	}

	b := &Bridge{
		up:         up,
		down:       down,
		clock:      clock,
		opts:       opts,
		pub:        pub,
		logger:     logger,
		pollPeriod: atomic.NewDuration(opts.PollPeriod),
		table:      billtable.New(opts.Currency),
	}
	b.startup = newStartupFSM(b.onPhase)
	b.handlers = map[byte]func(*bp.Message){
		bp.CCNETAck:             b.handleAck,
		bp.CCNETNak:             b.handleNak,
		bp.CCNETReset:           b.handleReset,
		bp.CCNETStatusRequest:   b.handleStatusRequest,
		bp.CCNETPoll:            b.handlePoll,
		bp.CCNETEnableBillTypes: b.handleEnableBillTypes,
		bp.CCNETStack:           b.handleForward,
		bp.CCNETReturn:          b.handleForward,
		bp.CCNETHold:            b.handleForward,
		bp.CCNETIdentification:  b.handleIdentification,
		bp.CCNETBillTable:       b.handleBillTable,
	}
	b.updateSnapshot()
	return b, nil
}

// SetPollPeriod changes the background poll period. Safe to call from any
// goroutine; zero disables polling.
func (b *Bridge) SetPollPeriod(d time.Duration) {
	b.pollPeriod.Store(d)
}

// Table returns the bill table. Only the Process goroutine may mutate it.
func (b *Bridge) Table() *billtable.Table {
	return b.table
}

// Phase returns the current startup phase
func (b *Bridge) Phase() Phase {
	return Phase(b.startup.Current())
}

// Run calls Process until ctx is cancelled. It wakes on either link's
// received frames or on a short tick.
func (b *Bridge) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.Tick)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if b.opts.StatsInterval > 0 {
		statsTicker := time.NewTicker(b.opts.StatsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	b.logger.Info("converter started", "upstream", b.up.Protocol(), "downstream", b.down.Protocol(),
		"poll_period", b.pollPeriod.Load())

	for {
		b.Process()
		select {
		case <-ctx.Done():
			b.logger.Info("converter stopped")
			return ctx.Err()
		case <-b.up.Notify():
		case <-b.down.Notify():
		case <-ticker.C:
		case <-statsC:
			b.logger.Info("link statistics", "link", b.up.Name(), "stats", b.up.Stats().String())
			b.logger.Info("link statistics", "link", b.down.Name(), "stats", b.down.Stats().String())
		}
	}
}

// Process runs one iteration: a startup step, the background poller, then
// any received downstream status and upstream command.
func (b *Bridge) Process() {
	b.stepStartup()
	b.stepPoller()
	b.collectDownstream()
	b.serveUpstream()
	b.updateSnapshot()
}

// Reinitialize forgets the bill table and restarts the startup sequence
func (b *Bridge) Reinitialize() {
	b.logger.Info("reinitializing downstream link")
	b.table.Reset()
	b.lastStatus = nil
	b.lastRequest = nil
	b.pollPhase = PollIdle
	b.down.Reset()
	if b.startup.Current() != string(PhaseNotStarted) {
		b.fire(eventReinit)
	}
}

// stepPoller sends a status request, without waiting, when the poll period
// has elapsed
func (b *Bridge) stepPoller() {
	period := b.pollPeriod.Load()
	if period <= 0 || b.Phase() != PhaseReady {
		return
	}
	now := b.clock.Now()
	if now.Sub(b.lastPollAt) < period {
		return
	}
	b.lastPollAt = now
	b.pollPhase = PollSending
	if err := b.sendDownstream(b.statusRequestOpcode(), nil); err != nil {
		b.logger.Warn("poll failed", "error", err)
		b.pollPhase = PollIdle
		return
	}
	b.pollPhase = PollSent
}

// collectDownstream drains frames the validator sent outside an exchange,
// normally replies to the background poll
func (b *Bridge) collectDownstream() {
	for {
		msg, err := b.down.Receive()
		if errors.Is(err, bp.NoMessage) {
			return
		}
		if err != nil {
			continue
		}
		if b.isEcho(msg) {
			continue
		}
		b.noteStatus(msg)
	}
}

// noteStatus records msg as the latest validator status if it is one
func (b *Bridge) noteStatus(msg *bp.Message) {
	if !mapper.IsStatus(msg) {
		return
	}
	changed := b.lastStatus == nil || !b.lastStatus.SameFrame(msg)
	b.lastStatus = msg
	b.lastStatusAt = b.clock.Now()
	b.pollPhase = PollIdle

	if changed {
		e := events.Event{Kind: events.KindStatus, Time: b.lastStatusAt, Downstream: msg.Name()}
		if code, detail, ok := mapper.StatusCode(msg); ok {
			e.Upstream = bp.FormatOpcode(bp.ProtocolCCNET, bp.Receive, code)
			e.Code = code
			e.Detail = detail
		}
		b.logger.Info("validator status", "status", msg.Name(), "upstream", e.Upstream)
		b.publish(e)
	}
}

// statusFresh reports whether the last status is young enough to answer a poll
func (b *Bridge) statusFresh() bool {
	return b.lastStatus != nil && b.clock.Now().Sub(b.lastStatusAt) < b.opts.StatusTTL
}

func (b *Bridge) publish(e events.Event) {
	if err := b.pub.Publish(context.Background(), e); err != nil {
		b.logger.Warn("event publish failed", "kind", e.Kind, "error", err)
	}
}

// statusRequestOpcode returns the downstream equivalent of a CCNET poll
func (b *Bridge) statusRequestOpcode() byte {
	tag, _ := mapper.CommandTag(b.down.Protocol())
	op, _ := mapper.FindMapping(bp.ProtocolCCNET, b.down.Protocol(), bp.CCNETPoll, tag)
	return op
}
