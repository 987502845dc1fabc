// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/events"
)

// Phase is a startup phase
type Phase string

const (
	PhaseNotStarted          Phase = "not_started"
	PhaseFirstPollSent       Phase = "first_poll_sent"
	PhaseFirstPollReceivedOk Phase = "first_poll_ok"
	PhaseBillTableRequested  Phase = "bill_table_requested"
	PhaseBillTableReceivedOk Phase = "bill_table_ok"
	PhaseReady               Phase = "ready"
)

// Startup events
const (
	eventSendPoll     = "send_poll"
	eventPollOk       = "poll_ok"
	eventPollTimeout  = "poll_timeout"
	eventRequestTable = "request_table"
	eventTableOk      = "table_ok"
	eventTableFailed  = "table_failed"
	eventFinish       = "finish"
	eventReinit       = "reinit"
)

var allPhases = []string{
	string(PhaseNotStarted),
	string(PhaseFirstPollSent),
	string(PhaseFirstPollReceivedOk),
	string(PhaseBillTableRequested),
	string(PhaseBillTableReceivedOk),
	string(PhaseReady),
}

func newStartupFSM(onEnter func(from, to Phase)) *fsm.FSM {
	return fsm.NewFSM(
		string(PhaseNotStarted),
		fsm.Events{
			{Name: eventSendPoll, Src: []string{string(PhaseNotStarted)}, Dst: string(PhaseFirstPollSent)},
			{Name: eventPollOk, Src: []string{string(PhaseFirstPollSent)}, Dst: string(PhaseFirstPollReceivedOk)},
			{Name: eventPollTimeout, Src: []string{string(PhaseFirstPollSent)}, Dst: string(PhaseNotStarted)},
			{Name: eventRequestTable, Src: []string{string(PhaseFirstPollReceivedOk)}, Dst: string(PhaseBillTableRequested)},
			{Name: eventTableOk, Src: []string{string(PhaseBillTableRequested)}, Dst: string(PhaseBillTableReceivedOk)},
			{Name: eventTableFailed, Src: []string{string(PhaseBillTableRequested)}, Dst: string(PhaseNotStarted)},
			{Name: eventFinish, Src: []string{string(PhaseBillTableReceivedOk)}, Dst: string(PhaseReady)},
			{Name: eventReinit, Src: allPhases, Dst: string(PhaseNotStarted)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(Phase(e.Src), Phase(e.Dst))
			},
		},
	)
}

// fire triggers a startup transition. An invalid transition is a programming
// error and is logged rather than returned.
func (b *Bridge) fire(event string) {
	err := b.startup.Event(context.Background(), event)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		b.logger.Error("startup transition failed", "event", event, "phase", b.startup.Current(), "error", err)
	}
}

func (b *Bridge) onPhase(from, to Phase) {
	b.logger.Info("startup phase", "from", from, "to", to)
	b.publish(events.Event{Kind: events.KindPhase, Time: b.clock.Now(), Phase: string(to)})
}

// stepStartup advances the startup sequence by at most one phase. Each phase
// that waits does so with a bounded timeout; failures start over.
func (b *Bridge) stepStartup() {
	switch b.Phase() {
	case PhaseNotStarted:
		now := b.clock.Now()
		if b.lastStartupWarn.IsZero() || now.Sub(b.lastStartupWarn) >= b.opts.StartupWarn {
			b.logger.Warn("waiting for bill validator", "protocol", b.down.Protocol())
			b.lastStartupWarn = now
		}
		b.collectDownstream()
		b.lastStatus = nil
		if err := b.sendDownstream(b.statusRequestOpcode(), nil); err != nil {
			b.logger.Warn("status request failed", "error", err)
			return
		}
		b.fire(eventSendPoll)

	case PhaseFirstPollSent:
		// the reply may already have been collected at the end of the
		// previous Process call
		if b.lastStatus != nil {
			b.fire(eventPollOk)
			return
		}
		if _, outcome := b.await(b.opts.StartupTimeout, anyStatus); outcome == waitOk {
			b.fire(eventPollOk)
		} else {
			b.fire(eventPollTimeout)
		}

	case PhaseFirstPollReceivedOk:
		b.fire(eventRequestTable)
		if err := b.acquireBillTable(); err != nil {
			b.logger.Warn("bill table acquisition failed", "error", err)
			b.fire(eventTableFailed)
			return
		}
		b.fire(eventTableOk)

	case PhaseBillTableReceivedOk:
		b.fire(eventFinish)
		b.logger.Info("converter ready", "bill_table", b.table.String())
	}
}

// acquireBillTable asks the validator for its denominations and decodes them
func (b *Bridge) acquireBillTable() error {
	switch b.down.Protocol() {
	case bp.ProtocolID003:
		msg, err := b.exchange(bp.ID003CurrencyAssignReq, nil, b.opts.BillTableTimeout, replyOf(bp.ID003CurrencyAssignReq, -1))
		if err != nil {
			return err
		}
		if err := b.table.DecodeID003(msg.Payload()); err != nil {
			return err
		}
	default:
		// no denomination query is implemented for this protocol; the host
		// sees an empty table
		b.table.Reset()
		b.table.Loaded = true
	}

	values := make([]uint32, 0, len(b.table.Denominations))
	for _, d := range b.table.Denominations {
		values = append(values, d.Value)
	}
	b.publish(events.Event{Kind: events.KindBillTable, Time: b.clock.Now(), Currency: b.table.Currency, Denominations: values})
	return nil
}
