// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"errors"
	"fmt"
	"time"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/mapper"
)

type waitOutcome int

const (
	waitOk waitOutcome = iota
	waitRetry
	waitTimeout
)

func (o waitOutcome) String() string {
	switch o {
	case waitOk:
		return "ok"
	case waitRetry:
		return "retry"
	default:
		return "timeout"
	}
}

// sendDownstream transmits a command to the validator without waiting
func (b *Bridge) sendDownstream(opcode byte, payload []byte) error {
	msg, err := bp.Construct(b.down.Protocol(), bp.Transmit, opcode, payload)
	if err != nil {
		return err
	}
	b.lastRequest = msg
	b.lastSentAt = b.clock.Now()
	return b.down.Send(msg)
}

// expectation reports whether a validator frame answers the outstanding
// request. Anything else that arrives meanwhile is treated as unsolicited.
type expectation func(*bp.Message) bool

// replyOf expects a reply carrying opcode. size is the exact payload length,
// or -1 for any non-empty payload.
func replyOf(opcode byte, size int) expectation {
	return func(msg *bp.Message) bool {
		if msg.Opcode() != opcode {
			return false
		}
		if size < 0 {
			return len(msg.Payload()) > 0
		}
		return len(msg.Payload()) == size
	}
}

// ackOf expects an acknowledgement, or the request read back as ID003 does
// for set commands
func (b *Bridge) ackOf(opcode byte) expectation {
	return func(msg *bp.Message) bool {
		return b.isAck(msg) || (msg.Protocol() == bp.ProtocolID003 && msg.Opcode() == opcode)
	}
}

// anyStatus expects a status frame
func anyStatus(msg *bp.Message) bool {
	return mapper.IsStatus(msg)
}

// isRefusal reports whether the validator rejected the last command
func isRefusal(msg *bp.Message) bool {
	switch msg.Protocol() {
	case bp.ProtocolID003:
		return msg.Opcode() == bp.ID003StatusInvalidCommand
	case bp.ProtocolCCTalk:
		return msg.Opcode() == bp.CCTalkReplyNak
	}
	return false
}

// await blocks until the validator sends a frame accepted by want, refuses
// the request, or timeout has passed since the last request went out. The
// deadline follows the bridge clock; a real timer of the same length bounds
// the wait when the clock is not moving. Other frames are noted as status
// and skipped. Only the goroutine calling Process may wait.
func (b *Bridge) await(timeout time.Duration, want expectation) (*bp.Message, waitOutcome) {
	deadline := b.lastSentAt.Add(timeout)
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		for {
			msg, err := b.down.Receive()
			if errors.Is(err, bp.NoMessage) {
				break
			}
			if err != nil {
				if bp.Classify(err).Retriable() {
					return nil, waitRetry
				}
				continue
			}
			if b.isEcho(msg) {
				continue
			}
			b.noteStatus(msg)
			if want(msg) || isRefusal(msg) {
				return msg, waitOk
			}
			b.logger.Debug("unsolicited frame while waiting", "op", msg.Name())
		}

		if !b.clock.Now().Before(deadline) {
			b.down.Stats().RecordTimeout()
			return nil, waitTimeout
		}
		select {
		case <-b.down.Notify():
		case <-timer.C:
			b.down.Stats().RecordTimeout()
			return nil, waitTimeout
		}
	}
}

// exchange sends a command and waits for the reply want accepts, resending
// after a corrupted reply up to the configured retry count
func (b *Bridge) exchange(opcode byte, payload []byte, timeout time.Duration, want expectation) (*bp.Message, error) {
	b.collectDownstream()

	name := bp.FormatOpcode(b.down.Protocol(), bp.Transmit, opcode)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			b.down.Stats().RecordRetransmit()
			b.logger.Debug("resending", "op", name, "attempt", attempt)
		}
		if err := b.sendDownstream(opcode, payload); err != nil {
			return nil, err
		}

		msg, outcome := b.await(timeout, want)
		switch outcome {
		case waitOk:
			if !want(msg) {
				return nil, fmt.Errorf("%s: %w", name, ErrRefused)
			}
			return msg, nil
		case waitTimeout:
			return nil, fmt.Errorf("%s: %w", name, ErrTimeout)
		}
		if attempt >= b.opts.Retries {
			return nil, fmt.Errorf("%s: %w", name, ErrRetriesExhausted)
		}
	}
}

// echoExempt lists requests whose genuine reply is byte-identical to the
// request: the idle status reply and the acknowledgement of a set command.
var echoExempt = map[bp.Protocol]map[byte]bool{
	bp.ProtocolID003: {
		bp.ID003StatusReq:    true,
		bp.ID003SetEnable:    true,
		bp.ID003SetSecurity:  true,
		bp.ID003SetCommMode:  true,
		bp.ID003SetInhibit:   true,
		bp.ID003SetDirection: true,
		bp.ID003SetOptFunc:   true,
	},
}

// isEcho reports whether msg is our own last request read back from a
// single-wire bus
func (b *Bridge) isEcho(msg *bp.Message) bool {
	req := b.lastRequest
	if req == nil || !req.SameFrame(msg) {
		return false
	}
	if echoExempt[req.Protocol()][req.Opcode()] {
		return false
	}
	b.down.Stats().RecordEcho()
	if !b.echoWarned {
		b.logger.Warn("validator link echoes transmitted frames, ignoring echoes")
		b.echoWarned = true
	}
	return true
}
