// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bridge

import (
	"encoding/binary"
	"errors"
	"fmt"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/billtable"
	"github.com/Thermoquad/billbridge/pkg/mapper"
)

// CCNET reply layouts
const (
	statusReplySize      = 6
	partNumberSize       = 15
	serialNumberSize     = 12
	identificationPad    = 7
	identificationSize   = partNumberSize + serialNumberSize + identificationPad
	enableBillTypesSize  = 6
	enableBillTypesShort = 3
)

// serveUpstream takes at most one host command and answers it
func (b *Bridge) serveUpstream() {
	msg, err := b.up.Receive()
	if errors.Is(err, bp.NoMessage) {
		return
	}
	if err != nil {
		switch bp.Classify(err) {
		case bp.CrcInvalid:
			b.nak()
		case bp.UnknownOpcode:
			b.reply(bp.CCNETStatusInvalidCommand, nil)
		}
		return
	}

	b.lastUpstream = msg
	handler, ok := b.handlers[msg.Opcode()]
	if !ok {
		b.logger.Warn("command supported but not implemented", "op", msg.Name())
		return
	}
	handler(msg)
}

func (b *Bridge) reply(opcode byte, payload []byte) {
	msg, err := bp.Construct(bp.ProtocolCCNET, bp.Receive, opcode, payload)
	if err != nil {
		b.logger.Error("building upstream reply", "opcode", fmt.Sprintf("0x%02X", opcode), "error", err)
		return
	}
	if err := b.up.Send(msg); err != nil {
		b.logger.Warn("upstream reply failed", "error", err)
	}
}

func (b *Bridge) ack() { b.reply(bp.CCNETStatusAck, nil) }
func (b *Bridge) nak() { b.reply(bp.CCNETStatusNak, nil) }

// ackOrNak answers the host with the outcome of a downstream exchange
func (b *Bridge) ackOrNak(err error) {
	if err != nil {
		b.logger.Warn("downstream command failed", "error", err)
		b.nak()
		return
	}
	b.ack()
}

// isAck reports whether a validator reply acknowledges a command
func (b *Bridge) isAck(msg *bp.Message) bool {
	switch msg.Protocol() {
	case bp.ProtocolID003:
		return msg.Opcode() == bp.ID003StatusAck
	case bp.ProtocolCCTalk:
		return msg.Opcode() == bp.CCTalkReplyAck
	}
	return false
}

// command sends a downstream command that the validator acknowledges
func (b *Bridge) command(opcode byte, payload []byte) error {
	_, err := b.exchange(opcode, payload, b.opts.ResponseTimeout, b.ackOf(opcode))
	return err
}

func (b *Bridge) handleAck(msg *bp.Message) {
	b.logger.Debug("host acknowledged")
}

func (b *Bridge) handleNak(msg *bp.Message) {
	b.logger.Warn("host rejected last reply")
}

func (b *Bridge) handleReset(msg *bp.Message) {
	tag, _ := mapper.CommandTag(b.down.Protocol())
	op, ok := mapper.FindMapping(bp.ProtocolCCNET, b.down.Protocol(), bp.CCNETReset, tag)
	if !ok {
		b.nak()
		return
	}
	b.ackOrNak(b.command(op, nil))
}

// handleStatusRequest reports which bill types the validator accepts
func (b *Bridge) handleStatusRequest(msg *bp.Message) {
	var (
		enabled uint32
		err     error
	)
	switch b.down.Protocol() {
	case bp.ProtocolID003:
		enabled, err = b.id003EnabledMask()
	case bp.ProtocolCCTalk:
		enabled, err = b.cctalkEnabledMask()
	default:
		err = ErrUnsupported
	}
	if err != nil {
		b.logger.Warn("status request failed", "error", err)
		b.nak()
		return
	}

	out := make([]byte, statusReplySize)
	billtable.PutMask24(out[0:3], enabled)
	billtable.PutMask24(out[3:6], b.table.UpstreamEscrow&enabled)
	b.reply(bp.CCNETReplyStatus, out)
}

func (b *Bridge) id003EnabledMask() (uint32, error) {
	var inhibitErr error
	reply, err := b.exchange(bp.ID003InhibitReq, nil, b.opts.ResponseTimeout, replyOf(bp.ID003InhibitReq, 1))
	switch {
	case err != nil:
		inhibitErr = err
	case reply.Payload()[0] != 0:
		return 0, nil
	}

	reply, err = b.exchange(bp.ID003EnableReq, nil, b.opts.ResponseTimeout, replyOf(bp.ID003EnableReq, 2))
	if err != nil {
		if inhibitErr != nil {
			return 0, err
		}
		return b.table.UpstreamEnabled, nil
	}
	inhibit := binary.LittleEndian.Uint16(reply.Payload())
	b.table.DownstreamEnabled = ^inhibit
	return b.table.UpstreamEnabledMask(inhibit), nil
}

// ccTalk numbers bill types from 1; inhibit status bit n-1 set means type n
// is accepted. Upstream bits map to bill types one to one.
func (b *Bridge) cctalkEnabledMask() (uint32, error) {
	master, err := b.exchange(bp.CCTalkRequestMasterInhibit, nil, b.opts.ResponseTimeout, replyOf(bp.CCTalkReplyAck, 1))
	if err == nil && master.Payload()[0]&0x01 == 0 {
		return 0, nil
	}
	reply, err2 := b.exchange(bp.CCTalkRequestInhibitStatus, nil, b.opts.ResponseTimeout, replyOf(bp.CCTalkReplyAck, 2))
	if err2 != nil {
		if err != nil {
			return 0, err2
		}
		return b.table.UpstreamEnabled, nil
	}
	return uint32(binary.LittleEndian.Uint16(reply.Payload())), nil
}

// handlePoll answers with the freshest validator status. Without a fresh
// status nothing is sent; the host treats silence as a missing validator.
func (b *Bridge) handlePoll(msg *bp.Message) {
	if b.pollPeriod.Load() <= 0 {
		if _, err := b.exchange(b.statusRequestOpcode(), nil, b.opts.ResponseTimeout, anyStatus); err != nil {
			b.logger.Debug("synchronous status request failed", "error", err)
		}
	}

	if !b.statusFresh() {
		now := b.clock.Now()
		if b.lastAbsentWarn.IsZero() || now.Sub(b.lastAbsentWarn) >= b.opts.StartupWarn {
			b.logger.Warn("no bill validator connected")
			b.lastAbsentWarn = now
		}
		return
	}

	reply, ok := mapper.MapStatus(b.lastStatus)
	if !ok {
		b.logger.Debug("validator status has no CCNET equivalent", "status", b.lastStatus.Name())
		return
	}
	if err := b.up.Send(reply); err != nil {
		b.logger.Warn("upstream reply failed", "error", err)
	}
}

// handleEnableBillTypes applies the host's enable mask to the validator
func (b *Bridge) handleEnableBillTypes(msg *bp.Message) {
	payload := msg.Payload()
	if len(payload) < enableBillTypesShort {
		b.logger.Warn("enable bill types payload too short", "length", len(payload))
		b.nak()
		return
	}
	enabled := billtable.Mask24(payload[0:3])
	var escrow uint32
	if len(payload) >= enableBillTypesSize {
		escrow = billtable.Mask24(payload[3:6])
	}

	var downEnabled uint16
	var err error
	switch b.down.Protocol() {
	case bp.ProtocolID003:
		inhibit := b.table.DownstreamInhibitMask(enabled)
		downEnabled = ^inhibit
		err = b.command(bp.ID003SetEnable, []byte{byte(inhibit), byte(inhibit >> 8)})
		if err == nil {
			err = b.command(bp.ID003SetInhibit, []byte{inhibitFlag(enabled)})
		}
	case bp.ProtocolCCTalk:
		downEnabled = uint16(enabled)
		err = b.command(bp.CCTalkModifyInhibitStatus, []byte{byte(downEnabled), byte(downEnabled >> 8)})
		if err == nil {
			err = b.command(bp.CCTalkModifyMasterInhibit, []byte{1 - inhibitFlag(enabled)})
		}
	default:
		err = ErrUnsupported
	}
	if err != nil {
		b.ackOrNak(err)
		return
	}

	b.table.UpstreamEnabled = enabled
	b.table.UpstreamEscrow = escrow
	b.table.DownstreamEnabled = downEnabled
	b.table.DownstreamEscrow = downEnabled & uint16(escrow)
	b.logger.Info("bill types enabled", "upstream", fmt.Sprintf("%06X", enabled), "downstream", fmt.Sprintf("%04X", downEnabled))
	b.ack()
}

// inhibitFlag is 1 when no bill is enabled
func inhibitFlag(enabled uint32) byte {
	if enabled == 0 {
		return 1
	}
	return 0
}

// handleForward translates escrow commands one to one
func (b *Bridge) handleForward(msg *bp.Message) {
	down := b.down.Protocol()
	tag, _ := mapper.CommandTag(down)
	op, ok := mapper.FindMapping(bp.ProtocolCCNET, down, msg.Opcode(), tag)
	if !ok {
		b.logger.Warn("command has no downstream equivalent", "op", msg.Name(), "downstream", down)
		b.nak()
		return
	}

	var payload []byte
	if down == bp.ProtocolCCTalk && op == bp.CCTalkRouteBill {
		payload = []byte{0}
		if msg.Opcode() == bp.CCNETStack {
			payload[0] = 1
		}
	}
	b.ackOrNak(b.command(op, payload))
}

// handleIdentification answers with part and serial number. A validator
// that does not report a version still gets a reply with a blank serial.
func (b *Bridge) handleIdentification(msg *bp.Message) {
	var part, serial string
	switch b.down.Protocol() {
	case bp.ProtocolID003:
		part = "ID003"
		if reply, err := b.exchange(bp.ID003VersionReq, nil, b.opts.ResponseTimeout, replyOf(bp.ID003VersionReq, -1)); err != nil {
			b.logger.Warn("version request failed", "error", err)
		} else {
			serial = string(reply.Payload())
		}
	case bp.ProtocolCCTalk:
		part = "CCTALK"
		if reply, err := b.exchange(bp.CCTalkRequestSerialNumber, nil, b.opts.ResponseTimeout, replyOf(bp.CCTalkReplyAck, 3)); err != nil {
			b.logger.Warn("serial number request failed", "error", err)
		} else {
			p := reply.Payload()
			serial = fmt.Sprintf("%d", uint32(p[0])|uint32(p[1])<<8|uint32(p[2])<<16)
		}
	}

	b.reply(bp.CCNETReplyIdentification, identification(part, serial))
}

func identification(part, serial string) []byte {
	out := make([]byte, identificationSize)
	copy(out, fmt.Sprintf("%-*.*s", partNumberSize, partNumberSize, part))
	copy(out[partNumberSize:], fmt.Sprintf("%-*.*s", serialNumberSize, serialNumberSize, serial))
	return out
}

// handleBillTable reports the denominations in CCNET layout, loading them
// first when startup has not got that far
func (b *Bridge) handleBillTable(msg *bp.Message) {
	if !b.table.Loaded {
		if err := b.acquireBillTable(); err != nil {
			b.logger.Warn("bill table unavailable", "error", err)
			b.nak()
			return
		}
	}
	b.reply(bp.CCNETReplyBillTable, b.table.CCNETPayload())
}
