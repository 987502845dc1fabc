// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mapper translates commands and status codes between the CCNET host
// protocol and the ID003 and ccTalk validator protocols.
//
// Commands map one to one through a static table. Status replies can fan out
// into an upstream status plus payload bytes, so they go through a dense
// per-protocol rule array with special cases for escrow, reject, vend-valid,
// failure and communication errors.
package mapper

import (
	bp "github.com/Thermoquad/billbridge/pkg/billproto"
)

// Tag names the translation direction of a table row
type Tag int

const (
	CCNETToID003 Tag = iota
	ID003ToCCNET
	CCNETToCCTalk
	CCTalkToCCNET
)

func (t Tag) String() string {
	switch t {
	case CCNETToID003:
		return "CCNET->ID003"
	case ID003ToCCNET:
		return "ID003->CCNET"
	case CCNETToCCTalk:
		return "CCNET->CCTALK"
	case CCTalkToCCNET:
		return "CCTALK->CCNET"
	default:
		return "UNKNOWN"
	}
}

// Mapping is one row of the static translation table
type Mapping struct {
	Source       bp.Protocol
	Target       bp.Protocol
	SourceOpcode byte
	TargetOpcode byte
	Tag          Tag
}

// Table is the compiled-in translation table. Rows tagged towards CCNET are
// the one-to-one status translations; everything else is a command.
var Table = []Mapping{
	// CCNET commands to ID003
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETPoll, bp.ID003StatusReq, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETReset, bp.ID003Reset, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETStatusRequest, bp.ID003StatusReq, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETStack, bp.ID003Stack1, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETReturn, bp.ID003Return, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETHold, bp.ID003Hold, CCNETToID003},
	{bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETEnableBillTypes, bp.ID003SetEnable, CCNETToID003},

	// ID003 statuses to CCNET
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusIdling, bp.CCNETStatusIdling, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusAccepting, bp.CCNETStatusAccepting, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusStacking, bp.CCNETStatusStacking, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusStacked, bp.CCNETStatusStacking, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusReturning, bp.CCNETStatusReturning, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusHolding, bp.CCNETStatusHolding, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusDisableInhibit, bp.CCNETStatusUnitDisabled, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusInitialize, bp.CCNETStatusInitialize, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusPowerUp, bp.CCNETStatusPowerUp, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusPowerUpBIA, bp.CCNETStatusPowerUpBillInValidator, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusPowerUpBIS, bp.CCNETStatusPowerUpBillInStacker, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusStackerFull, bp.CCNETStatusDropCassetteFull, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusStackerOpen, bp.CCNETStatusDropCassetteOutPosition, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusAcceptorJam, bp.CCNETStatusValidatorJammed, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusStackerJam, bp.CCNETStatusDropCassetteJammed, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusPause, bp.CCNETStatusPause, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusCheated, bp.CCNETStatusCheated, ID003ToCCNET},
	{bp.ProtocolID003, bp.ProtocolCCNET, bp.ID003StatusInvalidCommand, bp.CCNETStatusInvalidCommand, ID003ToCCNET},

	// CCNET commands to ccTalk
	{bp.ProtocolCCNET, bp.ProtocolCCTalk, bp.CCNETPoll, bp.CCTalkSimplePoll, CCNETToCCTalk},
	{bp.ProtocolCCNET, bp.ProtocolCCTalk, bp.CCNETStatusRequest, bp.CCTalkSimplePoll, CCNETToCCTalk},
	{bp.ProtocolCCNET, bp.ProtocolCCTalk, bp.CCNETReset, bp.CCTalkResetDevice, CCNETToCCTalk},
	{bp.ProtocolCCNET, bp.ProtocolCCTalk, bp.CCNETStack, bp.CCTalkRouteBill, CCNETToCCTalk},
	{bp.ProtocolCCNET, bp.ProtocolCCTalk, bp.CCNETReturn, bp.CCTalkRouteBill, CCNETToCCTalk},

	// ccTalk replies to CCNET
	{bp.ProtocolCCTalk, bp.ProtocolCCNET, bp.CCTalkReplyAck, bp.CCNETStatusIdling, CCTalkToCCNET},
	{bp.ProtocolCCTalk, bp.ProtocolCCNET, bp.CCTalkReplyBusy, bp.CCNETStatusDeviceBusy, CCTalkToCCNET},
}

type mappingKey struct {
	source, target bp.Protocol
	opcode         byte
	tag            Tag
}

var index = buildIndex(Table)

func buildIndex(rows []Mapping) map[mappingKey]byte {
	idx := make(map[mappingKey]byte, len(rows))
	for _, m := range rows {
		k := mappingKey{m.Source, m.Target, m.SourceOpcode, m.Tag}
		if _, dup := idx[k]; !dup {
			idx[k] = m.TargetOpcode
		}
	}
	return idx
}

// FindMapping looks up the target opcode for a one-to-one translation
func FindMapping(source, target bp.Protocol, opcode byte, tag Tag) (byte, bool) {
	op, ok := index[mappingKey{source, target, opcode, tag}]
	return op, ok
}

// CommandTag returns the tag for commands flowing from upstream to the given
// downstream protocol
func CommandTag(downstream bp.Protocol) (Tag, bool) {
	switch downstream {
	case bp.ProtocolID003:
		return CCNETToID003, true
	case bp.ProtocolCCTalk:
		return CCNETToCCTalk, true
	default:
		return 0, false
	}
}

// StatusTag returns the tag for statuses flowing from the given downstream
// protocol to upstream
func StatusTag(downstream bp.Protocol) (Tag, bool) {
	switch downstream {
	case bp.ProtocolID003:
		return ID003ToCCNET, true
	case bp.ProtocolCCTalk:
		return CCTalkToCCNET, true
	default:
		return 0, false
	}
}
