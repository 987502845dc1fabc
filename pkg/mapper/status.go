// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mapper

import (
	bp "github.com/Thermoquad/billbridge/pkg/billproto"
)

// ruleKind says how a downstream status byte becomes an upstream reply
type ruleKind uint8

const (
	ruleNone ruleKind = iota
	ruleDirect
	ruleEscrow
	ruleReject
	ruleVendValid
	ruleFailure
	ruleCommError
)

type statusRule struct {
	kind ruleKind
	code byte
}

// Defaults substituted for reject and failure sub-codes missing from the tables
const (
	DefaultRejectReason = bp.CCNETRejectIdentification
	DefaultFailureCode  = bp.CCNETFailureTransportMotor
)

// rejectReasons translates ID003 reject reasons to CCNET reject reasons
var rejectReasons = map[byte]byte{
	bp.ID003RejectInsertion:     bp.CCNETRejectInsertion,
	bp.ID003RejectMagnetic:      bp.CCNETRejectMagnetic,
	bp.ID003RejectRemainingBill: bp.CCNETRejectRemainedInHead,
	bp.ID003RejectCompensation:  bp.CCNETRejectMultiplying,
	bp.ID003RejectConveying:     bp.CCNETRejectConveying,
	bp.ID003RejectDenomination:  bp.CCNETRejectIdentification,
	bp.ID003RejectPhotoPattern:  bp.CCNETRejectOptic,
	bp.ID003RejectPhotoLevel:    bp.CCNETRejectOptic,
	bp.ID003RejectInhibit:       bp.CCNETRejectInhibit,
	bp.ID003RejectOperation:     bp.CCNETRejectOperation,
	bp.ID003RejectStackerReturn: bp.CCNETRejectOperation,
	bp.ID003RejectLength:        bp.CCNETRejectLength,
	bp.ID003RejectColorPattern:  bp.CCNETRejectOptic,
	bp.ID003RejectCounterfeit:   bp.CCNETRejectVerification,
}

// failureCodes translates ID003 failure codes to CCNET failure codes
var failureCodes = map[byte]byte{
	bp.ID003FailureStackMotor:     bp.CCNETFailureStackMotor,
	bp.ID003FailureTransportSpeed: bp.CCNETFailureTransportSpeed,
	bp.ID003FailureTransportMotor: bp.CCNETFailureTransportMotor,
	bp.ID003FailureSolenoid:       bp.CCNETFailureAligningMotor,
	bp.ID003FailureCashBox:        bp.CCNETFailureInitialCassette,
	bp.ID003FailureHeadRemoved:    bp.CCNETFailureOpticCanal,
}

// statusRules holds one dense lookup array per downstream protocol
var statusRules = map[bp.Protocol]*[256]statusRule{
	bp.ProtocolID003: buildRules(ID003ToCCNET, map[byte]ruleKind{
		bp.ID003StatusEscrow:    ruleEscrow,
		bp.ID003StatusRejecting: ruleReject,
		bp.ID003StatusVendValid: ruleVendValid,
		bp.ID003StatusFailure:   ruleFailure,
		bp.ID003StatusCommError: ruleCommError,
	}),
	bp.ProtocolCCTalk: buildRules(CCTalkToCCNET, map[byte]ruleKind{
		bp.CCTalkReplyNak: ruleCommError,
	}),
}

func buildRules(tag Tag, special map[byte]ruleKind) *[256]statusRule {
	var rules [256]statusRule
	for _, m := range Table {
		if m.Tag == tag {
			rules[m.SourceOpcode] = statusRule{kind: ruleDirect, code: m.TargetOpcode}
		}
	}
	for status, kind := range special {
		rules[status] = statusRule{kind: kind}
	}
	return &rules
}

// MapRejectReason translates a downstream reject reason, substituting
// DefaultRejectReason for unknown codes
func MapRejectReason(code byte) byte {
	if r, ok := rejectReasons[code]; ok {
		return r
	}
	return DefaultRejectReason
}

// MapFailureCode translates a downstream failure code, substituting
// DefaultFailureCode for unknown codes
func MapFailureCode(code byte) byte {
	if f, ok := failureCodes[code]; ok {
		return f
	}
	return DefaultFailureCode
}

// IsStatus reports whether msg is a downstream status that MapStatus knows
func IsStatus(msg *bp.Message) bool {
	rules, ok := statusRules[msg.Protocol()]
	return ok && msg.Direction() == bp.Receive && rules[msg.Opcode()].kind != ruleNone
}

// MapStatus turns a downstream status message into the CCNET reply the host
// should see. It returns false when the status has no upstream equivalent;
// no reply must be sent in that case.
func MapStatus(msg *bp.Message) (*bp.Message, bool) {
	opcode, payload, ok := StatusCode(msg)
	if !ok {
		return nil, false
	}
	reply, err := bp.Construct(bp.ProtocolCCNET, bp.Receive, opcode, payload)
	if err != nil {
		return nil, false
	}
	return reply, true
}

// StatusCode is MapStatus without building the frame
func StatusCode(msg *bp.Message) (byte, []byte, bool) {
	if msg == nil || msg.Direction() != bp.Receive {
		return 0, nil, false
	}
	rules, ok := statusRules[msg.Protocol()]
	if !ok {
		return 0, nil, false
	}

	rule := rules[msg.Opcode()]
	switch rule.kind {
	case ruleDirect:
		return rule.code, nil, true
	case ruleEscrow:
		return bp.CCNETStatusEscrowPosition, nil, true
	case ruleVendValid:
		return bp.CCNETStatusBillStacked, nil, true
	case ruleReject:
		return bp.CCNETStatusRejecting, []byte{MapRejectReason(firstByte(msg.Payload()))}, true
	case ruleFailure:
		return bp.CCNETStatusGenericFailure, []byte{MapFailureCode(firstByte(msg.Payload()))}, true
	case ruleCommError:
		return bp.CCNETStatusInvalidCommand, nil, true
	default:
		return 0, nil, false
	}
}

// firstByte returns the sub-code byte, or zero (never a valid sub-code) when
// the payload is empty
func firstByte(payload []byte) byte {
	if len(payload) == 0 {
		return 0
	}
	return payload[0]
}
