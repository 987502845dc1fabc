// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package mapper

import (
	"bytes"
	"testing"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
)

func id003Status(t *testing.T, opcode byte, payload ...byte) *bp.Message {
	t.Helper()
	msg, err := bp.Construct(bp.ProtocolID003, bp.Receive, opcode, payload)
	if err != nil {
		t.Fatalf("Construct() error: %v", err)
	}
	return msg
}

// ============================================================
// Command Mapping Tests
// ============================================================

func TestFindMapping_Commands(t *testing.T) {
	tests := []struct {
		name   string
		target bp.Protocol
		opcode byte
		tag    Tag
		want   byte
	}{
		{"POLL to ID003", bp.ProtocolID003, bp.CCNETPoll, CCNETToID003, bp.ID003StatusReq},
		{"RESET to ID003", bp.ProtocolID003, bp.CCNETReset, CCNETToID003, bp.ID003Reset},
		{"STACK to ID003", bp.ProtocolID003, bp.CCNETStack, CCNETToID003, bp.ID003Stack1},
		{"RETURN to ID003", bp.ProtocolID003, bp.CCNETReturn, CCNETToID003, bp.ID003Return},
		{"HOLD to ID003", bp.ProtocolID003, bp.CCNETHold, CCNETToID003, bp.ID003Hold},
		{"ENABLE to ID003", bp.ProtocolID003, bp.CCNETEnableBillTypes, CCNETToID003, bp.ID003SetEnable},
		{"POLL to ccTalk", bp.ProtocolCCTalk, bp.CCNETPoll, CCNETToCCTalk, bp.CCTalkSimplePoll},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FindMapping(bp.ProtocolCCNET, tt.target, tt.opcode, tt.tag)
			if !ok {
				t.Fatal("mapping not found")
			}
			if got != tt.want {
				t.Errorf("FindMapping() = 0x%02X, want 0x%02X", got, tt.want)
			}
		})
	}
}

func TestFindMapping_NotFound(t *testing.T) {
	if _, ok := FindMapping(bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETIdentification, CCNETToID003); ok {
		t.Error("IDENTIFICATION has no one-to-one command mapping")
	}
	// right opcode, wrong tag
	if _, ok := FindMapping(bp.ProtocolCCNET, bp.ProtocolID003, bp.CCNETPoll, ID003ToCCNET); ok {
		t.Error("mapping found under the wrong tag")
	}
}

func TestTable_CommandsAreLegal(t *testing.T) {
	for _, m := range Table {
		switch m.Tag {
		case CCNETToID003, CCNETToCCTalk:
			if !bp.IsLegalOpcode(m.Source, bp.Transmit, m.SourceOpcode) || !bp.IsLegalOpcode(m.Target, bp.Transmit, m.TargetOpcode) {
				t.Errorf("%s row 0x%02X->0x%02X uses an illegal command", m.Tag, m.SourceOpcode, m.TargetOpcode)
			}
		case ID003ToCCNET, CCTalkToCCNET:
			if !bp.IsLegalOpcode(m.Source, bp.Receive, m.SourceOpcode) || !bp.IsLegalOpcode(m.Target, bp.Receive, m.TargetOpcode) {
				t.Errorf("%s row 0x%02X->0x%02X uses an illegal status", m.Tag, m.SourceOpcode, m.TargetOpcode)
			}
		}
	}
}

// ============================================================
// Status Mapping Tests
// ============================================================

func TestMapStatus_Direct(t *testing.T) {
	tests := []struct {
		status byte
		want   byte
	}{
		{bp.ID003StatusIdling, bp.CCNETStatusIdling},
		{bp.ID003StatusAccepting, bp.CCNETStatusAccepting},
		{bp.ID003StatusStacking, bp.CCNETStatusStacking},
		{bp.ID003StatusStacked, bp.CCNETStatusStacking},
		{bp.ID003StatusDisableInhibit, bp.CCNETStatusUnitDisabled},
		{bp.ID003StatusPowerUp, bp.CCNETStatusPowerUp},
		{bp.ID003StatusStackerFull, bp.CCNETStatusDropCassetteFull},
		{bp.ID003StatusAcceptorJam, bp.CCNETStatusValidatorJammed},
	}
	for _, tt := range tests {
		reply, ok := MapStatus(id003Status(t, tt.status))
		if !ok {
			t.Fatalf("status 0x%02X not mapped", tt.status)
		}
		if reply.Opcode() != tt.want || len(reply.Payload()) != 0 {
			t.Errorf("status 0x%02X -> 0x%02X % X, want 0x%02X", tt.status, reply.Opcode(), reply.Payload(), tt.want)
		}
	}
}

func TestMapStatus_SpecialCases(t *testing.T) {
	tests := []struct {
		name        string
		msg         []byte
		wantOpcode  byte
		wantPayload []byte
	}{
		{"escrow drops denomination", []byte{bp.ID003StatusEscrow, 0x63}, bp.CCNETStatusEscrowPosition, nil},
		{"vend valid", []byte{bp.ID003StatusVendValid}, bp.CCNETStatusBillStacked, nil},
		{"reject inhibit", []byte{bp.ID003StatusRejecting, bp.ID003RejectInhibit}, bp.CCNETStatusRejecting, []byte{bp.CCNETRejectInhibit}},
		{"reject length", []byte{bp.ID003StatusRejecting, bp.ID003RejectLength}, bp.CCNETStatusRejecting, []byte{bp.CCNETRejectLength}},
		{"reject without reason", []byte{bp.ID003StatusRejecting}, bp.CCNETStatusRejecting, []byte{DefaultRejectReason}},
		{"failure stack motor", []byte{bp.ID003StatusFailure, bp.ID003FailureStackMotor}, bp.CCNETStatusGenericFailure, []byte{bp.CCNETFailureStackMotor}},
		{"communication error", []byte{bp.ID003StatusCommError}, bp.CCNETStatusInvalidCommand, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := MapStatus(id003Status(t, tt.msg[0], tt.msg[1:]...))
			if !ok {
				t.Fatal("no mapping")
			}
			if reply.Opcode() != tt.wantOpcode {
				t.Errorf("opcode = 0x%02X, want 0x%02X", reply.Opcode(), tt.wantOpcode)
			}
			if !bytes.Equal(reply.Payload(), tt.wantPayload) && !(len(reply.Payload()) == 0 && len(tt.wantPayload) == 0) {
				t.Errorf("payload = % X, want % X", reply.Payload(), tt.wantPayload)
			}
			if reply.Protocol() != bp.ProtocolCCNET || reply.Direction() != bp.Receive {
				t.Errorf("reply is %s %s", reply.Protocol(), reply.Direction())
			}
		})
	}
}

func TestMapStatus_UnknownSubCodesUseDefaults(t *testing.T) {
	for code := 0; code < 256; code++ {
		c := byte(code)
		if _, known := rejectReasons[c]; !known {
			for i := 0; i < 3; i++ {
				reply, ok := MapStatus(id003Status(t, bp.ID003StatusRejecting, c))
				if !ok || reply.Payload()[0] != DefaultRejectReason {
					t.Fatalf("reject sub-code 0x%02X did not map to the default", c)
				}
			}
		}
		if _, known := failureCodes[c]; !known {
			for i := 0; i < 3; i++ {
				reply, ok := MapStatus(id003Status(t, bp.ID003StatusFailure, c))
				if !ok || reply.Payload()[0] != DefaultFailureCode {
					t.Fatalf("failure sub-code 0x%02X did not map to the default", c)
				}
			}
		}
	}
}

func TestMapStatus_NoMapping(t *testing.T) {
	for _, status := range []byte{bp.ID003StatusAck, bp.ID003InhibitReq, bp.ID003VersionReq} {
		if _, ok := MapStatus(id003Status(t, status)); ok {
			t.Errorf("status 0x%02X should have no upstream mapping", status)
		}
	}

	cmd := bp.MustConstruct(bp.ProtocolID003, bp.Transmit, bp.ID003StatusReq, nil)
	if _, ok := MapStatus(cmd); ok {
		t.Error("transmit frames are not statuses")
	}
	ccnet := bp.MustConstruct(bp.ProtocolCCNET, bp.Receive, bp.CCNETStatusIdling, nil)
	if _, ok := MapStatus(ccnet); ok {
		t.Error("CCNET is not a downstream protocol")
	}
	if _, ok := MapStatus(nil); ok {
		t.Error("nil message mapped")
	}
}

func TestMapStatus_CCTalk(t *testing.T) {
	ack := bp.MustConstruct(bp.ProtocolCCTalk, bp.Receive, bp.CCTalkReplyAck, nil)
	reply, ok := MapStatus(ack)
	if !ok || reply.Opcode() != bp.CCNETStatusIdling {
		t.Errorf("ccTalk ACK -> %v ok=%v, want IDLING", reply, ok)
	}
	nak := bp.MustConstruct(bp.ProtocolCCTalk, bp.Receive, bp.CCTalkReplyNak, nil)
	reply, ok = MapStatus(nak)
	if !ok || reply.Opcode() != bp.CCNETStatusInvalidCommand {
		t.Errorf("ccTalk NAK -> %v ok=%v, want INVALID_COMMAND", reply, ok)
	}
}

func TestIsStatus(t *testing.T) {
	if !IsStatus(id003Status(t, bp.ID003StatusIdling)) {
		t.Error("IDLING is a status")
	}
	if IsStatus(id003Status(t, bp.ID003InhibitReq, 0x00)) {
		t.Error("an INHIBIT reply is not a status")
	}
}
