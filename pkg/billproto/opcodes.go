// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import "fmt"

type tableKey struct {
	protocol  Protocol
	direction Direction
}

// opcodeTables lists the legal opcodes for each protocol and direction.
// The tables are sets, not ranges: 0x11 is a status request on ID003
// transmit and IDLING on ID003 receive.
var opcodeTables = map[tableKey]map[byte]string{
	{ProtocolCCNET, Transmit}: {
		CCNETAck:              "ACK",
		CCNETReset:            "RESET",
		CCNETStatusRequest:    "GET_STATUS",
		CCNETSetSecurity:      "SET_SECURITY",
		CCNETPoll:             "POLL",
		CCNETEnableBillTypes:  "ENABLE_BILL_TYPES",
		CCNETStack:            "STACK",
		CCNETReturn:           "RETURN",
		CCNETIdentification:   "IDENTIFICATION",
		CCNETHold:             "HOLD",
		CCNETSetBarParameters: "SET_BARCODE_PARAMETERS",
		CCNETBillTable:        "GET_BILL_TABLE",
		CCNETRequestStats:     "REQUEST_STATISTICS",
		CCNETNak:              "NAK",
	},
	{ProtocolCCNET, Receive}: {
		CCNETStatusAck:                     "ACK",
		CCNETStatusPowerUp:                 "POWER_UP",
		CCNETStatusPowerUpBillInValidator:  "POWER_UP_BILL_IN_VALIDATOR",
		CCNETStatusPowerUpBillInStacker:    "POWER_UP_BILL_IN_STACKER",
		CCNETStatusInitialize:              "INITIALIZE",
		CCNETStatusIdling:                  "IDLING",
		CCNETStatusAccepting:               "ACCEPTING",
		CCNETStatusStacking:                "STACKING",
		CCNETStatusReturning:               "RETURNING",
		CCNETStatusUnitDisabled:            "UNIT_DISABLED",
		CCNETStatusHolding:                 "HOLDING",
		CCNETStatusDeviceBusy:              "DEVICE_BUSY",
		CCNETStatusRejecting:               "REJECTING",
		CCNETStatusInvalidCommand:          "INVALID_COMMAND",
		CCNETReplyStatus:                   "STATUS",
		CCNETReplyIdentification:           "IDENTIFICATION",
		CCNETStatusDropCassetteFull:        "DROP_CASSETTE_FULL",
		CCNETStatusDropCassetteOutPosition: "DROP_CASSETTE_OUT_OF_POSITION",
		CCNETStatusValidatorJammed:         "VALIDATOR_JAMMED",
		CCNETStatusDropCassetteJammed:      "DROP_CASSETTE_JAMMED",
		CCNETStatusCheated:                 "CHEATED",
		CCNETStatusPause:                   "PAUSE",
		CCNETStatusGenericFailure:          "GENERIC_FAILURE",
		CCNETStatusEscrowPosition:          "ESCROW_POSITION",
		CCNETStatusBillStacked:             "BILL_STACKED",
		CCNETStatusBillReturned:            "BILL_RETURNED",
		CCNETStatusNak:                     "NAK",
	},
	{ProtocolID003, Transmit}: {
		ID003StatusReq:         "STATUS_REQUEST",
		ID003Reset:             "RESET",
		ID003Stack1:            "STACK_1",
		ID003Stack2:            "STACK_2",
		ID003Return:            "RETURN",
		ID003Hold:              "HOLD",
		ID003Wait:              "WAIT",
		ID003SetEnable:         "ENABLE",
		ID003SetSecurity:       "SECURITY",
		ID003SetCommMode:       "COMMUNICATION_MODE",
		ID003SetInhibit:        "INHIBIT",
		ID003SetDirection:      "DIRECTION",
		ID003SetOptFunc:        "OPTIONAL_FUNCTION",
		ID003EnableReq:         "ENABLE_REQUEST",
		ID003SecurityReq:       "SECURITY_REQUEST",
		ID003CommModeReq:       "COMMUNICATION_MODE_REQUEST",
		ID003InhibitReq:        "INHIBIT_REQUEST",
		ID003DirectionReq:      "DIRECTION_REQUEST",
		ID003OptFuncReq:        "OPTIONAL_FUNCTION_REQUEST",
		ID003VersionReq:        "VERSION_REQUEST",
		ID003BootVersionReq:    "BOOT_VERSION_REQUEST",
		ID003CurrencyAssignReq: "CURRENCY_ASSIGN_REQUEST",
	},
	{ProtocolID003, Receive}: {
		ID003StatusIdling:         "IDLING",
		ID003StatusAccepting:      "ACCEPTING",
		ID003StatusEscrow:         "ESCROW",
		ID003StatusStacking:       "STACKING",
		ID003StatusVendValid:      "VEND_VALID",
		ID003StatusStacked:        "STACKED",
		ID003StatusRejecting:      "REJECTING",
		ID003StatusReturning:      "RETURNING",
		ID003StatusHolding:        "HOLDING",
		ID003StatusDisableInhibit: "DISABLE",
		ID003StatusInitialize:     "INITIALIZE",
		ID003StatusPowerUp:        "POWER_UP",
		ID003StatusPowerUpBIA:     "POWER_UP_BILL_IN_ACCEPTOR",
		ID003StatusPowerUpBIS:     "POWER_UP_BILL_IN_STACKER",
		ID003StatusStackerFull:    "STACKER_FULL",
		ID003StatusStackerOpen:    "STACKER_OPEN",
		ID003StatusAcceptorJam:    "ACCEPTOR_JAM",
		ID003StatusStackerJam:     "STACKER_JAM",
		ID003StatusPause:          "PAUSE",
		ID003StatusCheated:        "CHEATED",
		ID003StatusFailure:        "FAILURE",
		ID003StatusCommError:      "COMMUNICATION_ERROR",
		ID003StatusInvalidCommand: "INVALID_COMMAND",
		ID003StatusAck:            "ACK",
		ID003EnableReq:            "ENABLE",
		ID003SecurityReq:          "SECURITY",
		ID003CommModeReq:          "COMMUNICATION_MODE",
		ID003InhibitReq:           "INHIBIT",
		ID003DirectionReq:         "DIRECTION",
		ID003OptFuncReq:           "OPTIONAL_FUNCTION",
		ID003VersionReq:           "VERSION",
		ID003BootVersionReq:       "BOOT_VERSION",
		ID003CurrencyAssignReq:    "CURRENCY_ASSIGN",
		ID003SetEnable:            "ENABLE_ECHO",
		ID003SetSecurity:          "SECURITY_ECHO",
		ID003SetCommMode:          "COMMUNICATION_MODE_ECHO",
		ID003SetInhibit:           "INHIBIT_ECHO",
		ID003SetDirection:         "DIRECTION_ECHO",
		ID003SetOptFunc:           "OPTIONAL_FUNCTION_ECHO",
	},
	{ProtocolCCTalk, Transmit}: {
		CCTalkResetDevice:           "RESET_DEVICE",
		CCTalkRouteBill:             "ROUTE_BILL",
		CCTalkRequestBillID:         "REQUEST_BILL_ID",
		CCTalkReadBufferedBills:     "READ_BUFFERED_BILL_EVENTS",
		CCTalkRequestMasterInhibit:  "REQUEST_MASTER_INHIBIT",
		CCTalkModifyMasterInhibit:   "MODIFY_MASTER_INHIBIT",
		CCTalkRequestInhibitStatus:  "REQUEST_INHIBIT_STATUS",
		CCTalkModifyInhibitStatus:   "MODIFY_INHIBIT_STATUS",
		CCTalkRequestSoftwareRev:    "REQUEST_SOFTWARE_REVISION",
		CCTalkRequestSerialNumber:   "REQUEST_SERIAL_NUMBER",
		CCTalkRequestProductCode:    "REQUEST_PRODUCT_CODE",
		CCTalkRequestManufacturerID: "REQUEST_MANUFACTURER_ID",
		CCTalkSimplePoll:            "SIMPLE_POLL",
	},
	{ProtocolCCTalk, Receive}: {
		CCTalkReplyAck:  "ACK",
		CCTalkReplyNak:  "NAK",
		CCTalkReplyBusy: "BUSY",
	},
}

// IsLegalOpcode reports whether opcode may appear in a frame of the given
// protocol travelling in the given direction.
func IsLegalOpcode(p Protocol, d Direction, opcode byte) bool {
	_, ok := opcodeTables[tableKey{p, d}][opcode]
	return ok
}

// LegalOpcodes returns every legal opcode for a protocol and direction
func LegalOpcodes(p Protocol, d Direction) []byte {
	table := opcodeTables[tableKey{p, d}]
	out := make([]byte, 0, len(table))
	for op := range table {
		out = append(out, op)
	}
	return out
}

// FormatOpcode returns the human-readable name of an opcode
func FormatOpcode(p Protocol, d Direction, opcode byte) string {
	if name, ok := opcodeTables[tableKey{p, d}][opcode]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_0x%02X", opcode)
}
