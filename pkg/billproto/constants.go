// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package billproto implements framing, parsing and construction of the bill
// validator wire protocols handled by billbridge: CCNET, ID003 and ccTalk.
//
// All three families share one frame shape:
//
//	[sync 1-2][length][opcode][payload 0-250][checksum 1-2, little-endian]
//
// ccTalk additionally carries a source address between the length byte and
// the opcode, and its length byte counts payload bytes only.
package billproto

// Frame size limits
const (
	MaxFrameSize   = 256
	MaxPayloadSize = 250
)

// CRC-16 configuration shared by CCNET and ID003 (reflected 0x1021)
const (
	crcPolynomial = 0x8408
	crcInitial    = 0x0000
)

// Sync patterns
const (
	CCNETSync1 = 0x02
	CCNETSync2 = 0x03
	ID003Sync  = 0xFC

	CCTalkHostAddress      = 0x01
	CCTalkValidatorAddress = 0x28
)

// CCNET commands (controller → validator)
const (
	CCNETAck              = 0x00
	CCNETReset            = 0x30
	CCNETStatusRequest    = 0x31
	CCNETSetSecurity      = 0x32
	CCNETPoll             = 0x33
	CCNETEnableBillTypes  = 0x34
	CCNETStack            = 0x35
	CCNETReturn           = 0x36
	CCNETIdentification   = 0x37
	CCNETHold             = 0x38
	CCNETSetBarParameters = 0x39
	CCNETBillTable        = 0x41
	CCNETRequestStats     = 0x60
	CCNETNak              = 0xFF
)

// CCNET status codes (validator → controller)
const (
	CCNETStatusAck                     = 0x00
	CCNETStatusPowerUp                 = 0x10
	CCNETStatusPowerUpBillInValidator  = 0x11
	CCNETStatusPowerUpBillInStacker    = 0x12
	CCNETStatusInitialize              = 0x13
	CCNETStatusIdling                  = 0x14
	CCNETStatusAccepting               = 0x15
	CCNETStatusStacking                = 0x17
	CCNETStatusReturning               = 0x18
	CCNETStatusUnitDisabled            = 0x19
	CCNETStatusHolding                 = 0x1A
	CCNETStatusDeviceBusy              = 0x1B
	CCNETStatusRejecting               = 0x1C
	CCNETStatusInvalidCommand          = 0x30
	CCNETStatusDropCassetteFull        = 0x41
	CCNETStatusDropCassetteOutPosition = 0x42
	CCNETStatusValidatorJammed         = 0x43
	CCNETStatusDropCassetteJammed      = 0x44
	CCNETStatusCheated                 = 0x45
	CCNETStatusPause                   = 0x46
	CCNETStatusGenericFailure          = 0x47
	CCNETStatusEscrowPosition          = 0x80
	CCNETStatusBillStacked             = 0x81
	CCNETStatusBillReturned            = 0x82
	CCNETStatusNak                     = 0xFF
)

// CCNET reply opcodes that echo the request they answer
const (
	CCNETReplyStatus         = CCNETStatusRequest
	CCNETReplyIdentification = CCNETIdentification
	CCNETReplyBillTable      = CCNETBillTable
)

// CCNET reject reasons (second byte of a REJECTING status)
const (
	CCNETRejectInsertion      = 0x60
	CCNETRejectMagnetic       = 0x61
	CCNETRejectRemainedInHead = 0x62
	CCNETRejectMultiplying    = 0x63
	CCNETRejectConveying      = 0x64
	CCNETRejectIdentification = 0x65
	CCNETRejectVerification   = 0x66
	CCNETRejectOptic          = 0x67
	CCNETRejectInhibit        = 0x68
	CCNETRejectCapacity       = 0x69
	CCNETRejectOperation      = 0x6A
	CCNETRejectLength         = 0x6C
)

// CCNET failure codes (second byte of a GENERIC_FAILURE status)
const (
	CCNETFailureStackMotor       = 0x50
	CCNETFailureTransportSpeed   = 0x51
	CCNETFailureTransportMotor   = 0x52
	CCNETFailureAligningMotor    = 0x53
	CCNETFailureInitialCassette  = 0x54
	CCNETFailureOpticCanal       = 0x55
	CCNETFailureMagneticCanal    = 0x56
	CCNETFailureCapacitanceCanal = 0x5F
)

// ID003 operation commands (controller → validator)
const (
	ID003StatusReq = 0x11
	ID003Reset     = 0x40
	ID003Stack1    = 0x41
	ID003Stack2    = 0x42
	ID003Return    = 0x43
	ID003Hold      = 0x44
	ID003Wait      = 0x45
)

// ID003 setting commands. The validator echoes these back on success.
const (
	ID003SetEnable    = 0xC0
	ID003SetSecurity  = 0xC1
	ID003SetCommMode  = 0xC2
	ID003SetInhibit   = 0xC3
	ID003SetDirection = 0xC4
	ID003SetOptFunc   = 0xC5
)

// ID003 setting status requests
const (
	ID003EnableReq         = 0x80
	ID003SecurityReq       = 0x81
	ID003CommModeReq       = 0x82
	ID003InhibitReq        = 0x83
	ID003DirectionReq      = 0x84
	ID003OptFuncReq        = 0x85
	ID003VersionReq        = 0x88
	ID003BootVersionReq    = 0x89
	ID003CurrencyAssignReq = 0x8A
)

// ID003 status codes (validator → controller)
const (
	ID003StatusIdling         = 0x11
	ID003StatusAccepting      = 0x12
	ID003StatusEscrow         = 0x13
	ID003StatusStacking       = 0x14
	ID003StatusVendValid      = 0x15
	ID003StatusStacked        = 0x16
	ID003StatusRejecting      = 0x17
	ID003StatusReturning      = 0x18
	ID003StatusHolding        = 0x19
	ID003StatusDisableInhibit = 0x1A
	ID003StatusInitialize     = 0x1B
	ID003StatusPowerUp        = 0x40
	ID003StatusPowerUpBIA     = 0x41
	ID003StatusPowerUpBIS     = 0x42
	ID003StatusStackerFull    = 0x43
	ID003StatusStackerOpen    = 0x44
	ID003StatusAcceptorJam    = 0x45
	ID003StatusStackerJam     = 0x46
	ID003StatusPause          = 0x47
	ID003StatusCheated        = 0x48
	ID003StatusFailure        = 0x49
	ID003StatusCommError      = 0x4A
	ID003StatusInvalidCommand = 0x4B
	ID003StatusAck            = 0x50
)

// ID003 reject reasons (payload of a REJECTING status)
const (
	ID003RejectInsertion     = 0x71
	ID003RejectMagnetic      = 0x72
	ID003RejectRemainingBill = 0x73
	ID003RejectCompensation  = 0x74
	ID003RejectConveying     = 0x75
	ID003RejectDenomination  = 0x76
	ID003RejectPhotoPattern  = 0x77
	ID003RejectPhotoLevel    = 0x78
	ID003RejectInhibit       = 0x79
	ID003RejectOperation     = 0x7B
	ID003RejectStackerReturn = 0x7C
	ID003RejectLength        = 0x7D
	ID003RejectColorPattern  = 0x7E
	ID003RejectCounterfeit   = 0x7F
)

// ID003 failure codes (payload of a FAILURE status)
const (
	ID003FailureStackMotor     = 0xA2
	ID003FailureTransportSpeed = 0xA5
	ID003FailureTransportMotor = 0xA6
	ID003FailureSolenoid       = 0xA8
	ID003FailurePBUnit         = 0xA9
	ID003FailureCashBox        = 0xAB
	ID003FailureHeadRemoved    = 0xAF
	ID003FailureBootROM        = 0xB0
	ID003FailureExternalROM    = 0xB1
	ID003FailureRAM            = 0xB2
)

// ccTalk headers
const (
	CCTalkReplyAck              = 0x00
	CCTalkResetDevice           = 0x01
	CCTalkReplyNak              = 0x05
	CCTalkReplyBusy             = 0x06
	CCTalkRouteBill             = 0x9A
	CCTalkRequestBillID         = 0x9D
	CCTalkReadBufferedBills     = 0x9F
	CCTalkRequestMasterInhibit  = 0xE3
	CCTalkModifyMasterInhibit   = 0xE4
	CCTalkRequestInhibitStatus  = 0xE6
	CCTalkModifyInhibitStatus   = 0xE7
	CCTalkRequestSoftwareRev    = 0xF1
	CCTalkRequestSerialNumber   = 0xF2
	CCTalkRequestProductCode    = 0xF4
	CCTalkRequestManufacturerID = 0xF6
	CCTalkSimplePoll            = 0xFE
)
