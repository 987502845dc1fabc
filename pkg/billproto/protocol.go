// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"fmt"
	"strings"
	"time"
)

// Protocol identifies a wire protocol family
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolCCNET
	ProtocolID003
	ProtocolCCTalk
)

// String returns the protocol name as used in logs and config files
func (p Protocol) String() string {
	switch p {
	case ProtocolCCNET:
		return "CCNET"
	case ProtocolID003:
		return "ID003"
	case ProtocolCCTalk:
		return "CCTALK"
	default:
		return "UNKNOWN"
	}
}

// ParseProtocol accepts a protocol name in any case
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CCNET":
		return ProtocolCCNET, nil
	case "ID003":
		return ProtocolID003, nil
	case "CCTALK":
		return ProtocolCCTalk, nil
	default:
		return ProtocolUnknown, fmt.Errorf("unknown protocol %q", s)
	}
}

// Direction says which side of a controller/validator pair a frame travels
// towards. Transmit frames are commands sent by a controller, Receive frames
// are status replies sent by a validator. The same opcode value can mean
// different things in each direction.
type Direction int

const (
	Transmit Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Receive {
		return "RX"
	}
	return "TX"
}

// Framing holds the per-link parameters the Assembler needs to cut frames out
// of a byte stream.
type Framing struct {
	Sync             []byte
	LengthOffset     int
	ChecksumLength   int
	InterByteTimeout time.Duration
}

// MaxFrameLength is the longest frame the framing can carry: sync, length,
// opcode, checksum and a full payload
func (f Framing) MaxFrameLength() int {
	n := len(f.Sync) + 2 + f.ChecksumLength + MaxPayloadSize
	if n > MaxFrameSize {
		return MaxFrameSize
	}
	return n
}

// DefaultInterByteTimeout tolerates the receive latency of USB serial adapters
const DefaultInterByteTimeout = 50 * time.Millisecond

// DefaultFraming returns the framing a link speaking p receives with.
// ccTalk links listen for frames addressed to the host.
func DefaultFraming(p Protocol) (Framing, error) {
	switch p {
	case ProtocolCCNET:
		return Framing{Sync: []byte{CCNETSync1, CCNETSync2}, ChecksumLength: 2, InterByteTimeout: DefaultInterByteTimeout}, nil
	case ProtocolID003:
		return Framing{Sync: []byte{ID003Sync}, ChecksumLength: 2, InterByteTimeout: DefaultInterByteTimeout}, nil
	case ProtocolCCTalk:
		return Framing{Sync: []byte{CCTalkHostAddress}, LengthOffset: cctalkOverhead, ChecksumLength: 1, InterByteTimeout: DefaultInterByteTimeout}, nil
	default:
		return Framing{}, ErrUnknownProtocol
	}
}

// Validate checks that the framing can be used by an Assembler
func (f Framing) Validate() error {
	if len(f.Sync) < 1 || len(f.Sync) > 2 {
		return fmt.Errorf("sync pattern must be 1 or 2 bytes, got %d", len(f.Sync))
	}
	if f.ChecksumLength < 1 || f.ChecksumLength > 2 {
		return fmt.Errorf("checksum length must be 1 or 2, got %d", f.ChecksumLength)
	}
	if f.LengthOffset < -MaxFrameSize || f.LengthOffset > MaxFrameSize {
		return fmt.Errorf("length offset %d out of range", f.LengthOffset)
	}
	if f.InterByteTimeout < 0 {
		return fmt.Errorf("negative inter-byte timeout")
	}
	return nil
}

// cctalkOverhead is every ccTalk byte that is not payload:
// destination, length, source, header and checksum.
const cctalkOverhead = 5

// layout describes where the fields of a frame sit for one protocol
type layout struct {
	syncLen      int
	addrLen      int // source address between length and opcode (ccTalk)
	lengthOffset int
	checksumLen  int
}

func (l layout) headerLen() int {
	return l.syncLen + 1 + l.addrLen
}

func (l layout) overhead() int {
	return l.headerLen() + 1 + l.checksumLen
}

func layoutFor(p Protocol) (layout, bool) {
	switch p {
	case ProtocolCCNET:
		return layout{syncLen: 2, checksumLen: 2}, true
	case ProtocolID003:
		return layout{syncLen: 1, checksumLen: 2}, true
	case ProtocolCCTalk:
		return layout{syncLen: 1, addrLen: 1, lengthOffset: cctalkOverhead, checksumLen: 1}, true
	default:
		return layout{}, false
	}
}

// detectProtocol identifies the protocol family from the leading sync bytes
func detectProtocol(framed []byte) Protocol {
	if len(framed) >= 2 && framed[0] == CCNETSync1 && framed[1] == CCNETSync2 {
		return ProtocolCCNET
	}
	if len(framed) >= 1 && framed[0] == ID003Sync {
		return ProtocolID003
	}
	if len(framed) >= 1 && (framed[0] == CCTalkHostAddress || framed[0] == CCTalkValidatorAddress) {
		return ProtocolCCTalk
	}
	return ProtocolUnknown
}

// encodeLength returns the length byte for a frame of total bytes.
// A total of 256 wraps to zero, which decodeLength reads back as 256.
func encodeLength(l layout, total int) byte {
	return byte(total - l.lengthOffset)
}

func decodeLength(l layout, b byte) int {
	return FrameLength(b, l.lengthOffset, l.overhead()+MaxPayloadSize)
}

// FrameLength converts a received length byte into the total frame length.
// With no offset a zero length byte stands for a 256 byte frame, but only
// where maxFrame allows one; elsewhere zero is returned and the caller
// rejects the frame.
func FrameLength(b byte, offset, maxFrame int) int {
	if b == 0 && offset == 0 {
		if maxFrame >= MaxFrameSize {
			return MaxFrameSize
		}
		return 0
	}
	return int(b) + offset
}
