// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"bytes"
	"time"
)

// Message is one protocol frame together with its decoded fields
type Message struct {
	protocol  Protocol
	direction Direction
	opcode    byte
	payload   []byte
	framed    []byte
	timestamp time.Time
}

// Construct builds a complete frame for the given protocol. The payload is
// copied.
func Construct(p Protocol, d Direction, opcode byte, payload []byte) (*Message, error) {
	l, ok := layoutFor(p)
	if !ok {
		return nil, ErrUnknownProtocol
	}
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}

	total := l.overhead() + len(payload)
	frame := make([]byte, 0, total)

	switch p {
	case ProtocolCCNET:
		frame = append(frame, CCNETSync1, CCNETSync2, encodeLength(l, total))
	case ProtocolID003:
		frame = append(frame, ID003Sync, encodeLength(l, total))
	case ProtocolCCTalk:
		dst, src := byte(CCTalkValidatorAddress), byte(CCTalkHostAddress)
		if d == Receive {
			dst, src = src, dst
		}
		frame = append(frame, dst, encodeLength(l, total), src)
	}
	frame = append(frame, opcode)
	frame = append(frame, payload...)
	frame = appendChecksum(frame, l.checksumLen)

	return &Message{
		protocol:  p,
		direction: d,
		opcode:    opcode,
		payload:   append([]byte(nil), payload...),
		framed:    frame,
		timestamp: time.Now(),
	}, nil
}

// MustConstruct is Construct for compile-time constant frames. It panics on
// an invalid protocol or an oversized payload.
func MustConstruct(p Protocol, d Direction, opcode byte, payload []byte) *Message {
	m, err := Construct(p, d, opcode, payload)
	if err != nil {
		panic("billproto: construct error: " + err.Error())
	}
	return m
}

// Parse validates a received frame and decodes it. The protocol is taken from
// the sync bytes, not from the link the frame arrived on. Checks run in a
// fixed order: size, header, length, opcode, payload bounds, checksum. The
// checksum is only meaningful once the frame bounds are known to be right.
//
// On failure the returned error is a *ParseFailure wrapping a Result.
func Parse(framed []byte, d Direction) (*Message, error) {
	n := len(framed)
	if n == 0 || n > MaxFrameSize {
		return nil, failure(ParseError, map[string]interface{}{"length": n}, "framed length %d out of range", n)
	}

	p := detectProtocol(framed)
	if p == ProtocolUnknown {
		return nil, failure(InvalidHeader, map[string]interface{}{"first": framed[0]}, "unrecognized sync byte 0x%02X", framed[0])
	}
	l, _ := layoutFor(p)

	if n < l.overhead() {
		return nil, failure(InvalidLength, map[string]interface{}{"length": n, "minimum": l.overhead()},
			"%s frame too short: %d bytes", p, n)
	}

	declared := decodeLength(l, framed[l.syncLen])
	if declared != n {
		return nil, failure(InvalidLength, map[string]interface{}{"declared": declared, "received": n},
			"%s length field says %d, received %d", p, declared, n)
	}

	opcode := framed[l.headerLen()]
	if !IsLegalOpcode(p, d, opcode) {
		return nil, failure(UnknownOpcode, map[string]interface{}{"opcode": opcode},
			"%s %s opcode 0x%02X not recognized", p, d, opcode)
	}

	payloadLen := n - l.headerLen() - 1 - l.checksumLen
	if payloadLen < 0 {
		return nil, failure(InvalidLength, map[string]interface{}{"payload": payloadLen}, "negative payload length")
	}
	if payloadLen > MaxPayloadSize {
		return nil, failure(DataMissingForOpcode, map[string]interface{}{"payload": payloadLen},
			"payload of %d bytes exceeds %d", payloadLen, MaxPayloadSize)
	}

	if !verifyChecksum(framed, l.checksumLen) {
		return nil, failure(CrcInvalid, nil, "%s checksum mismatch", p)
	}

	start := l.headerLen() + 1
	return &Message{
		protocol:  p,
		direction: d,
		opcode:    opcode,
		payload:   append([]byte(nil), framed[start:start+payloadLen]...),
		framed:    append([]byte(nil), framed...),
		timestamp: time.Now(),
	}, nil
}

// Protocol returns the protocol family of the frame
func (m *Message) Protocol() Protocol {
	return m.protocol
}

// Direction returns the direction the frame was constructed or parsed for
func (m *Message) Direction() Direction {
	return m.direction
}

// Opcode returns the command or status byte
func (m *Message) Opcode() byte {
	return m.opcode
}

// Payload returns the data bytes between opcode and checksum
func (m *Message) Payload() []byte {
	return m.payload
}

// Framed returns the complete wire frame
func (m *Message) Framed() []byte {
	return m.framed
}

// Len returns the length of the wire frame
func (m *Message) Len() int {
	return len(m.framed)
}

// Timestamp returns when the message was constructed or parsed
func (m *Message) Timestamp() time.Time {
	return m.timestamp
}

// Name returns the opcode name for the message's protocol and direction
func (m *Message) Name() string {
	return FormatOpcode(m.protocol, m.direction, m.opcode)
}

// SameFrame reports whether both messages carry identical wire bytes
func (m *Message) SameFrame(other *Message) bool {
	if m == nil || other == nil {
		return false
	}
	return bytes.Equal(m.framed, other.framed)
}
