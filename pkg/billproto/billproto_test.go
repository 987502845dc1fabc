// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"bytes"
	"errors"
	"testing"
)

// ============================================================
// Fixtures
// ============================================================

// identification reply captured from a CCNET validator
var ccnetIdentificationFrame = []byte{
	0x02, 0x03, 0x27, 0x46, 0x4C, 0x53, 0x2D, 0x45, 0x55, 0x31, 0x30, 0x2D,
	0x36, 0x39, 0x33, 0x36, 0x33, 0x39, 0x30, 0x37, 0x4B, 0x49, 0x34, 0x31,
	0x41, 0x53, 0x37, 0x34, 0x38, 0x32, 0x75, 0xED, 0x8D, 0xC8, 0x03, 0x3F, 0x7B,
	0x35, 0xDA,
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != crcInitial {
		t.Errorf("CRC of empty data should be initial value, got 0x%04X", crc)
	}
}

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{"CCNET POLL", []byte{0x02, 0x03, 0x06, 0x33}, 0x81DA},
		{"CCNET IDLING", []byte{0x02, 0x03, 0x06, 0x14}, 0xD467},
		{"ID003 STATUS_REQ", []byte{0xFC, 0x05, 0x11}, 0x5627},
		{"CCNET IDENTIFICATION", ccnetIdentificationFrame[:len(ccnetIdentificationFrame)-2], 0xDA35},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if crc := CalculateCRC(tt.data); crc != tt.expected {
				t.Errorf("CalculateCRC() = 0x%04X, want 0x%04X", crc, tt.expected)
			}
		})
	}
}

func TestCalculateCRC_ResidueIsZero(t *testing.T) {
	frames := [][]byte{
		{0x02, 0x03, 0x06, 0x33, 0xDA, 0x81},
		{0x02, 0x03, 0x06, 0x14, 0x67, 0xD4},
		{0xFC, 0x05, 0x11, 0x27, 0x56},
		ccnetIdentificationFrame,
	}
	for _, f := range frames {
		if crc := CalculateCRC(f); crc != 0 {
			t.Errorf("CRC over % X including its checksum = 0x%04X, want 0", f, crc)
		}
	}
}

func TestCalculateChecksum8(t *testing.T) {
	// ccTalk simple poll from host to address 40
	frame := []byte{0x28, 0x00, 0x01, 0xFE}
	sum := CalculateChecksum8(frame)
	if sum != 0xD9 {
		t.Errorf("CalculateChecksum8() = 0x%02X, want 0xD9", sum)
	}
	var total byte
	for _, b := range append(frame, sum) {
		total += b
	}
	if total != 0 {
		t.Errorf("frame plus checksum sums to 0x%02X, want 0", total)
	}
}

// ============================================================
// Construct Tests
// ============================================================

func TestConstruct_KnownFrames(t *testing.T) {
	tests := []struct {
		name     string
		protocol Protocol
		dir      Direction
		opcode   byte
		payload  []byte
		expected []byte
	}{
		{"CCNET POLL", ProtocolCCNET, Transmit, CCNETPoll, nil, []byte{0x02, 0x03, 0x06, 0x33, 0xDA, 0x81}},
		{"CCNET IDLING", ProtocolCCNET, Receive, CCNETStatusIdling, nil, []byte{0x02, 0x03, 0x06, 0x14, 0x67, 0xD4}},
		{"ID003 STATUS_REQ", ProtocolID003, Transmit, ID003StatusReq, nil, []byte{0xFC, 0x05, 0x11, 0x27, 0x56}},
		{"CCTALK SIMPLE_POLL", ProtocolCCTalk, Transmit, CCTalkSimplePoll, nil, []byte{0x28, 0x00, 0x01, 0xFE, 0xD9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Construct(tt.protocol, tt.dir, tt.opcode, tt.payload)
			if err != nil {
				t.Fatalf("Construct() error: %v", err)
			}
			if !bytes.Equal(msg.Framed(), tt.expected) {
				t.Errorf("Construct() = % X, want % X", msg.Framed(), tt.expected)
			}
		})
	}
}

func TestConstruct_Errors(t *testing.T) {
	if _, err := Construct(ProtocolUnknown, Transmit, 0x00, nil); !errors.Is(err, ErrUnknownProtocol) {
		t.Errorf("unknown protocol: got %v, want ErrUnknownProtocol", err)
	}
	if _, err := Construct(ProtocolCCNET, Transmit, CCNETPoll, make([]byte, MaxPayloadSize+1)); !errors.Is(err, ErrPayloadTooLong) {
		t.Errorf("long payload: got %v, want ErrPayloadTooLong", err)
	}
}

func TestConstruct_FullLengthCCNETFrame(t *testing.T) {
	msg, err := Construct(ProtocolCCNET, Receive, CCNETReplyBillTable, make([]byte, MaxPayloadSize))
	if err != nil {
		t.Fatalf("Construct() error: %v", err)
	}
	if msg.Len() != MaxFrameSize {
		t.Fatalf("frame length = %d, want %d", msg.Len(), MaxFrameSize)
	}
	if msg.Framed()[2] != 0 {
		t.Errorf("length byte of a 256 byte frame = 0x%02X, want 0x00", msg.Framed()[2])
	}
	parsed, err := Parse(msg.Framed(), Receive)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(parsed.Payload()) != MaxPayloadSize {
		t.Errorf("payload length = %d, want %d", len(parsed.Payload()), MaxPayloadSize)
	}
}

// ============================================================
// Parse Tests
// ============================================================

func TestParse_KnownFrames(t *testing.T) {
	// the captured reply carries no reply opcode, so its first data byte
	// reads as PAUSE (0x46 'F') in the receive table
	msg, err := Parse(ccnetIdentificationFrame, Receive)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if msg.Protocol() != ProtocolCCNET {
		t.Errorf("protocol = %s, want CCNET", msg.Protocol())
	}
	if msg.Opcode() != 'F' || len(msg.Payload()) != 33 {
		t.Errorf("opcode = 0x%02X len=%d", msg.Opcode(), len(msg.Payload()))
	}

	payload := append([]byte("FLS-EU10-693639"), []byte("07KI41AS7482")...)
	payload = append(payload, make([]byte, 7)...)
	id := MustConstruct(ProtocolCCNET, Receive, CCNETReplyIdentification, payload)
	msg, err = Parse(id.Framed(), Receive)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if msg.Name() != "IDENTIFICATION" || len(msg.Payload()) != 34 {
		t.Errorf("got %s with %d bytes", msg.Name(), len(msg.Payload()))
	}
	if string(msg.Payload()[:15]) != "FLS-EU10-693639" {
		t.Errorf("part number = %q", msg.Payload()[:15])
	}
}

func TestParse_Results(t *testing.T) {
	tests := []struct {
		name   string
		framed []byte
		dir    Direction
		want   Result
	}{
		{"empty", []byte{}, Receive, ParseError},
		{"oversized", make([]byte, MaxFrameSize+1), Receive, ParseError},
		{"bad header", []byte{0x55, 0x05, 0x11, 0x00, 0x00}, Receive, InvalidHeader},
		{"CCNET sync1 only", []byte{0x02, 0x04, 0x06, 0x33, 0xDA, 0x81}, Transmit, InvalidHeader},
		{"too short", []byte{0xFC, 0x04, 0x11, 0x27}, Transmit, InvalidLength},
		{"length mismatch", []byte{0xFC, 0x06, 0x11, 0x27, 0x56}, Transmit, InvalidLength},
		{"unknown opcode", []byte{0xFC, 0x05, 0x99, 0x00, 0x00}, Transmit, UnknownOpcode},
		{"status as command", []byte{0x02, 0x03, 0x06, 0x14, 0x67, 0xD4}, Transmit, UnknownOpcode},
		{"bad crc", []byte{0xFC, 0x05, 0x11, 0x27, 0x57}, Transmit, CrcInvalid},
		{"ok", []byte{0xFC, 0x05, 0x11, 0x27, 0x56}, Transmit, Ok},
		{"same byte as status", []byte{0xFC, 0x05, 0x11, 0x27, 0x56}, Receive, Ok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.framed, tt.dir)
			if got := Classify(err); got != tt.want {
				t.Errorf("Parse() = %s (%v), want %s", got, err, tt.want)
			}
		})
	}
}

func TestParse_HeaderCheckedBeforeChecksum(t *testing.T) {
	// wrong length and wrong checksum: length wins
	_, err := Parse([]byte{0xFC, 0x07, 0x11, 0x00, 0x00}, Transmit)
	if !errors.Is(err, InvalidLength) {
		t.Errorf("got %v, want InvalidLength", err)
	}
	var pf *ParseFailure
	if !errors.As(err, &pf) {
		t.Fatalf("error %T is not a *ParseFailure", err)
	}
	if pf.Details["declared"] != 7 || pf.Details["received"] != 5 {
		t.Errorf("details = %v", pf.Details)
	}
}

func TestResult_Retriable(t *testing.T) {
	retriable := map[Result]bool{
		NoMessage: false, Ok: false, UnknownOpcode: false, DataMissingForOpcode: true,
		CrcInvalid: true, InvalidLength: false, InvalidHeader: false, ParseError: false,
	}
	for r, want := range retriable {
		if r.Retriable() != want {
			t.Errorf("%s.Retriable() = %v, want %v", r, r.Retriable(), want)
		}
	}
}

// ============================================================
// Round Trip Tests
// ============================================================

var allProtocols = []Protocol{ProtocolCCNET, ProtocolID003, ProtocolCCTalk}

func TestRoundTrip_AllLegalOpcodes(t *testing.T) {
	payloads := [][]byte{nil, {0x00}, {0x01, 0x02, 0x03}, bytes.Repeat([]byte{0xA5}, 64), bytes.Repeat([]byte{0xFF}, MaxPayloadSize)}

	for _, p := range allProtocols {
		for _, d := range []Direction{Transmit, Receive} {
			for _, op := range LegalOpcodes(p, d) {
				for _, payload := range payloads {
					msg, err := Construct(p, d, op, payload)
					if err != nil {
						t.Fatalf("%s %s 0x%02X: Construct() error: %v", p, d, op, err)
					}
					parsed, err := Parse(msg.Framed(), d)
					if err != nil {
						t.Fatalf("%s %s 0x%02X len=%d: Parse() error: %v", p, d, op, len(payload), err)
					}
					if parsed.Protocol() != p || parsed.Opcode() != op || !bytes.Equal(parsed.Payload(), payload) {
						t.Fatalf("%s %s 0x%02X: round trip mismatch", p, d, op)
					}
				}
			}
		}
	}
}

func TestChecksumSensitivity_SingleBitFlips(t *testing.T) {
	for _, p := range allProtocols {
		l, _ := layoutFor(p)
		msg := MustConstruct(p, Receive, LegalOpcodes(p, Receive)[0], []byte{0x10, 0x20, 0x30, 0x40})
		start := l.headerLen()
		end := msg.Len() - l.checksumLen

		for i := start; i < end; i++ {
			for bit := 0; bit < 8; bit++ {
				frame := append([]byte(nil), msg.Framed()...)
				frame[i] ^= 1 << bit
				_, err := Parse(frame, Receive)
				got := Classify(err)
				if got == Ok {
					t.Fatalf("%s: flip byte %d bit %d parsed Ok", p, i, bit)
				}
				if i > start && got != CrcInvalid {
					t.Errorf("%s: payload flip byte %d bit %d = %s, want CRC_INVALID", p, i, bit, got)
				}
				if i == start && IsLegalOpcode(p, Receive, frame[i]) && got != CrcInvalid {
					t.Errorf("%s: opcode flip bit %d = %s, want CRC_INVALID", p, bit, got)
				}
			}
		}
	}
}

func TestLengthEnforcement_Truncation(t *testing.T) {
	for _, p := range allProtocols {
		for _, size := range []int{0, 1, 10, MaxPayloadSize} {
			msg := MustConstruct(p, Transmit, LegalOpcodes(p, Transmit)[0], make([]byte, size))
			_, err := Parse(msg.Framed()[:msg.Len()-1], Transmit)
			if got := Classify(err); got != InvalidLength {
				t.Errorf("%s payload=%d truncated: got %s, want INVALID_LENGTH", p, size, got)
			}
		}
	}
}

func TestMessage_SameFrame(t *testing.T) {
	a := MustConstruct(ProtocolID003, Transmit, ID003SetInhibit, []byte{0x00})
	b := MustConstruct(ProtocolID003, Receive, ID003SetInhibit, []byte{0x00})
	c := MustConstruct(ProtocolID003, Receive, ID003SetInhibit, []byte{0x01})
	if !a.SameFrame(b) {
		t.Error("identical wire bytes should compare equal regardless of direction")
	}
	if a.SameFrame(c) {
		t.Error("different payloads compared equal")
	}
	if a.SameFrame(nil) {
		t.Error("nil compared equal")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatHex(t *testing.T) {
	got := FormatHex(ProtocolCCNET, []byte{0x02, 0x03, 0x06, 0x33, 0xDA, 0x81})
	if got != "CCNET 02030633DA81" {
		t.Errorf("FormatHex() = %q", got)
	}
}

func TestFormatOpcode(t *testing.T) {
	tests := []struct {
		p    Protocol
		d    Direction
		op   byte
		want string
	}{
		{ProtocolID003, Transmit, 0x11, "STATUS_REQUEST"},
		{ProtocolID003, Receive, 0x11, "IDLING"},
		{ProtocolCCNET, Transmit, 0x33, "POLL"},
		{ProtocolCCNET, Receive, 0x33, "UNKNOWN_0x33"},
	}
	for _, tt := range tests {
		if got := FormatOpcode(tt.p, tt.d, tt.op); got != tt.want {
			t.Errorf("FormatOpcode(%s, %s, 0x%02X) = %q, want %q", tt.p, tt.d, tt.op, got, tt.want)
		}
	}
}

func TestParseHex(t *testing.T) {
	got, err := ParseHex("0xFC 05:11-27 56")
	if err != nil {
		t.Fatalf("ParseHex() error: %v", err)
	}
	if !bytes.Equal(got, []byte{0xFC, 0x05, 0x11, 0x27, 0x56}) {
		t.Errorf("ParseHex() = % X", got)
	}
	if _, err := ParseHex("zz"); err == nil {
		t.Error("expected error for invalid hex")
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	s.Update(nil)
	s.Update(failure(CrcInvalid, nil, "x"))
	s.Update(failure(InvalidLength, nil, "x"))
	s.Update(errors.New("something else"))
	s.RecordEcho()
	s.RecordTimeout()

	snap := s.Snapshot()
	if snap.TotalFrames != 4 || snap.ValidFrames != 1 || snap.CRCErrors != 1 || snap.LengthErrors != 1 || snap.ParseErrors != 1 {
		t.Errorf("unexpected counters: %+v", snap)
	}
	if snap.Errors() != 3 {
		t.Errorf("Errors() = %d, want 3", snap.Errors())
	}
	if snap.Echoes != 1 || snap.Timeouts != 1 {
		t.Errorf("echo/timeout counters: %+v", snap)
	}

	s.Reset()
	if s.Snapshot().TotalFrames != 0 {
		t.Error("Reset() did not clear counters")
	}
}
