// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatHex renders a frame the way protocol logs show it: the protocol name
// followed by the raw bytes in upper-case hex.
func FormatHex(p Protocol, framed []byte) string {
	return p.String() + " " + strings.ToUpper(hex.EncodeToString(framed))
}

// FormatMessage formats a message into a human-readable line
func FormatMessage(m *Message) string {
	timestamp := m.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s %s %s (0x%02X) len=%d", timestamp, m.protocol, m.direction, m.Name(), m.opcode, len(m.framed))
	if len(m.payload) > 0 {
		result += " data=" + strings.ToUpper(hex.EncodeToString(m.payload))
	}
	return result
}

// FormatFailure formats a parse failure together with the offending bytes
func FormatFailure(framed []byte, err error) string {
	return fmt.Sprintf("%s [%s]", err, strings.ToUpper(hex.EncodeToString(framed)))
}

// ParseHex decodes hex text that may contain spaces, colons or a 0x prefix
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}
