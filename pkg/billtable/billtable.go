// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package billtable decodes the denomination table reported by the
// downstream validator and re-encodes it in the CCNET bill table layout.
//
// Each side numbers its denominations independently. Upstream bit numbers are
// handed out in arrival order and never change once the table is loaded,
// because the host caches the CCNET layout.
package billtable

import (
	"errors"
	"fmt"
	"strings"
)

// Table size limits
const (
	MaxDenominations    = 24
	ID003RecordSize     = 4
	CCNETRowSize        = 5
	CCNETTableSize      = MaxDenominations * CCNETRowSize
	DefaultCurrency     = "EUR"
	maxCCNETExponent    = 9
	maxCCNETCoefficient = 0xFF
)

// ErrEmpty is returned when a currency assignment reply is shorter than one
// record
var ErrEmpty = errors.New("billtable: no records in reply")

// Denomination is one bill value known to both sides
type Denomination struct {
	DownstreamID  byte
	DownstreamBit int
	Value         uint32
	UpstreamBit   int
	Country       byte
}

// Table is the loaded denomination table plus the enable and escrow masks
// last applied on each side
type Table struct {
	Denominations []Denomination
	Loaded        bool
	Currency      string

	UpstreamEnabled   uint32
	UpstreamEscrow    uint32
	DownstreamEnabled uint16
	DownstreamEscrow  uint16
}

// New returns an empty table for the given ISO currency code
func New(currency string) *Table {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Table{Currency: strings.ToUpper(currency)}
}

// DecodeID003 fills the table from an ID003 currency assignment payload made
// of 4 byte records [denomination, country, coefficient, exponent]. Records
// with a zero coefficient are skipped; a trailing partial record is dropped.
// A reply whose records are all unused loads an empty table.
func (t *Table) DecodeID003(payload []byte) error {
	records := len(payload) / ID003RecordSize
	if records == 0 {
		return ErrEmpty
	}
	denoms := make([]Denomination, 0, records)

	for i := 0; i < records && len(denoms) < MaxDenominations; i++ {
		rec := payload[i*ID003RecordSize : (i+1)*ID003RecordSize]
		id, country, coefficient, exponent := rec[0], rec[1], rec[2], rec[3]
		if coefficient == 0 {
			continue
		}
		value := uint32(coefficient)
		for e := byte(0); e < exponent && e < maxCCNETExponent; e++ {
			value *= 10
		}
		denoms = append(denoms, Denomination{
			DownstreamID:  id,
			DownstreamBit: int(id&0x0F) - 1,
			Value:         value,
			UpstreamBit:   len(denoms),
			Country:       country,
		})
	}

	t.Denominations = denoms
	t.Loaded = true
	return nil
}

// Reset forgets the loaded table. Used when the downstream link is
// reinitialised.
func (t *Table) Reset() {
	t.Denominations = nil
	t.Loaded = false
	t.UpstreamEnabled, t.UpstreamEscrow = 0, 0
	t.DownstreamEnabled, t.DownstreamEscrow = 0, 0
}

// CCNETPayload encodes the table as the 120 byte CCNET bill table reply:
// 24 rows of [coefficient, currency x3, exponent] indexed by upstream bit.
func (t *Table) CCNETPayload() []byte {
	out := make([]byte, CCNETTableSize)
	cur := []byte(fmt.Sprintf("%-3.3s", t.Currency))
	for _, d := range t.Denominations {
		if d.UpstreamBit < 0 || d.UpstreamBit >= MaxDenominations {
			continue
		}
		coefficient, exponent := splitValue(d.Value)
		row := out[d.UpstreamBit*CCNETRowSize:]
		row[0] = coefficient
		copy(row[1:4], cur)
		row[4] = exponent
	}
	return out
}

// splitValue expresses value as coefficient x 10^exponent with the
// coefficient fitting a byte. Trailing zeros move into the exponent first;
// only values still too large lose precision.
func splitValue(value uint32) (byte, byte) {
	exponent := byte(0)
	for value >= 10 && value%10 == 0 && exponent < maxCCNETExponent {
		value /= 10
		exponent++
	}
	for value > maxCCNETCoefficient && exponent < maxCCNETExponent {
		value /= 10
		exponent++
	}
	if value > maxCCNETCoefficient {
		value = maxCCNETCoefficient
	}
	return byte(value), exponent
}

// DownstreamInhibitMask converts a CCNET enable mask to the ID003 ENABLE
// payload, where a set bit disables the denomination
func (t *Table) DownstreamInhibitMask(upstreamEnabled uint32) uint16 {
	var inhibit uint16 = 0xFFFF
	for _, d := range t.Denominations {
		if d.DownstreamBit < 0 || d.DownstreamBit > 15 {
			continue
		}
		if upstreamEnabled&(1<<uint(d.UpstreamBit)) != 0 {
			inhibit &^= 1 << uint(d.DownstreamBit)
		}
	}
	return inhibit
}

// UpstreamEnabledMask converts an ID003 ENABLE payload (set bit disables)
// into a CCNET enable mask
func (t *Table) UpstreamEnabledMask(downstreamInhibit uint16) uint32 {
	var enabled uint32
	for _, d := range t.Denominations {
		if d.DownstreamBit < 0 || d.DownstreamBit > 15 {
			continue
		}
		if downstreamInhibit&(1<<uint(d.DownstreamBit)) == 0 {
			enabled |= 1 << uint(d.UpstreamBit)
		}
	}
	return enabled
}

// Find returns the denomination with the given upstream bit
func (t *Table) Find(upstreamBit int) (Denomination, bool) {
	for _, d := range t.Denominations {
		if d.UpstreamBit == upstreamBit {
			return d, true
		}
	}
	return Denomination{}, false
}

// PutMask24 writes the low 24 bits of mask big-endian, the CCNET bit mask layout
func PutMask24(dst []byte, mask uint32) {
	dst[0] = byte(mask >> 16)
	dst[1] = byte(mask >> 8)
	dst[2] = byte(mask)
}

// Mask24 reads a 24 bit big-endian CCNET bit mask
func Mask24(src []byte) uint32 {
	return uint32(src[0])<<16 | uint32(src[1])<<8 | uint32(src[2])
}

// String returns a one-line summary such as "EUR 5 10 20 50"
func (t *Table) String() string {
	if !t.Loaded {
		return "not loaded"
	}
	parts := make([]string, 0, len(t.Denominations)+1)
	parts = append(parts, t.Currency)
	for _, d := range t.Denominations {
		parts = append(parts, fmt.Sprintf("%d", d.Value))
	}
	return strings.Join(parts, " ")
}
