// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

// CalculateCRC computes the CRC-16 used by CCNET and ID003 (reflected
// polynomial 0x8408, zero initial value). The result is sent low byte first.
func CalculateCRC(data []byte) uint16 {
	crc := uint16(crcInitial)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = (crc >> 1) ^ crcPolynomial
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// CalculateChecksum8 computes the ccTalk simple checksum: the byte that makes
// the sum of the whole frame zero modulo 256.
func CalculateChecksum8(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return -sum
}

// appendChecksum appends the checksum of frame for the given length
func appendChecksum(frame []byte, checksumLen int) []byte {
	if checksumLen == 1 {
		return append(frame, CalculateChecksum8(frame))
	}
	crc := CalculateCRC(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

// verifyChecksum reports whether the trailing checksum of frame is correct
func verifyChecksum(frame []byte, checksumLen int) bool {
	body := frame[:len(frame)-checksumLen]
	if checksumLen == 1 {
		return CalculateChecksum8(body) == frame[len(frame)-1]
	}
	crc := CalculateCRC(body)
	return frame[len(frame)-2] == byte(crc) && frame[len(frame)-1] == byte(crc>>8)
}
