// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package billproto

import (
	"bytes"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomLegalMessage(rng *rand.Rand) *Message {
	p := allProtocols[rng.Intn(len(allProtocols))]
	d := Direction(rng.Intn(2))
	ops := LegalOpcodes(p, d)
	payload := make([]byte, rng.Intn(MaxPayloadSize+1))
	rng.Read(payload)
	return MustConstruct(p, d, ops[rng.Intn(len(ops))], payload)
}

// ============================================================
// Fuzz Tests
// ============================================================

func TestFuzz_RoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	for i := 0; i < getFuzzRounds(); i++ {
		msg := randomLegalMessage(rng)
		parsed, err := Parse(msg.Framed(), msg.Direction())
		if err != nil {
			t.Fatalf("round %d: Parse(% X) error: %v", i, msg.Framed(), err)
		}
		if parsed.Opcode() != msg.Opcode() || !bytes.Equal(parsed.Payload(), msg.Payload()) {
			t.Fatalf("round %d: round trip mismatch", i)
		}
	}
}

func TestFuzz_ParseRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	for i := 0; i < getFuzzRounds(); i++ {
		data := make([]byte, rng.Intn(MaxFrameSize+2))
		rng.Read(data)
		msg, err := Parse(data, Direction(rng.Intn(2)))
		if err == nil && len(msg.Payload()) > MaxPayloadSize {
			t.Fatalf("round %d: accepted oversized payload", i)
		}
	}
}

func TestFuzz_AssemblerWithNoise(t *testing.T) {
	rng := newFuzzRng(t)
	assemblers := map[Protocol]*Assembler{}
	for _, p := range allProtocols {
		assemblers[p] = newTestAssembler(t, p, newManualClock())
	}

	for i := 0; i < getFuzzRounds(); i++ {
		msg := randomLegalMessage(rng)
		if msg.Protocol() == ProtocolCCTalk && msg.Direction() == Transmit {
			// addressed to the validator, not to the listening host
			continue
		}
		a := assemblers[msg.Protocol()]
		a.Reset()

		noise := make([]byte, rng.Intn(16))
		rng.Read(noise)
		a.FeedBytes(noise)
		// a gap longer than the timeout separates the noise from the frame
		a.clock.(*manualClock).Advance(time.Second)
		a.Take()
		a.FeedBytes(msg.Framed())

		got, ok := a.Take()
		if !ok {
			t.Fatalf("round %d: frame % X not assembled", i, msg.Framed())
		}
		if !bytes.Equal(got, msg.Framed()) {
			t.Fatalf("round %d: assembled % X, want % X", i, got, msg.Framed())
		}
	}
}
