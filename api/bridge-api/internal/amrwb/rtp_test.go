// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_amrwb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func rtpHeader(csrcCount int, payload []byte) []byte {
	buf := make([]byte, 12+csrcCount*4)
	buf[0] = 0x80 | byte(csrcCount) // V=2
	buf[1] = 96                     // dynamic PT
	buf[2], buf[3] = 0x12, 0x34     // seq
	return append(buf, payload...)
}

func TestStripRTP_WellFormed(t *testing.T) {
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	out, stripped := StripRTP(rtpHeader(0, payload))
	assert.True(t, stripped)
	assert.Equal(t, payload, out)
}

func TestStripRTP_WithCSRCs(t *testing.T) {
	payload := []byte{1, 2, 3}
	out, stripped := StripRTP(rtpHeader(2, payload))
	assert.True(t, stripped)
	assert.Equal(t, payload, out)
}

func TestStripRTP_WithPadding(t *testing.T) {
	payload := []byte{1, 2, 3}
	buf := rtpHeader(0, append(payload, 0, 0, 3)) // 3 padding bytes
	buf[0] |= 0x20                                // P bit
	out, stripped := StripRTP(buf)
	assert.True(t, stripped)
	assert.Equal(t, payload, out)
}

func TestStripRTP_NonRTPReturnsInput(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
	}{
		{"too short", []byte{0x80, 0x00}},
		{"wrong version", append([]byte{0x40}, make([]byte, 20)...)},
		{"csrc overflow", func() []byte {
			b := make([]byte, 12)
			b[0] = 0x8F // 15 CSRCs but no room
			return b
		}()},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, stripped := StripRTP(tt.in)
			assert.False(t, stripped)
			assert.Equal(t, tt.in, out)
		})
	}
}

// Strip on an already-stripped buffer must return the input unchanged.
func TestStripRTP_Idempotent(t *testing.T) {
	payload := []byte{0x44, 0x55, 0x66, 0x77, 0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF, 0x01}
	once, stripped := StripRTP(rtpHeader(0, payload))
	assert.True(t, stripped)

	twice, strippedAgain := StripRTP(once)
	assert.False(t, strippedAgain)
	assert.Equal(t, once, twice)
}
