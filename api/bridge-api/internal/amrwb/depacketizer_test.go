// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_amrwb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test helpers
// ============================================================================

// bitWriter packs bits MSB-first, mirroring the wire layout of the
// bandwidth-efficient format.
type bitWriter struct {
	data []byte
	pos  int
}

func (w *bitWriter) writeBits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.pos%8 == 0 {
			w.data = append(w.data, 0)
		}
		if v>>i&1 != 0 {
			w.data[w.pos/8] |= 1 << (7 - w.pos%8)
		}
		w.pos++
	}
}

// buildBE assembles a bandwidth-efficient payload from frames whose Data is
// already sized to FrameBytes(Type).
func buildBE(frames []Frame, withCMR bool) []byte {
	w := &bitWriter{}
	if withCMR {
		w.writeBits(0xF, 4) // CMR: no mode request
	}
	for i, f := range frames {
		follow := uint32(0)
		if i < len(frames)-1 {
			follow = 1
		}
		q := uint32(0)
		if f.Quality {
			q = 1
		}
		w.writeBits(follow, 1)
		w.writeBits(uint32(f.Type), 4)
		w.writeBits(q, 1)
	}
	for _, f := range frames {
		bits := FrameBits(f.Type)
		for i := 0; i < bits; i++ {
			w.writeBits(uint32(f.Data[i/8]>>(7-i%8)&1), 1)
		}
	}
	return w.data
}

func speechFrame(ft int, seed byte) Frame {
	data := make([]byte, FrameBytes(ft))
	for i := range data {
		data[i] = seed + byte(i)
	}
	// The last byte of a bit-packed frame only has bits%8 significant bits;
	// keep the padding positions zero so BE round-trips bit-exactly.
	if rem := FrameBits(ft) % 8; rem != 0 {
		data[len(data)-1] &= byte(0xFF << (8 - rem))
	}
	return Frame{Type: ft, Quality: true, Data: data}
}

// ============================================================================
// ParseBE
// ============================================================================

func TestParseBE_SingleFrame(t *testing.T) {
	in := speechFrame(4, 0x11)
	payload := buildBE([]Frame{in}, true)

	frames, err := ParseBE(payload, true)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, 4, frames[0].Type)
	assert.True(t, frames[0].Quality)
	assert.Equal(t, in.Data, frames[0].Data)
}

func TestParseBE_MultiFrame(t *testing.T) {
	in := []Frame{speechFrame(2, 0x01), speechFrame(2, 0x40), {Type: FrameTypeNoData, Quality: true, Data: []byte{}}}
	payload := buildBE(in, true)

	frames, err := ParseBE(payload, true)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	assert.Equal(t, 2, frames[0].Type)
	assert.Equal(t, 2, frames[1].Type)
	assert.Equal(t, FrameTypeNoData, frames[2].Type)
	assert.Equal(t, in[0].Data, frames[0].Data)
	assert.Equal(t, in[1].Data, frames[1].Data)
}

func TestParseBE_NoCMR(t *testing.T) {
	in := speechFrame(0, 0x22)
	payload := buildBE([]Frame{in}, false)

	frames, err := ParseBE(payload, false)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, in.Data, frames[0].Data)
}

func TestParseBE_ReservedFrameType(t *testing.T) {
	w := &bitWriter{}
	w.writeBits(0xF, 4) // CMR
	w.writeBits(0, 1)   // F=0
	w.writeBits(11, 4)  // reserved FT
	w.writeBits(1, 1)   // Q
	_, err := ParseBE(w.data, true)
	assert.ErrorIs(t, err, ErrReservedFrameType)
}

func TestParseBE_NonZeroResidualBits(t *testing.T) {
	in := speechFrame(4, 0x11)
	payload := buildBE([]Frame{in}, true)
	// Force a stray bit into the padding tail.
	payload[len(payload)-1] |= 0x01

	_, err := ParseBE(payload, true)
	assert.ErrorIs(t, err, ErrResidualBits)
}

func TestParseBE_Truncated(t *testing.T) {
	in := speechFrame(8, 0x33)
	payload := buildBE([]Frame{in}, true)

	_, err := ParseBE(payload[:10], true)
	assert.ErrorIs(t, err, ErrTruncated)
}

// ============================================================================
// ParseOctetAligned
// ============================================================================

func buildOctet(frames []Frame, withCMR bool) []byte {
	var out []byte
	if withCMR {
		out = append(out, 0xF0)
	}
	for i, f := range frames {
		toc := byte(f.Type&0x0F) << 3
		if f.Quality {
			toc |= 0x04
		}
		if i < len(frames)-1 {
			toc |= 0x80
		}
		out = append(out, toc)
	}
	for _, f := range frames {
		out = append(out, f.Data...)
	}
	return out
}

func TestParseOctetAligned_WithCMR(t *testing.T) {
	in := []Frame{speechFrame(4, 0x10), {Type: FrameTypeSID, Quality: true, Data: []byte{1, 2, 3, 4, 5}}}
	payload := buildOctet(in, true)

	frames, err := ParseOctetAligned(payload, true)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, 4, frames[0].Type)
	assert.Equal(t, FrameTypeSID, frames[1].Type)
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, frames[1].Data)
}

func TestParseOctetAligned_DataLenMismatch(t *testing.T) {
	in := speechFrame(4, 0x10)
	payload := buildOctet([]Frame{in}, false)
	payload = append(payload, 0xAA) // residue

	_, err := ParseOctetAligned(payload, false)
	assert.ErrorIs(t, err, ErrDataLenMismatch)
}

func TestParseOctetAligned_ReservedFrameType(t *testing.T) {
	payload := []byte{byte(12) << 3}
	_, err := ParseOctetAligned(payload, false)
	assert.ErrorIs(t, err, ErrReservedFrameType)
}

// ============================================================================
// BE → storage round-trip (bit-exact)
// ============================================================================

func TestBEToStorage_RoundTrip(t *testing.T) {
	in := []Frame{
		speechFrame(4, 0x10),
		speechFrame(8, 0x80),
		{Type: FrameTypeSID, Quality: true, Data: []byte{9, 8, 7, 6, 5}},
		{Type: FrameTypeNoData, Quality: true, Data: []byte{}},
	}
	payload := buildBE(in, true)

	frames, err := ParseBE(payload, true)
	require.NoError(t, err)

	storage := BEToStorage(frames)
	full := append([]byte(StorageHeader), storage...)

	reparsed, stats, err := ParseStorageFile(full)
	require.NoError(t, err)
	assert.Zero(t, stats.BadF)
	assert.Zero(t, stats.BadFT)
	assert.Zero(t, stats.BadLength)

	require.Len(t, reparsed, len(in))
	for i := range in {
		assert.Equal(t, in[i].Type, reparsed[i].Type, "frame %d type", i)
		assert.Equal(t, in[i].Data, reparsed[i].Data, "frame %d speech bytes", i)
	}
}

func TestTranscode_BEWinsOverOctet(t *testing.T) {
	in := speechFrame(4, 0x55)
	payload := buildBE([]Frame{in}, true)

	// Even with octet fallback allowed, a successful BE parse must win.
	frames, err := Transcode(payload, true, true)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, in.Data, frames[0].Data)
}

func TestTranscode_OctetRejectedWithoutFallback(t *testing.T) {
	in := speechFrame(4, 0x55)
	payload := buildOctet([]Frame{in}, true)
	// An octet payload of a single frame does not re-parse as valid BE
	// (padding constraint), so strict mode must reject it.
	if _, err := ParseBE(payload, true); err == nil {
		t.Skip("payload coincidentally parses as BE")
	}
	_, err := Transcode(payload, true, false)
	assert.Error(t, err)
}

// ============================================================================
// Storage validator
// ============================================================================

func TestParseStorage_DropsBadFrames(t *testing.T) {
	good := speechFrame(2, 0x01)
	stream := BEToStorage([]Frame{good})
	// Follow bit set → badF, then a reserved FT → badFt.
	stream = append(stream, 0x80|storageTOC(2, true))
	stream = append(stream, storageTOC(10, true))
	// Truncated frame: declared FT 8 but only 3 bytes left.
	stream = append(stream, storageTOC(8, true), 1, 2, 3)

	frames, stats := ParseStorage(stream)
	require.Len(t, frames, 1)
	assert.Equal(t, good.Data, frames[0].Data)
	assert.Equal(t, 1, stats.BadF)
	assert.Equal(t, 1, stats.BadFT)
	assert.Equal(t, 1, stats.BadLength)
}
