// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_amrwb

import (
	"errors"
	"fmt"
)

var (
	// ErrReservedFrameType is returned when a TOC entry names FT 10-13.
	ErrReservedFrameType = errors.New("amrwb: reserved frame type")

	// ErrDataLenMismatch is returned when the payload length does not match
	// the sum of TOC-declared frame lengths.
	ErrDataLenMismatch = errors.New("amrwb: data_len_mismatch")

	// ErrResidualBits is returned when a bandwidth-efficient payload has
	// non-zero bits after the last frame.
	ErrResidualBits = errors.New("amrwb: non-zero residual bits")

	// ErrTruncated is returned when the payload ends inside a TOC or frame.
	ErrTruncated = errors.New("amrwb: truncated payload")
)

// bitReader walks a byte slice bit by bit, MSB first.
type bitReader struct {
	data []byte
	pos  int // bit position
}

func (r *bitReader) remaining() int {
	return len(r.data)*8 - r.pos
}

func (r *bitReader) readBits(n int) (uint32, error) {
	if r.remaining() < n {
		return 0, ErrTruncated
	}
	var v uint32
	for i := 0; i < n; i++ {
		byteIdx := r.pos / 8
		bitIdx := 7 - r.pos%8
		v = v<<1 | uint32(r.data[byteIdx]>>bitIdx&1)
		r.pos++
	}
	return v, nil
}

// ParseOctetAligned depacketizes an octet-aligned AMR-WB payload. When
// hasCMR is true the leading octet carries the 4-bit change-mode-request
// nibble and is skipped. The TOC list is walked by follow bit, then each
// frame consumes exactly FrameBytes(FT) bytes. Any residue is an error.
func ParseOctetAligned(payload []byte, hasCMR bool) ([]Frame, error) {
	offset := 0
	if hasCMR {
		if len(payload) < 1 {
			return nil, ErrTruncated
		}
		offset = 1
	}

	// TOC walk: each entry is one octet [F FT(4) Q pad pad].
	type tocEntry struct {
		ft      int
		quality bool
	}
	var toc []tocEntry
	for {
		if offset >= len(payload) {
			return nil, ErrTruncated
		}
		b := payload[offset]
		offset++
		follow := b&0x80 != 0
		ft := int(b >> 3 & 0x0F)
		q := b&0x04 != 0
		if FrameBytes(ft) < 0 {
			return nil, fmt.Errorf("%w: ft=%d", ErrReservedFrameType, ft)
		}
		toc = append(toc, tocEntry{ft: ft, quality: q})
		if !follow {
			break
		}
	}

	frames := make([]Frame, 0, len(toc))
	for _, e := range toc {
		n := FrameBytes(e.ft)
		if offset+n > len(payload) {
			return nil, fmt.Errorf("%w: frame ft=%d needs %d bytes, %d left",
				ErrTruncated, e.ft, n, len(payload)-offset)
		}
		data := make([]byte, n)
		copy(data, payload[offset:offset+n])
		offset += n
		frames = append(frames, Frame{Type: e.ft, Quality: e.quality, Data: data})
	}

	if offset != len(payload) {
		return nil, fmt.Errorf("%w: %d residual bytes", ErrDataLenMismatch, len(payload)-offset)
	}
	return frames, nil
}

// ParseBE depacketizes a bandwidth-efficient (bit-packed) AMR-WB payload.
// Layout: optional 4-bit CMR, then 6-bit TOC entries [F FT(4) Q] until F=0,
// then per-TOC bit-packed frames of exactly FrameBits(FT) bits. All residual
// padding bits must be zero.
func ParseBE(payload []byte, hasCMR bool) ([]Frame, error) {
	r := &bitReader{data: payload}
	if hasCMR {
		if _, err := r.readBits(4); err != nil {
			return nil, err
		}
	}

	type tocEntry struct {
		ft      int
		quality bool
	}
	var toc []tocEntry
	for {
		e, err := r.readBits(6)
		if err != nil {
			return nil, err
		}
		follow := e&0x20 != 0
		ft := int(e >> 1 & 0x0F)
		q := e&0x01 != 0
		if FrameBits(ft) < 0 {
			return nil, fmt.Errorf("%w: ft=%d", ErrReservedFrameType, ft)
		}
		toc = append(toc, tocEntry{ft: ft, quality: q})
		if !follow {
			break
		}
	}

	frames := make([]Frame, 0, len(toc))
	for _, e := range toc {
		bits := FrameBits(e.ft)
		if r.remaining() < bits {
			return nil, fmt.Errorf("%w: frame ft=%d needs %d bits, %d left",
				ErrTruncated, e.ft, bits, r.remaining())
		}
		data := make([]byte, FrameBytes(e.ft))
		for i := 0; i < bits; i++ {
			bit, _ := r.readBits(1)
			if bit != 0 {
				data[i/8] |= 1 << (7 - i%8)
			}
		}
		frames = append(frames, Frame{Type: e.ft, Quality: e.quality, Data: data})
	}

	// Residual padding bits must all be zero; anything else means the bit
	// walk mis-parsed and the audio would be corrupt.
	for r.remaining() > 0 {
		bit, _ := r.readBits(1)
		if bit != 0 {
			return nil, ErrResidualBits
		}
	}
	return frames, nil
}
