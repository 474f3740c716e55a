// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_amrwb normalises AMR-WB payloads from the carrier into the
// canonical storage-frame byte stream (RFC 4867 file storage format) that the
// decoder subprocess consumes. Two wire layouts are handled: bandwidth-
// efficient (bit-packed) and octet-aligned. The PSTN carrier delivers
// bandwidth-efficient payloads only; octet parsing exists solely behind an
// explicit fallback flag.
package internal_amrwb

const (
	// FrameTypeSID is the comfort-noise descriptor frame.
	FrameTypeSID = 9
	// FrameTypeSpeechLost and FrameTypeNoData carry no payload.
	FrameTypeSpeechLost = 14
	FrameTypeNoData     = 15

	// StorageHeader is the one-time magic written before storage frames.
	StorageHeader = "#!AMR-WB\n"

	// SamplesPerFrame is the PCM16 sample count produced per 20 ms frame at
	// 16 kHz.
	SamplesPerFrame = 320
)

// speechBits maps frame type → class A+B+C speech bits for AMR-WB modes
// 6.60 through 23.85, SID, and the empty frame types. Reserved types 10-13
// are -1.
var speechBits = [16]int{
	132,            // 0: 6.60
	177,            // 1: 8.85
	253,            // 2: 12.65
	285,            // 3: 14.25
	317,            // 4: 15.85
	365,            // 5: 18.25
	397,            // 6: 19.85
	461,            // 7: 23.05
	477,            // 8: 23.85
	40,             // 9: SID
	-1, -1, -1, -1, // 10-13: reserved
	0, // 14: SPEECH_LOST
	0, // 15: NO_DATA
}

// Frame is one depacketized AMR-WB frame in storage form.
type Frame struct {
	// Type is the 4-bit frame type (FT).
	Type int
	// Quality is the Q bit: true when the frame is undamaged.
	Quality bool
	// Data holds exactly FrameBytes(Type) payload bytes.
	Data []byte
}

// IsSpeech reports whether the frame carries voice payload (not SID or empty).
func (f Frame) IsSpeech() bool {
	return f.Type <= 8
}

// FrameBits returns the bit-packed payload length for a frame type, or -1 for
// reserved types.
func FrameBits(ft int) int {
	if ft < 0 || ft > 15 {
		return -1
	}
	return speechBits[ft]
}

// FrameBytes returns the octet-aligned/storage payload length for a frame
// type, or -1 for reserved types.
func FrameBytes(ft int) int {
	bits := FrameBits(ft)
	if bits < 0 {
		return -1
	}
	return (bits + 7) / 8
}

// storageTOC builds the storage-format frame header octet: follow bit
// cleared, FT in bits 6-3, Q in bit 2, padding zero.
func storageTOC(ft int, quality bool) byte {
	toc := byte(ft&0x0F) << 3
	if quality {
		toc |= 1 << 2
	}
	return toc
}
