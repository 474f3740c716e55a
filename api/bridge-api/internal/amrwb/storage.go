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

// BEToStorage serialises frames into storage format: per frame one TOC octet
// (follow bit cleared, FT, Q, zero padding) followed by the frame data. No
// stream header is included; callers prepend StorageHeader exactly once per
// file or subprocess stream.
func BEToStorage(frames []Frame) []byte {
	size := 0
	for _, f := range frames {
		size += 1 + len(f.Data)
	}
	out := make([]byte, 0, size)
	for _, f := range frames {
		out = append(out, storageTOC(f.Type, f.Quality))
		out = append(out, f.Data...)
	}
	return out
}

// Transcode is the canonical inbound pipeline for carrier AMR-WB payloads:
// strip any RTP framing, parse bandwidth-efficient, emit storage frames.
// Octet-aligned parsing is attempted only when allowOctet is set AND the BE
// parse fails. A successful BE parse always wins, because octet parses of
// BE payloads can false-positive and produce corrupt audio.
func Transcode(payload []byte, hasCMR, allowOctet bool) ([]Frame, error) {
	stripped, _ := StripRTP(payload)

	frames, beErr := ParseBE(stripped, hasCMR)
	if beErr == nil {
		return frames, nil
	}
	if !allowOctet {
		return nil, fmt.Errorf("amrwb: be parse failed: %w", beErr)
	}
	frames, octErr := ParseOctetAligned(stripped, hasCMR)
	if octErr != nil {
		return nil, fmt.Errorf("amrwb: be parse failed (%v), octet fallback failed: %w", beErr, octErr)
	}
	return frames, nil
}

// ValidateStats reports what the storage validator dropped.
type ValidateStats struct {
	BadF      int
	BadFT     int
	BadLength int
}

// ParseStorage walks a storage-format byte stream (without header) back into
// frames, dropping invalid entries: follow bit set, reserved FT, or declared
// length past the end of the buffer. Dropped categories are counted.
func ParseStorage(data []byte) ([]Frame, ValidateStats) {
	var frames []Frame
	var stats ValidateStats
	offset := 0
	for offset < len(data) {
		toc := data[offset]
		offset++

		if toc&0x80 != 0 {
			stats.BadF++
			continue
		}
		ft := int(toc >> 3 & 0x0F)
		n := FrameBytes(ft)
		if n < 0 {
			stats.BadFT++
			continue
		}
		if offset+n > len(data) {
			stats.BadLength++
			break
		}
		frame := Frame{
			Type:    ft,
			Quality: toc&0x04 != 0,
			Data:    make([]byte, n),
		}
		copy(frame.Data, data[offset:offset+n])
		offset += n
		frames = append(frames, frame)
	}
	return frames, stats
}

// ErrNotStorageStream is returned by ParseStorageFile on a missing header.
var ErrNotStorageStream = errors.New("amrwb: missing storage header")

// ParseStorageFile parses a full storage stream including the #!AMR-WB
// header, as written by the debug tap.
func ParseStorageFile(data []byte) ([]Frame, ValidateStats, error) {
	if len(data) < len(StorageHeader) || string(data[:len(StorageHeader)]) != StorageHeader {
		return nil, ValidateStats{}, ErrNotStorageStream
	}
	frames, stats := ParseStorage(data[len(StorageHeader):])
	return frames, stats, nil
}
