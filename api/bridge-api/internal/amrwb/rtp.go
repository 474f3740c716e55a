// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_amrwb

import "encoding/binary"

// StripRTP removes a version-2 RTP header (including CSRC list, extension
// header, and trailing padding) from buf and returns the payload. It fails
// soft: on any inconsistency the original buffer is returned with
// stripped=false, so a raw codec payload is never corrupted by a bogus strip.
func StripRTP(buf []byte) (payload []byte, stripped bool) {
	const fixedHeader = 12
	if len(buf) < fixedHeader {
		return buf, false
	}

	b0 := buf[0]
	version := b0 >> 6
	if version != 2 {
		return buf, false
	}
	padding := b0&0x20 != 0
	extension := b0&0x10 != 0
	csrcCount := int(b0 & 0x0F)

	offset := fixedHeader + csrcCount*4
	if offset > len(buf) {
		return buf, false
	}

	if extension {
		if offset+4 > len(buf) {
			return buf, false
		}
		extLen := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		offset += 4 + extLen*4
		if offset > len(buf) {
			return buf, false
		}
	}

	end := len(buf)
	if padding {
		padLen := int(buf[end-1])
		if padLen == 0 || offset+padLen > end {
			return buf, false
		}
		end -= padLen
	}

	if offset >= end {
		return buf, false
	}
	return buf[offset:end], true
}
