// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
)

// WAVInfo describes a parsed WAV fmt chunk.
type WAVInfo struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// CreateWAV wraps PCM16 mono little-endian samples in a RIFF/WAVE container.
func CreateWAV(pcmData []byte, sampleRate int, channels int) []byte {
	var buf bytes.Buffer
	bps := sampleRate * channels * AudioBytesPerSample

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample*channels))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes()
}

// DecodeWAV parses a RIFF/WAVE container and returns the PCM payload plus the
// fmt chunk. It validates that the stream is PCM, mono, 16-bit, the only
// format the playback reference path accepts. Chunks other than "fmt " and
// "data" are skipped.
func DecodeWAV(data []byte) ([]byte, *WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, nil, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var info *WAVInfo
	var pcm []byte
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		if body+chunkLen > len(data) {
			chunkLen = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, nil, fmt.Errorf("fmt chunk too short: %d", chunkLen)
			}
			info = &WAVInfo{
				Format:        binary.LittleEndian.Uint16(data[body : body+2]),
				Channels:      binary.LittleEndian.Uint16(data[body+2 : body+4]),
				SampleRate:    binary.LittleEndian.Uint32(data[body+4 : body+8]),
				BitsPerSample: binary.LittleEndian.Uint16(data[body+14 : body+16]),
			}
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		offset = body + chunkLen
		if chunkLen%2 == 1 {
			offset++
		}
	}

	if info == nil {
		return nil, nil, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, nil, fmt.Errorf("missing data chunk")
	}
	if info.Format != AudioPCMFormat {
		return nil, nil, fmt.Errorf("unsupported WAV format tag %d, want PCM", info.Format)
	}
	if info.Channels != 1 {
		return nil, nil, fmt.Errorf("unsupported channel count %d, want mono", info.Channels)
	}
	if info.BitsPerSample != AudioBitsPerSample {
		return nil, nil, fmt.Errorf("unsupported bit depth %d, want 16", info.BitsPerSample)
	}
	return pcm, info, nil
}
