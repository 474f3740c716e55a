// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_ingest

import (
	"github.com/voxbridgeai/pkg/utils"
)

const (
	minEmitMs     = 80
	maxEmitMs     = 200
	defaultEmitMs = 100
)

// chunker re-slices a decoded PCM16 stream into fixed-size chunks of emitMs
// at the current sample rate. The residue carries over between packets and
// is flushed whenever the sample rate changes.
type chunker struct {
	emitMs  int
	rateHz  int
	residue []byte
}

func newChunker(emitMs int) *chunker {
	if emitMs <= 0 {
		emitMs = defaultEmitMs
	}
	return &chunker{emitMs: utils.Clamp(emitMs, minEmitMs, maxEmitMs)}
}

func (c *chunker) chunkBytes(rateHz int) int {
	return rateHz * c.emitMs / 1000 * 2
}

// push appends decoded PCM and returns any complete chunks. A sample-rate
// change flushes the old-rate residue first so rates never mix in one chunk.
func (c *chunker) push(pcm []byte, rateHz int) (chunks [][]byte, flushed []byte) {
	if rateHz != c.rateHz {
		if len(c.residue) > 0 {
			flushed = c.residue
			c.residue = nil
		}
		c.rateHz = rateHz
	}

	c.residue = append(c.residue, pcm...)
	size := c.chunkBytes(rateHz)
	for len(c.residue) >= size {
		chunk := make([]byte, size)
		copy(chunk, c.residue[:size])
		c.residue = c.residue[size:]
		chunks = append(chunks, chunk)
	}
	return chunks, flushed
}

// flush returns and clears the residue.
func (c *chunker) flush() []byte {
	out := c.residue
	c.residue = nil
	return out
}
