// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_codec

import (
	"fmt"

	internal_audio "github.com/voxbridgeai/api/bridge-api/internal/audio"
)

// g722Decoder is a 64 kbit/s G.722 decoder: per-byte sub-band ADPCM inverse
// quantisation followed by QMF synthesis to 16 kHz. All predictor and scale
// state survives across packets; resetting mid-call causes audible warble.
type g722Decoder struct {
	noopFlush
	low  g722Band
	high g722Band
	qmf  [24]int
}

type g722Band struct {
	s, sp, sz int
	r, a, ap  [3]int
	p         [3]int
	d, b, bp  [7]int
	sg        [7]int
	nb, det   int
}

var (
	g722WL   = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
	g722RL42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 7, 6, 5, 4, 3, 2, 1, 0}
	g722ILB  = [32]int{
		2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
		2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
		2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
		3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
	}
	g722WH  = [3]int{0, -214, 798}
	g722RH2 = [4]int{2, 1, 2, 1}
	g722QM2 = [4]int{-7408, -1616, 7408, 1616}
	g722QM4 = [16]int{
		0, -20456, -12896, -8968, -6288, -4240, -2584, -1200,
		20456, 12896, 8968, 6288, 4240, 2584, 1200, 0,
	}
	g722QM6 = [64]int{
		-136, -136, -136, -136, -24808, -21904, -19008, -16704,
		-14984, -13512, -12280, -11192, -10232, -9360, -8576, -7856,
		-7192, -6576, -6000, -5456, -4944, -4464, -4008, -3576,
		-3168, -2776, -2400, -2032, -1688, -1360, -1040, -728,
		24808, 21904, 19008, 16704, 14984, 13512, 12280, 11192,
		10232, 9360, 8576, 7856, 7192, 6576, 6000, 5456,
		4944, 4464, 4008, 3576, 3168, 2776, 2400, 2032,
		1688, 1360, 1040, 728, 432, 136, -432, -136,
	}
	g722QMFCoeffs = [12]int{3, -11, 12, 32, -210, 951, 3876, -805, 362, -156, 53, -11}
)

// NewG722Decoder creates a fresh decoder with reference initial scale factors.
func NewG722Decoder() Decoder {
	d := &g722Decoder{}
	d.low.det = 32
	d.high.det = 8
	return d
}

func (d *g722Decoder) Name() Name { return CodecG722 }

func saturate16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

func (d *g722Decoder) Decode(payload []byte, hints Hints) (*Result, error) {
	if len(payload) == 0 {
		return nil, failed(fmt.Errorf("empty payload"))
	}

	samples := make([]int16, 0, len(payload)*2)
	for _, code := range payload {
		lowBits := int(code & 0x3F)
		highBits := int(code >> 6 & 0x03)

		// Low band: 6-bit inverse quantisation and scale adaptation.
		wd2 := (d.low.det * g722QM6[lowBits]) >> 15
		rlow := d.low.s + wd2
		if rlow > 16383 {
			rlow = 16383
		} else if rlow < -16384 {
			rlow = -16384
		}

		adaptBits := lowBits >> 2
		dlowt := (d.low.det * g722QM4[adaptBits]) >> 15

		wd2 = g722RL42[adaptBits]
		wd1 := (d.low.nb * 127) >> 7
		wd1 += g722WL[wd2]
		if wd1 < 0 {
			wd1 = 0
		} else if wd1 > 18432 {
			wd1 = 18432
		}
		d.low.nb = wd1

		wd1 = (d.low.nb >> 6) & 31
		shift := 8 - (d.low.nb >> 11)
		if shift < 0 {
			d.low.det = (g722ILB[wd1] << -shift) << 2
		} else {
			d.low.det = (g722ILB[wd1] >> shift) << 2
		}
		d.low.block4(dlowt)

		// High band: 2-bit inverse quantisation.
		dhigh := (d.high.det * g722QM2[highBits]) >> 15
		rhigh := dhigh + d.high.s
		if rhigh > 16383 {
			rhigh = 16383
		} else if rhigh < -16384 {
			rhigh = -16384
		}

		wd2 = g722RH2[highBits]
		wd1 = (d.high.nb * 127) >> 7
		wd1 += g722WH[wd2]
		if wd1 < 0 {
			wd1 = 0
		} else if wd1 > 22528 {
			wd1 = 22528
		}
		d.high.nb = wd1

		wd1 = (d.high.nb >> 6) & 31
		shift = 10 - (d.high.nb >> 11)
		if shift < 0 {
			d.high.det = (g722ILB[wd1] << -shift) << 2
		} else {
			d.high.det = (g722ILB[wd1] >> shift) << 2
		}
		d.high.block4(dhigh)

		// QMF synthesis: two 16 kHz output samples per code byte.
		copy(d.qmf[:22], d.qmf[2:])
		d.qmf[22] = rlow + rhigh
		d.qmf[23] = rlow - rhigh
		xout1, xout2 := 0, 0
		for i := 0; i < 12; i++ {
			xout2 += d.qmf[2*i] * g722QMFCoeffs[i]
			xout1 += d.qmf[2*i+1] * g722QMFCoeffs[11-i]
		}
		samples = append(samples,
			int16(saturate16(xout1>>11)),
			int16(saturate16(xout2>>11)))
	}

	return &Result{
		PCM16:         internal_audio.Int16ToBytes(samples),
		SampleRateHz:  16000,
		DecodedFrames: 1,
		SpeechSamples: len(samples),
	}, nil
}

// block4 is the shared predictor update (RECONS/UPPOL/UPZERO/DELAY/FILTE).
func (b *g722Band) block4(dv int) {
	b.d[0] = dv
	b.r[0] = saturate16(b.s + dv)
	b.p[0] = saturate16(b.sz + dv)

	// UPPOL2
	for i := 0; i < 3; i++ {
		b.sg[i] = b.p[i] >> 15
	}
	wd1 := saturate16(b.a[1] << 2)
	wd2 := wd1
	if b.sg[0] == b.sg[1] {
		wd2 = -wd1
	}
	if wd2 > 32767 {
		wd2 = 32767
	}
	wd3 := -128
	if b.sg[0] == b.sg[2] {
		wd3 = 128
	}
	wd3 += wd2 >> 7
	wd3 += (b.a[2] * 32512) >> 15
	if wd3 > 12288 {
		wd3 = 12288
	} else if wd3 < -12288 {
		wd3 = -12288
	}
	b.ap[2] = wd3

	// UPPOL1
	b.sg[0] = b.p[0] >> 15
	b.sg[1] = b.p[1] >> 15
	wd1 = -192
	if b.sg[0] == b.sg[1] {
		wd1 = 192
	}
	wd2 = (b.a[1] * 32640) >> 15
	b.ap[1] = saturate16(wd1 + wd2)
	wd3 = saturate16(15360 - b.ap[2])
	if b.ap[1] > wd3 {
		b.ap[1] = wd3
	} else if b.ap[1] < -wd3 {
		b.ap[1] = -wd3
	}

	// UPZERO
	wd1 = 0
	if dv != 0 {
		wd1 = 128
	}
	b.sg[0] = dv >> 15
	for i := 1; i < 7; i++ {
		b.sg[i] = b.d[i] >> 15
		wd2 = -wd1
		if b.sg[i] == b.sg[0] {
			wd2 = wd1
		}
		wd3 = (b.b[i] * 32640) >> 15
		b.bp[i] = saturate16(wd2 + wd3)
	}

	// DELAYA
	for i := 6; i > 0; i-- {
		b.d[i] = b.d[i-1]
		b.b[i] = b.bp[i]
	}
	for i := 2; i > 0; i-- {
		b.r[i] = b.r[i-1]
		b.p[i] = b.p[i-1]
		b.a[i] = b.ap[i]
	}

	// FILTEP
	wd1 = saturate16(b.r[1] + b.r[1])
	wd1 = (b.a[1] * wd1) >> 15
	wd2 = saturate16(b.r[2] + b.r[2])
	wd2 = (b.a[2] * wd2) >> 15
	b.sp = saturate16(wd1 + wd2)

	// FILTEZ
	b.sz = 0
	for i := 6; i > 0; i-- {
		wd1 = saturate16(b.d[i] + b.d[i])
		b.sz += (b.b[i] * wd1) >> 15
	}
	b.sz = saturate16(b.sz)

	// PREDIC
	b.s = saturate16(b.sp + b.sz)
}
