// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_codec turns carrier payloads into PCM16 mono at the
// configured target sample rate. Decoders are per-call and stateful where
// the codec demands it (G.722 band state, Opus decoder state, the AMR-WB
// frame buffer and subprocess).
package internal_codec

import (
	"errors"
	"fmt"
	"strings"
)

// Name identifies a supported codec.
type Name string

const (
	CodecPCMU  Name = "PCMU"
	CodecPCMA  Name = "PCMA"
	CodecG722  Name = "G722"
	CodecOpus  Name = "OPUS"
	CodecAMRWB Name = "AMR-WB"
	CodecL16   Name = "L16"
)

// Normalize maps carrier encoding strings onto codec names.
func Normalize(encoding string) (Name, bool) {
	switch strings.ToUpper(strings.TrimSpace(encoding)) {
	case "PCMU", "MULAW", "ULAW", "G711U":
		return CodecPCMU, true
	case "PCMA", "ALAW", "G711A":
		return CodecPCMA, true
	case "G722":
		return CodecG722, true
	case "OPUS":
		return CodecOpus, true
	case "AMR-WB", "AMRWB":
		return CodecAMRWB, true
	case "L16", "PCM", "LINEAR16":
		return CodecL16, true
	default:
		return "", false
	}
}

// Hints carries per-payload decode context from the ingest layer.
type Hints struct {
	// SourceRateHz is the carrier-declared input rate (8000 for G.711).
	SourceRateHz int
	// ForceBE pins AMR-WB parsing to bandwidth-efficient.
	ForceBE bool
	// HasCMR marks payloads carrying a change-mode-request nibble.
	HasCMR bool
}

// Result is one decode emission.
type Result struct {
	PCM16         []byte
	SampleRateHz  int
	DecodedFrames int
	// SpeechSamples counts samples attributable to speech frames; used for
	// timing metrics on AMR-WB where SID/no-data frames pad the stream.
	SpeechSamples int
}

// ErrBuffering signals the decoder is accumulating input and has nothing to
// emit yet. Not a failure.
var ErrBuffering = errors.New("codec: buffering")

// FailureKind classifies decoder errors for health accounting.
type FailureKind int

const (
	// DecodeFailed covers malformed payloads and subprocess errors; counted,
	// the stream continues.
	DecodeFailed FailureKind = iota
	// FormatRejected covers payloads that can never decode under the active
	// policy (e.g. octet-aligned AMR-WB under forced-BE); the codec may be
	// disabled for the call.
	FormatRejected
)

// DecodeError wraps a classified decoder failure.
type DecodeError struct {
	Kind FailureKind
	Err  error
}

func (e *DecodeError) Error() string {
	switch e.Kind {
	case FormatRejected:
		return fmt.Sprintf("codec: format_rejected: %v", e.Err)
	default:
		return fmt.Sprintf("codec: decode_failed: %v", e.Err)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

func failed(err error) error   { return &DecodeError{Kind: DecodeFailed, Err: err} }
func rejected(err error) error { return &DecodeError{Kind: FormatRejected, Err: err} }

// Decoder converts raw payload bytes into PCM16. Implementations return
// (nil, ErrBuffering) while accumulating and a *DecodeError on failure.
type Decoder interface {
	Name() Name
	Decode(payload []byte, hints Hints) (*Result, error)
	// Flush drains any buffered input (AMR-WB); returns nil when empty.
	Flush() (*Result, error)
	Close() error
}

// noopFlush is embedded by stateless decoders.
type noopFlush struct{}

func (noopFlush) Flush() (*Result, error) { return nil, nil }
func (noopFlush) Close() error            { return nil }
