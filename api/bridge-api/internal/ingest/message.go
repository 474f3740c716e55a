// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

// Package internal_ingest turns raw carrier frames into validated PCM16
// chunks delivered through a single callback. It owns the per-call media
// state: adopted stream id, sequence gate, re-chunk residue, echo-guard
// deadline and the health window.
package internal_ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ============================================================================
// Carrier frame model
// ============================================================================

// Event discriminates carrier WebSocket frames.
type Event string

const (
	EventConnected Event = "connected"
	EventStart     Event = "start"
	EventMedia     Event = "media"
	EventStop      Event = "stop"
)

// MediaFormat is the negotiated input format announced on the start event.
type MediaFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// CarrierFrame is one parsed WebSocket frame with its fields normalised.
// Payload extraction stays string-keyed (see pickPayload) because carriers
// move the base64 between several locations across firmware versions.
type CarrierFrame struct {
	Event    Event
	StreamID string
	Sequence int64
	Track    string
	Format   *MediaFormat

	// Payload is the winning base64-decoded media candidate; nil for
	// non-media events or when no candidate qualified.
	Payload []byte
	// PayloadTiny marks a media frame whose best candidate failed the
	// minimum-length gate.
	PayloadTiny bool
}

type frameEnvelope struct {
	Event          string          `json:"event"`
	StreamID       string          `json:"stream_id"`
	SequenceNumber json.RawMessage `json:"sequence_number"`
	Start          *struct {
		MediaFormat *MediaFormat `json:"media_format"`
	} `json:"start"`
	Media *struct {
		Track string `json:"track"`
	} `json:"media"`
}

// ParseCarrierFrame decodes one carrier WebSocket frame. minPayload is the
// decoded-length gate for the media payload (6 for AMR-WB, 10 otherwise).
func ParseCarrierFrame(raw []byte, minPayload int) (*CarrierFrame, error) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("ingest: malformed carrier frame: %w", err)
	}

	frame := &CarrierFrame{
		Event:    Event(strings.ToLower(env.Event)),
		StreamID: env.StreamID,
		Sequence: parseSequence(env.SequenceNumber),
	}

	switch frame.Event {
	case EventConnected, EventStop:
		return frame, nil
	case EventStart:
		if env.Start != nil {
			frame.Format = env.Start.MediaFormat
		}
		return frame, nil
	case EventMedia:
		if env.Media != nil {
			frame.Track = strings.ToLower(env.Media.Track)
		}
		var outer map[string]any
		if err := json.Unmarshal(raw, &outer); err != nil {
			return nil, fmt.Errorf("ingest: malformed media frame: %w", err)
		}
		payload, tiny := pickPayload(outer, minPayload)
		frame.Payload = payload
		frame.PayloadTiny = tiny
		return frame, nil
	default:
		return nil, fmt.Errorf("ingest: unknown carrier event %q", env.Event)
	}
}

// parseSequence tolerates both string and numeric sequence_number fields.
func parseSequence(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return -1
	}
	var asNum int64
	if err := json.Unmarshal(raw, &asNum); err == nil {
		return asNum
	}
	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		if n, err := strconv.ParseInt(asStr, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

// ============================================================================
// Payload candidate selection
// ============================================================================

// candidateLocations lists where carriers have been observed to put the
// base64 media payload, in preference order.
func candidateStrings(outer map[string]any) []string {
	var out []string
	if media, ok := outer["media"].(map[string]any); ok {
		if s, ok := media["payload"].(string); ok {
			out = append(out, s)
		}
		if data, ok := media["data"].(map[string]any); ok {
			if s, ok := data["payload"].(string); ok {
				out = append(out, s)
			}
		}
		if s, ok := media["data"].(string); ok {
			out = append(out, s)
		}
	}
	if s, ok := outer["payload"].(string); ok {
		out = append(out, s)
	}
	return out
}

// pickPayload scores each candidate by (looks-base64, decoded-length,
// string-length) and returns the winner's decoded bytes. A winner below
// minLen is reported as tiny rather than returned.
func pickPayload(outer map[string]any, minLen int) ([]byte, bool) {
	type scored struct {
		decoded  []byte
		looksB64 bool
		strLen   int
	}
	var best *scored
	better := func(a, b *scored) bool {
		if a.looksB64 != b.looksB64 {
			return a.looksB64
		}
		if len(a.decoded) != len(b.decoded) {
			return len(a.decoded) > len(b.decoded)
		}
		return a.strLen > b.strLen
	}

	for _, s := range candidateStrings(outer) {
		if s == "" {
			continue
		}
		decoded, ok := decodeBase64(s)
		cand := &scored{decoded: decoded, looksB64: ok, strLen: len(s)}
		if best == nil || better(cand, best) {
			best = cand
		}
	}

	if best == nil || !best.looksB64 {
		return nil, false
	}
	if len(best.decoded) < minLen {
		return nil, true
	}
	return best.decoded, false
}

func decodeBase64(s string) ([]byte, bool) {
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	if decoded, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	return nil, false
}
