// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_audio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/voxbridgeai/pkg/commons"
)

// Store persists synthesized WAV segments where the carrier can fetch them by
// URL. The carrier "play audio" action takes a public URL, so every TTS
// segment is written to disk before playback starts.
type Store interface {
	// StoreWAV writes the segment and returns the public URL the carrier
	// should GET.
	StoreWAV(callID, turnID string, wav []byte) (string, error)

	// Path resolves a previously stored segment to its on-disk path.
	// Returns false when the name escapes the storage dir or does not exist.
	Path(name string) (string, bool)
}

type diskStore struct {
	logger        commons.Logger
	dir           string
	publicBaseURL string
}

// NewDiskStore creates a WAV store rooted at dir, serving URLs under
// publicBaseURL (e.g. "https://bridge.example.com/audio").
func NewDiskStore(logger commons.Logger, dir, publicBaseURL string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audio storage dir %s: %w", dir, err)
	}
	return &diskStore{
		logger:        logger,
		dir:           dir,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *diskStore) StoreWAV(callID, turnID string, wav []byte) (string, error) {
	name := fmt.Sprintf("%s_%s.wav", sanitize(callID), sanitize(turnID))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("failed to store wav %s: %w", name, err)
	}
	url := fmt.Sprintf("%s/%s", s.publicBaseURL, name)
	s.logger.Debugw("stored playback segment", "call", callID, "turn", turnID, "bytes", len(wav), "url", url)
	return url, nil
}

func (s *diskStore) Path(name string) (string, bool) {
	clean := filepath.Base(name)
	if clean != name || clean == "." || clean == ".." {
		return "", false
	}
	path := filepath.Join(s.dir, clean)
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
