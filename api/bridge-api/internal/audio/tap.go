// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_audio

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/voxbridgeai/pkg/commons"
)

const (
	// tapRecentWindow is how many recent frame hashes each output path keeps
	// for replayed-frame suppression.
	tapRecentWindow = 32

	// tapMaxPaths bounds the process-wide path registry; oldest entries are
	// evicted FIFO once the bound is reached.
	tapMaxPaths = 256
)

// Tap is a process-wide debug appender for per-call artifact files. Each
// output path gets a serialized write queue (appends never interleave), a
// one-time header, and a sliding window of recent-frame content hashes used
// to suppress replayed frames. Adjacent identical frames are also dropped.
//
// All writes are best-effort: a tap failure never affects the call path.
type Tap struct {
	mu     sync.Mutex
	logger commons.Logger
	paths  map[string]*tapEntry
	order  []string
}

type tapEntry struct {
	mu         sync.Mutex
	headerDone bool
	recent     []string
	lastHash   string
}

var (
	globalTap     *Tap
	globalTapOnce sync.Once
)

// InitTap initialises the process-wide tap. Called once at startup.
func InitTap(logger commons.Logger) *Tap {
	globalTapOnce.Do(func() {
		globalTap = &Tap{
			logger: logger,
			paths:  make(map[string]*tapEntry),
		}
	})
	return globalTap
}

// GlobalTap returns the process-wide tap, or nil before InitTap.
func GlobalTap() *Tap {
	return globalTap
}

// ShutdownTap drops all path state. Called on process shutdown.
func ShutdownTap() {
	if globalTap == nil {
		return
	}
	globalTap.mu.Lock()
	globalTap.paths = make(map[string]*tapEntry)
	globalTap.order = nil
	globalTap.mu.Unlock()
}

func (t *Tap) entry(path string) *tapEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.paths[path]
	if !ok {
		if len(t.order) >= tapMaxPaths {
			oldest := t.order[0]
			t.order = t.order[1:]
			delete(t.paths, oldest)
		}
		e = &tapEntry{}
		t.paths[path] = e
		t.order = append(t.order, path)
	}
	return e
}

// AppendFrame appends one frame to path, writing header once before the first
// frame. Returns false when the frame was suppressed as a duplicate.
func (t *Tap) AppendFrame(path string, header, frame []byte) bool {
	e := t.entry(path)
	e.mu.Lock()
	defer e.mu.Unlock()

	sum := sha256.Sum256(frame)
	h := hex.EncodeToString(sum[:8])

	// Adjacent duplicate (lag-1).
	if h == e.lastHash {
		return false
	}
	// Replayed frame within the recent window.
	for _, r := range e.recent {
		if r == h {
			return false
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.logger.Debugw("tap mkdir failed", "path", path, "error", err)
		return false
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.logger.Debugw("tap open failed", "path", path, "error", err)
		return false
	}
	defer f.Close()

	if !e.headerDone && len(header) > 0 {
		if st, err := f.Stat(); err == nil && st.Size() == 0 {
			if _, err := f.Write(header); err != nil {
				return false
			}
		}
		e.headerDone = true
	}
	if _, err := f.Write(frame); err != nil {
		t.logger.Debugw("tap write failed", "path", path, "error", err)
		return false
	}

	e.lastHash = h
	e.recent = append(e.recent, h)
	if len(e.recent) > tapRecentWindow {
		e.recent = e.recent[1:]
	}
	return true
}
