// Copyright (c) 2023-2025 VoxBridge AI
// Author: Prashant Srivastav <prashant@voxbridge.ai>
//
// Licensed under GPL-2.0 with VoxBridge Additional Terms.
// See LICENSE.md or contact sales@voxbridge.ai for commercial usage.

package internal_amrwb

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/voxbridgeai/pkg/commons"
)

const (
	// firstReadTimeout covers codec warm-up on the first decode call.
	firstReadTimeout = 300 * time.Millisecond
	// steadyReadTimeout applies to every subsequent decode call.
	steadyReadTimeout = 200 * time.Millisecond

	// stdoutChunkSize bounds each read from the subprocess pipe.
	stdoutChunkSize = 4096
	// stdoutQueueDepth bounds buffered, not-yet-consumed decoder output.
	stdoutQueueDepth = 64
)

// ErrCarryover is surfaced in strict mode when the subprocess produced more
// PCM than the requested frame count.
var ErrCarryover = errors.New("amrwb: decoder produced carryover bytes")

// StreamDecoder drives a long-lived external decoder subprocess
// (ffmpeg-style) that consumes a storage-format AMR-WB stream on stdin and
// produces raw PCM16 mono 16 kHz on stdout. The process is spawned once per
// call session and reused for every decode; the storage header is written
// exactly once.
type StreamDecoder struct {
	mu     sync.Mutex
	logger commons.Logger

	binary string
	args   []string
	strict bool

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser

	headerWritten bool
	firstRead     bool
	closed        bool

	// outCh carries stdout chunks from the pump goroutine; pending holds
	// bytes received but not yet consumed by a decode call.
	outCh   chan []byte
	pending []byte
}

// StreamDecoderOption configures a StreamDecoder.
type StreamDecoderOption func(*StreamDecoder)

// WithStrictCarryover makes surplus decoder output an error instead of being
// drained silently.
func WithStrictCarryover() StreamDecoderOption {
	return func(d *StreamDecoder) { d.strict = true }
}

// WithDecoderBinary overrides the decoder executable and its arguments
// (default "ffmpeg" with a storage-stream → s16le pipeline).
func WithDecoderBinary(path string, args ...string) StreamDecoderOption {
	return func(d *StreamDecoder) {
		d.binary = path
		d.args = args
	}
}

// NewStreamDecoder creates a decoder; the subprocess is spawned lazily on the
// first decode so that a call that never receives AMR-WB media costs nothing.
func NewStreamDecoder(logger commons.Logger, opts ...StreamDecoderOption) *StreamDecoder {
	d := &StreamDecoder{
		logger: logger,
		binary: "ffmpeg",
		args: []string{
			"-hide_banner", "-loglevel", "error",
			"-i", "pipe:0",
			"-f", "s16le", "-ar", "16000", "-ac", "1",
			"pipe:1",
		},
		firstRead: true,
		outCh:     make(chan []byte, stdoutQueueDepth),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *StreamDecoder) spawn() error {
	cmd := exec.Command(d.binary, d.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("amrwb: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("amrwb: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("amrwb: failed to start decoder %s: %w", d.binary, err)
	}

	d.cmd = cmd
	d.stdin = stdin
	d.stdout = stdout
	go d.pumpStdout(stdout)
	return nil
}

// pumpStdout moves decoder output into outCh. The channel is bounded; when
// the consumer stalls the pump blocks, which backpressures the subprocess via
// its pipe.
func (d *StreamDecoder) pumpStdout(r io.Reader) {
	for {
		buf := make([]byte, stdoutChunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			d.outCh <- buf[:n]
		}
		if err != nil {
			close(d.outCh)
			return
		}
	}
}

// DecodeFrames writes the storage bytes for frameCount frames and reads back
// exactly frameCount × 320 samples of PCM16. Short reads within the deadline
// are padded with silence. Surplus bytes after a full read are either drained
// (default) or reported as ErrCarryover (strict mode).
func (d *StreamDecoder) DecodeFrames(storage []byte, frameCount int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, errors.New("amrwb: decoder closed")
	}
	if d.cmd == nil {
		if err := d.spawn(); err != nil {
			return nil, err
		}
	}

	if !d.headerWritten {
		if _, err := d.stdin.Write([]byte(StorageHeader)); err != nil {
			return nil, fmt.Errorf("amrwb: header write failed: %w", err)
		}
		d.headerWritten = true
	}
	if _, err := d.stdin.Write(storage); err != nil {
		return nil, fmt.Errorf("amrwb: frame write failed: %w", err)
	}

	want := frameCount * SamplesPerFrame * 2
	timeout := steadyReadTimeout
	if d.firstRead {
		timeout = firstReadTimeout
		d.firstRead = false
	}

	pcm, err := d.readExact(want, timeout)
	if err != nil {
		return nil, err
	}

	// Surplus after a full read means the subprocess is running ahead of our
	// frame accounting.
	if len(d.pending) > 0 {
		if d.strict {
			carry := len(d.pending)
			d.pending = nil
			return nil, fmt.Errorf("%w: %d bytes", ErrCarryover, carry)
		}
		d.logger.Debugw("amrwb decoder drained carryover", "bytes", len(d.pending))
		d.pending = nil
	}
	return pcm, nil
}

// readExact collects up to want bytes within the deadline. On timeout the
// partial result is zero-padded to the requested length (treated as silence),
// matching the tolerance for codec latency on sparse streams.
func (d *StreamDecoder) readExact(want int, timeout time.Duration) ([]byte, error) {
	out := make([]byte, 0, want)
	if len(d.pending) > 0 {
		take := len(d.pending)
		if take > want {
			take = want
		}
		out = append(out, d.pending[:take]...)
		d.pending = d.pending[take:]
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for len(out) < want {
		select {
		case chunk, ok := <-d.outCh:
			if !ok {
				return nil, errors.New("amrwb: decoder subprocess exited")
			}
			need := want - len(out)
			if len(chunk) > need {
				out = append(out, chunk[:need]...)
				d.pending = append(d.pending, chunk[need:]...)
			} else {
				out = append(out, chunk...)
			}
		case <-deadline.C:
			// Short read: pad with silence rather than stalling the call.
			pad := make([]byte, want-len(out))
			return append(out, pad...), nil
		}
	}
	return out, nil
}

// Close terminates the subprocess. Safe to call multiple times.
func (d *StreamDecoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if d.cmd == nil {
		return nil
	}
	d.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()
	select {
	case <-done:
	case <-time.After(time.Second):
		d.cmd.Process.Kill()
		<-done
	}
	d.cmd = nil
	return nil
}
