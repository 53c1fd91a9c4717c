// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mux

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Stream is one logical multiplexed connection within a Session. It
// implements io.ReadWriteCloser so it drops into relay.Run unmodified.
type Stream struct {
	session  *Session
	id       uint32

	mu       sync.Mutex
	cond     *sync.Cond
	buf      bytes.Buffer
	paused   bool
	localEOF bool
	peerEOF  bool
	closed   bool
}

func newStream(s *Session, id uint32) *Stream {
	st := &Stream{session: s, id: id}
	st.cond = sync.NewCond(&st.mu)
	return st
}

// ID returns the stream's wire identifier.
func (s *Stream) ID() uint32 { return s.id }

// deliver appends incoming DATA payload to the read buffer, applying
// backpressure once the buffered backlog reaches the stream window.
func (s *Stream) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.buf.Write(payload)
	if s.buf.Len() >= StreamWindow {
		s.paused = true
	}
	s.cond.Broadcast()
}

// Read blocks until data is available, the stream closes, or the peer
// signals EOF with an empty final buffer.
func (s *Stream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.buf.Len() == 0 {
		if s.closed || s.peerEOF {
			return 0, io.EOF
		}
		s.cond.Wait()
	}
	n, _ := s.buf.Read(p)
	if s.paused && s.buf.Len() < StreamWindow/2 {
		s.paused = false
	}
	return n, nil
}

// Write chunks p into ≤MaxDataPayload DATA frames.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed || s.localEOF {
		s.mu.Unlock()
		return 0, fmt.Errorf("mux: write to closed stream %d", s.id)
	}
	s.mu.Unlock()

	total := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > MaxDataPayload {
			chunk = p[:MaxDataPayload]
		}
		if err := s.session.writeFrame(Frame{Type: FrameData, StreamID: s.id, Payload: chunk}); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}

// closeLocal marks the stream torn down locally (peer sent CLOSE, or the
// session is shutting down) and wakes any blocked Read.
func (s *Stream) closeLocal() {
	s.mu.Lock()
	s.closed = true
	s.peerEOF = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Close sends a CLOSE frame and tears the stream down locally.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.localEOF = true
	s.mu.Unlock()
	s.cond.Broadcast()

	s.session.removeStream(s.id)
	return s.session.writeFrame(Frame{Type: FrameClose, StreamID: s.id})
}

// Paused reports whether the stream is paused, for tests and diagnostics:
// it is set once the receive backlog reaches the window and cleared once a
// Read drains the backlog below half the window.
func (s *Stream) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}
