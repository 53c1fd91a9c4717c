// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mux

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/klauspost/compress/zstd"
)

// StreamWindow is the per-stream receive window in bytes; a stream is
// marked paused once its buffered-but-unread bytes reach this, and resumed
// once the backlog falls below half.
const StreamWindow = 256 * 1024

// PaddingPolicy controls probabilistic PADDING frame injection between
// DATA frames, per the negotiate feature flag.
type PaddingPolicy struct {
	Frequency float64 // probability per DATA frame write, [0,1]
	MinSize   int
	MaxSize   int
	rng       *rand.Rand
}

// NewPaddingPolicy builds a policy with a private PRNG so padding decisions
// don't perturb any other randomness source in the process.
func NewPaddingPolicy(frequency float64, minSize, maxSize int, seed int64) *PaddingPolicy {
	return &PaddingPolicy{Frequency: frequency, MinSize: minSize, MaxSize: maxSize, rng: rand.New(rand.NewSource(seed))}
}

func (p *PaddingPolicy) maybeFrame() (Frame, bool) {
	if p == nil || p.Frequency <= 0 {
		return Frame{}, false
	}
	if p.rng.Float64() >= p.Frequency {
		return Frame{}, false
	}
	size := p.MinSize
	if p.MaxSize > p.MinSize {
		size += p.rng.Intn(p.MaxSize - p.MinSize)
	}
	return Frame{Type: FramePadding, Payload: make([]byte, size)}, true
}

// Session owns one underlying transport shared by many logical streams. A
// client-side session allocates odd stream IDs; a server-side session
// allocates even ones, per the wire format's parity convention.
type Session struct {
	conn     io.ReadWriteCloser
	isClient bool
	nextID   atomic.Uint32
	padding  *PaddingPolicy

	mu      sync.Mutex
	streams map[uint32]*Stream
	writeMu sync.Mutex

	compression atomic.Bool
	zEncoder    *zstd.Encoder
	zDecoder    *zstd.Decoder

	closed atomic.Bool
}

// NewSession wraps conn as a mux session. isClient selects the stream ID
// parity this side allocates.
func NewSession(conn io.ReadWriteCloser, isClient bool, padding *PaddingPolicy) *Session {
	s := &Session{
		conn:     conn,
		isClient: isClient,
		streams:  make(map[uint32]*Stream),
		padding:  padding,
	}
	if isClient {
		s.nextID.Store(1)
	} else {
		s.nextID.Store(0)
	}
	return s
}

// Negotiate exchanges a NEGOTIATE frame with the peer announcing this
// session's padding support and whether it would like DATA frames
// compressed. Padding is a unilateral per-frame decision and needs no
// agreement, but compression changes the DATA payload itself, so it is
// only switched on once both ends asked for it. The local frame is
// written from a separate goroutine so the two sides' writes and reads
// can rendezvous in either order instead of both blocking on a write
// first.
func (s *Session) Negotiate(version uint8, wantCompression bool) (NegotiatePayload, error) {
	local := NegotiatePayload{Version: version}.WithPadding(s.padding != nil).WithCompression(wantCompression)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- s.writeFrame(Frame{Type: FrameNegotiate, Payload: local.Encode()})
	}()

	f, err := ReadFrame(s.conn)
	if err != nil {
		<-writeErr
		return NegotiatePayload{}, fmt.Errorf("mux: read negotiate reply: %w", err)
	}
	if err := <-writeErr; err != nil {
		return NegotiatePayload{}, err
	}
	if f.Type != FrameNegotiate {
		return NegotiatePayload{}, fmt.Errorf("mux: expected NEGOTIATE frame, got %s", f.Type)
	}
	peer, err := DecodeNegotiatePayload(f.Payload)
	if err != nil {
		return NegotiatePayload{}, err
	}

	if wantCompression && peer.CompressionEnabled() {
		if err := s.enableCompression(); err != nil {
			return NegotiatePayload{}, err
		}
	}
	return peer, nil
}

// enableCompression lazily builds the zstd encoder/decoder pair and
// switches on payload compression for subsequent DATA frames. Each frame
// is compressed independently (EncodeAll/DecodeAll) rather than through a
// shared streaming window, since one session's frames interleave payload
// from many unrelated streams.
func (s *Session) enableCompression() error {
	if s.zEncoder == nil {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return fmt.Errorf("mux: zstd encoder: %w", err)
		}
		s.zEncoder = enc
	}
	if s.zDecoder == nil {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return fmt.Errorf("mux: zstd decoder: %w", err)
		}
		s.zDecoder = dec
	}
	s.compression.Store(true)
	return nil
}

func (s *Session) allocID() uint32 {
	id := s.nextID.Add(2)
	return id - 2
}

// OpenStream allocates a new logical stream and sends its NEW frame.
func (s *Session) OpenStream() (*Stream, error) {
	if s.closed.Load() {
		return nil, fmt.Errorf("mux: session closed")
	}
	id := s.allocID()
	st := newStream(s, id)

	s.mu.Lock()
	s.streams[id] = st
	s.mu.Unlock()

	if err := s.writeFrame(Frame{Type: FrameNew, StreamID: id}); err != nil {
		s.mu.Lock()
		delete(s.streams, id)
		s.mu.Unlock()
		return nil, err
	}
	return st, nil
}

// Serve pumps incoming frames off the transport and routes them to their
// stream until the transport closes or ctx-independent read error occurs.
// A NEW frame arriving for an unknown ID spawns the matching peer-accepted
// stream, handed to acceptFn.
func (s *Session) Serve(acceptFn func(*Stream)) error {
	for {
		f, err := ReadFrame(s.conn)
		if err != nil {
			s.shutdown()
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("mux: read frame: %w", err)
		}
		switch f.Type {
		case FrameNew:
			st := newStream(s, f.StreamID)
			s.mu.Lock()
			s.streams[f.StreamID] = st
			s.mu.Unlock()
			if acceptFn != nil {
				acceptFn(st)
			}
		case FrameData:
			payload := f.Payload
			if s.compression.Load() {
				decoded, err := s.zDecoder.DecodeAll(f.Payload, nil)
				if err != nil {
					s.shutdown()
					return fmt.Errorf("mux: decompress frame: %w", err)
				}
				payload = decoded
			}
			s.mu.Lock()
			st, ok := s.streams[f.StreamID]
			s.mu.Unlock()
			if ok {
				st.deliver(payload)
			}
		case FrameClose:
			s.mu.Lock()
			st, ok := s.streams[f.StreamID]
			delete(s.streams, f.StreamID)
			s.mu.Unlock()
			if ok {
				st.closeLocal()
			}
		case FrameKeepalive, FramePadding, FrameNegotiate:
			// no stream-level effect; keepalive/padding are transport-level,
			// negotiate runs as its own exchange before Serve starts.
		}
	}
}

func (s *Session) writeFrame(f Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if f.Type == FrameData && s.compression.Load() {
		f.Payload = s.zEncoder.EncodeAll(f.Payload, make([]byte, 0, len(f.Payload)))
	}
	if err := WriteFrame(s.conn, f); err != nil {
		return err
	}
	if f.Type == FrameData {
		if pad, ok := s.padding.maybeFrame(); ok {
			return WriteFrame(s.conn, pad)
		}
	}
	return nil
}

func (s *Session) removeStream(id uint32) {
	s.mu.Lock()
	delete(s.streams, id)
	s.mu.Unlock()
}

func (s *Session) shutdown() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	streams := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		streams = append(streams, st)
	}
	s.streams = make(map[uint32]*Stream)
	s.mu.Unlock()
	for _, st := range streams {
		st.closeLocal()
	}
}

// Close shuts down every open stream and the underlying transport.
func (s *Session) Close() error {
	s.shutdown()
	if s.zEncoder != nil {
		s.zEncoder.Close()
	}
	if s.zDecoder != nil {
		s.zDecoder.Close()
	}
	return s.conn.Close()
}
