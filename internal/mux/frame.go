// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package mux implements a sing-mux–compatible stream multiplexer over a
// single underlying transport: one connection carries many logical
// streams, each framed as type(1) + stream_id(4) + length(2) + payload.
// Grounded on the teacher's frame-oriented wire codec idiom in
// internal/ebpf/socket/query_logger.go (fixed-header-plus-payload parsing
// with a length-prefixed read loop), generalized to a full duplex stream
// multiplexer.
package mux

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FrameType identifies a mux frame's purpose.
type FrameType uint8

const (
	FrameNew FrameType = iota
	FrameData
	FrameClose
	FrameKeepalive
	FramePadding
	FrameNegotiate
)

func (t FrameType) String() string {
	switch t {
	case FrameNew:
		return "NEW"
	case FrameData:
		return "DATA"
	case FrameClose:
		return "CLOSE"
	case FrameKeepalive:
		return "KEEPALIVE"
	case FramePadding:
		return "PADDING"
	case FrameNegotiate:
		return "NEGOTIATE"
	default:
		return "UNKNOWN"
	}
}

// MaxDataPayload bounds a single DATA frame's payload; writers chunk larger
// buffers into several frames.
const MaxDataPayload = 16 * 1024

// maxFrameLength is the wire-format ceiling (length is a uint16).
const maxFrameLength = 1<<16 - 1

// headerSize is type(1) + stream_id(4) + length(2).
const headerSize = 7

// Frame is one decoded mux frame.
type Frame struct {
	Type     FrameType
	StreamID uint32
	Payload  []byte
}

// WriteFrame encodes and writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > maxFrameLength {
		return fmt.Errorf("mux: frame payload %d exceeds max %d", len(f.Payload), maxFrameLength)
	}
	header := make([]byte, headerSize)
	header[0] = byte(f.Type)
	binary.BigEndian.PutUint32(header[1:5], f.StreamID)
	binary.BigEndian.PutUint16(header[5:7], uint16(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("mux: write header: %w", err)
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return fmt.Errorf("mux: write payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads and decodes one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	length := binary.BigEndian.Uint16(header[5:7])
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, fmt.Errorf("mux: read payload: %w", err)
		}
	}
	return Frame{
		Type:     FrameType(header[0]),
		StreamID: binary.BigEndian.Uint32(header[1:5]),
		Payload:  payload,
	}, nil
}

// NegotiatePayload is the NEGOTIATE frame's body: protocol version plus a
// feature-flag byte (bit 0 = padding enabled, bit 1 = compression
// requested).
type NegotiatePayload struct {
	Version uint8
	Flags   uint8
}

const (
	featurePadding     = 1 << 0
	featureCompression = 1 << 1
)

// Encode serializes the negotiate payload.
func (n NegotiatePayload) Encode() []byte {
	return []byte{n.Version, n.Flags}
}

// DecodeNegotiatePayload parses a NEGOTIATE frame's payload.
func DecodeNegotiatePayload(b []byte) (NegotiatePayload, error) {
	if len(b) < 2 {
		return NegotiatePayload{}, fmt.Errorf("mux: negotiate payload too short")
	}
	return NegotiatePayload{Version: b[0], Flags: b[1]}, nil
}

// PaddingEnabled reports whether the padding feature flag is set.
func (n NegotiatePayload) PaddingEnabled() bool { return n.Flags&featurePadding != 0 }

// WithPadding returns a copy of n with the padding flag set or cleared.
func (n NegotiatePayload) WithPadding(enabled bool) NegotiatePayload {
	if enabled {
		n.Flags |= featurePadding
	} else {
		n.Flags &^= featurePadding
	}
	return n
}

// CompressionEnabled reports whether the compression feature flag is set.
func (n NegotiatePayload) CompressionEnabled() bool { return n.Flags&featureCompression != 0 }

// WithCompression returns a copy of n with the compression flag set or
// cleared.
func (n NegotiatePayload) WithCompression(enabled bool) NegotiatePayload {
	if enabled {
		n.Flags |= featureCompression
	} else {
		n.Flags &^= featureCompression
	}
	return n
}
