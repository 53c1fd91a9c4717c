// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package mux

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Frame{Type: FrameData, StreamID: 7, Payload: []byte("hello")}
	if err := WriteFrame(&buf, want); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFrame(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != want.Type || got.StreamID != want.StreamID || string(got.Payload) != string(want.Payload) {
		t.Fatalf("got %+v", got)
	}
}

func TestNegotiatePayloadPaddingFlag(t *testing.T) {
	n := NegotiatePayload{Version: 1}.WithPadding(true)
	decoded, err := DecodeNegotiatePayload(n.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.PaddingEnabled() {
		t.Fatal("expected padding flag set")
	}
}

func TestNegotiatePayloadCompressionFlag(t *testing.T) {
	n := NegotiatePayload{Version: 1}.WithCompression(true)
	decoded, err := DecodeNegotiatePayload(n.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if !decoded.CompressionEnabled() {
		t.Fatal("expected compression flag set")
	}
	if decoded.PaddingEnabled() {
		t.Fatal("padding flag should be unset")
	}
}

func TestNegotiateEnablesCompressionOnlyWhenBothWant(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn, true, nil)
	server := NewSession(serverConn, false, nil)

	errCh := make(chan error, 2)
	go func() { _, err := server.Negotiate(1, true); errCh <- err }()
	go func() { _, err := client.Negotiate(1, true); errCh <- err }()

	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatal(err)
		}
	}
	if !client.compression.Load() || !server.compression.Load() {
		t.Fatal("expected compression enabled on both sides")
	}
}

func TestStreamDataRoundTripWithCompression(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn, true, nil)
	server := NewSession(serverConn, false, nil)

	negErr := make(chan error, 2)
	go func() { _, err := server.Negotiate(1, true); negErr <- err }()
	go func() { _, err := client.Negotiate(1, true); negErr <- err }()
	for i := 0; i < 2; i++ {
		if err := <-negErr; err != nil {
			t.Fatal(err)
		}
	}

	accepted := make(chan *Stream, 1)
	go server.Serve(func(st *Stream) { accepted <- st })

	cs, err := client.OpenStream()
	if err != nil {
		t.Fatal(err)
	}

	var ss *Stream
	select {
	case ss = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted stream")
	}

	payload := bytes.Repeat([]byte("compress-me "), 256)
	if _, err := cs.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(ss, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(payload) {
		t.Fatal("payload mismatch after compressed round trip")
	}
}

func TestStreamIDParity(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn, true, nil)
	server := NewSession(serverConn, false, nil)
	go server.Serve(nil)

	s1, err := client.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	s2, err := client.OpenStream()
	if err != nil {
		t.Fatal(err)
	}
	if s1.ID()%2 != 1 || s2.ID()%2 != 1 {
		t.Fatalf("expected odd client stream ids, got %d %d", s1.ID(), s2.ID())
	}
	if s2.ID() <= s1.ID() {
		t.Fatalf("expected increasing ids, got %d then %d", s1.ID(), s2.ID())
	}
}

func TestStreamDataRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	client := NewSession(clientConn, true, nil)
	server := NewSession(serverConn, false, nil)

	accepted := make(chan *Stream, 1)
	go server.Serve(func(st *Stream) { accepted <- st })

	cs, err := client.OpenStream()
	if err != nil {
		t.Fatal(err)
	}

	var ss *Stream
	select {
	case ss = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accepted stream")
	}

	payload := []byte("ping")
	if _, err := cs.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	if _, err := io.ReadFull(ss, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q", buf)
	}
}

func TestStreamBackpressure(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	server := NewSession(serverConn, false, nil)
	_ = NewSession(clientConn, true, nil)

	st := newStream(server, 2)
	st.deliver(make([]byte, StreamWindow))
	if !st.Paused() {
		t.Fatal("expected stream to be paused at window capacity")
	}

	small := make([]byte, StreamWindow)
	n, err := st.Read(small)
	if err != nil {
		t.Fatal(err)
	}
	if n == 0 {
		t.Fatal("expected to read buffered bytes")
	}
	if st.Paused() {
		t.Fatal("expected stream to resume after draining below half-window")
	}
}
