// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package relay

import (
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

type countingGuard struct {
	up, down atomic.Uint64
}

func (g *countingGuard) AddUpload(n uint64)   { g.up.Add(n) }
func (g *countingGuard) AddDownload(n uint64) { g.down.Add(n) }

func TestRunEchoesAndCountsBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.Copy(conn, conn)
		conn.Close()
	}()

	upstream, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	clientSide, testSide := net.Pipe()
	guard := &countingGuard{}

	relayDone := make(chan error, 1)
	go func() { relayDone <- Run(clientSide, upstream, guard) }()

	payload := []byte("hello upstream")
	if _, err := testSide.Write(payload); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(payload))
	testSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(testSide, buf); err != nil {
		t.Fatalf("echo read: %v", err)
	}
	if string(buf) != string(payload) {
		t.Fatalf("got %q", buf)
	}

	testSide.Close()
	<-relayDone
	<-done

	if guard.up.Load() == 0 || guard.down.Load() == 0 {
		t.Fatalf("expected nonzero byte counts, got up=%d down=%d", guard.up.Load(), guard.down.Load())
	}
}
