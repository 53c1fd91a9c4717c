// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"nyx.sh/core/internal/address"
)

type recordingDispatch struct {
	got  address.Session
	done chan struct{}
}

func (r *recordingDispatch) Dispatch(ctx context.Context, conn io.ReadWriteCloser, sess address.Session) error {
	r.got = sess
	close(r.done)
	conn.Close()
	return nil
}

func TestSOCKS5HandshakeConnectDomain(t *testing.T) {
	rec := &recordingDispatch{done: make(chan struct{})}
	ln, err := NewSOCKS5Listener("socks-in", "127.0.0.1:0", rec)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte{socks5Version, 1, 0x00})
	greetReply := make([]byte, 2)
	io.ReadFull(conn, greetReply)
	if greetReply[0] != socks5Version || greetReply[1] != 0x00 {
		t.Fatalf("unexpected greeting reply %v", greetReply)
	}

	domain := "example.com"
	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AtypDomain, byte(len(domain))}
	req = append(req, domain...)
	req = append(req, 0x01, 0xBB) // port 443
	conn.Write(req)

	replyHeader := make([]byte, 4)
	io.ReadFull(conn, replyHeader)
	if replyHeader[1] != socks5ReplyOK {
		t.Fatalf("expected success reply, got %v", replyHeader)
	}
	boundAddr := make([]byte, net.IPv4len+2)
	io.ReadFull(conn, boundAddr)

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch was never called")
	}
	if rec.got.Target.Domain() != "example.com" || rec.got.Target.Port() != 443 {
		t.Fatalf("unexpected target %+v", rec.got.Target)
	}
}

func TestHTTPListenerConnectTunnel(t *testing.T) {
	rec := &recordingDispatch{done: make(chan struct{})}
	ln, err := NewHTTPListener("http-in", "127.0.0.1:0", rec)
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ln.Serve(ctx)

	conn, err := net.Dial("tcp", ln.listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	conn.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "HTTP/1.1 200 Connection Established\r\n\r\n" {
		t.Fatalf("unexpected response %q", got)
	}

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch was never called")
	}
	if rec.got.Target.Domain() != "example.com" || rec.got.Target.Port() != 443 {
		t.Fatalf("unexpected target %+v", rec.got.Target)
	}
}
