// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package inbound

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"nyx.sh/core/internal/address"
	"nyx.sh/core/internal/logging"
)

// HTTPListener accepts plaintext HTTP proxy requests: a CONNECT request
// tunnels any protocol byte-for-byte after a 200 reply, while an ordinary
// absolute-form request (GET http://host/path) is reframed to relative
// form and replayed to the upstream over the same tunnel.
type HTTPListener struct {
	tag      string
	listener net.Listener
	dispatch Dispatch
}

// NewHTTPListener binds addr and returns a listener tagged tag.
func NewHTTPListener(tag, addr string, dispatch Dispatch) (*HTTPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("inbound: http listen %s: %w", addr, err)
	}
	return &HTTPListener{tag: tag, listener: ln, dispatch: dispatch}, nil
}

// Tag implements Listener.
func (h *HTTPListener) Tag() string { return h.tag }

// Close implements Listener.
func (h *HTTPListener) Close() error { return h.listener.Close() }

// Serve implements Listener.
func (h *HTTPListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		h.listener.Close()
	}()

	for {
		conn, err := h.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			return fmt.Errorf("inbound: http accept: %w", err)
		}
		go h.handle(ctx, conn)
	}
}

func (h *HTTPListener) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		logging.Debug("http inbound read request from %s: %v", conn.RemoteAddr(), err)
		return
	}

	hostport := req.Host
	if !strings.Contains(hostport, ":") {
		if req.Method == http.MethodConnect {
			hostport += ":443"
		} else {
			hostport += ":80"
		}
	}
	target, err := address.ParseAddress(hostport)
	if err != nil {
		logging.Debug("http inbound bad target %q: %v", hostport, err)
		return
	}

	source, _ := netip.ParseAddrPort(conn.RemoteAddr().String())
	sess := address.NewSession(target, h.tag, address.TCP)
	sess.Source = &source

	var stream *prefixedConn
	if req.Method == http.MethodConnect {
		if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
			return
		}
		stream = &prefixedConn{Conn: conn, r: reader}
	} else {
		req.RequestURI = ""
		req.URL.Scheme = ""
		req.URL.Host = ""
		stripHopByHopHeaders(req.Header)
		buf := new(strings.Builder)
		if err := req.Write(buf); err != nil {
			logging.Debug("http inbound re-serialize request: %v", err)
			return
		}
		stream = &prefixedConn{Conn: conn, r: reader, prefix: []byte(buf.String())}
	}

	if err := h.dispatch.Dispatch(ctx, stream, sess); err != nil {
		logging.Debug("http inbound dispatch error for %s: %v", target, err)
	}
}

func stripHopByHopHeaders(h http.Header) {
	for _, k := range []string{"Proxy-Connection", "Proxy-Authenticate", "Proxy-Authorization", "Connection"} {
		h.Del(k)
	}
}

// prefixedConn replays any already-buffered bytes (the re-serialized
// request line/headers for a non-CONNECT request, or nothing for CONNECT)
// before reading further bytes from the underlying connection.
type prefixedConn struct {
	net.Conn
	r      *bufio.Reader
	prefix []byte
}

func (p *prefixedConn) Read(b []byte) (int, error) {
	if len(p.prefix) > 0 {
		n := copy(b, p.prefix)
		p.prefix = p.prefix[n:]
		return n, nil
	}
	return p.r.Read(b)
}
