// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"context"
	"fmt"
	"io"

	"nyx.sh/core/internal/address"
)

// Chain composes an ordered list of child outbounds into an N-hop tunnel:
// it dials hop 0's own server endpoint through hop 0's outbound, then issues
// an in-band CONNECT to each next hop's server endpoint over the previous
// hop's stream, finally CONNECTing to the real destination over the last hop.
type Chain struct {
	tag  string
	hops []hop
}

// hop is one link in the chain: the outbound used to reach it, its own
// server endpoint (needed to dial hop 0 and to CONNECT to hop i+1 through
// hop i), and how it speaks its in-band CONNECT protocol.
type hop struct {
	dialer        Handler
	serverAddress address.Address
	connect       ConnectFunc
}

// ConnectFunc issues hop-specific in-band protocol negotiation (HTTP
// CONNECT, SOCKS5 CONNECT, VLESS/Trojan request) over an already-open
// stream to target, returning the stream ready for payload once the
// remote confirms the tunnel.
type ConnectFunc func(ctx context.Context, stream io.ReadWriteCloser, target address.Address) (io.ReadWriteCloser, error)

// ChainHop describes one configured hop: the outbound reaching it, the
// hop's own server endpoint (used as the Session target when dialing it),
// and how to speak its in-band CONNECT protocol.
type ChainHop struct {
	Outbound      Handler
	ServerAddress address.Address
	Connect       ConnectFunc
}

// NewChain builds a Chain outbound from an ordered hop list. Every hop's
// ServerAddress is used: hop 0's as the dial target, each later hop's as the
// CONNECT target issued through the hop before it. The session passed to
// Connect supplies the real destination at dial time.
func NewChain(tag string, hops []ChainHop) (*Chain, error) {
	if len(hops) == 0 {
		return nil, fmt.Errorf("outbound: chain %q has no hops", tag)
	}
	c := &Chain{tag: tag}
	for _, h := range hops {
		c.hops = append(c.hops, hop{dialer: h.Outbound, serverAddress: h.ServerAddress, connect: h.Connect})
	}
	return c, nil
}

// Tag implements Handler.
func (c *Chain) Tag() string { return c.tag }

// Connect implements Handler: dials hop 0 directly, then issues an
// in-band CONNECT through each subsequent hop, and finally CONNECTs to
// sess.Target over the last hop's stream.
func (c *Chain) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	first := c.hops[0]
	dialSess := address.NewSession(first.serverAddress, sess.InboundTag, address.TCP)
	stream, err := first.dialer.Connect(ctx, dialSess)
	if err != nil {
		return nil, fmt.Errorf("outbound: chain %q hop 0 dial: %w", c.tag, err)
	}

	for i := 0; i < len(c.hops)-1; i++ {
		cur := c.hops[i]
		next := c.hops[i+1]
		stream, err = cur.connect(ctx, stream, next.serverAddress)
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("outbound: chain %q hop %d connect: %w", c.tag, i, err)
		}
	}

	last := c.hops[len(c.hops)-1]
	if last.connect != nil {
		stream, err = last.connect(ctx, stream, sess.Target)
		if err != nil {
			stream.Close()
			return nil, fmt.Errorf("outbound: chain %q final connect: %w", c.tag, err)
		}
	}
	return stream, nil
}

// ConnectUDP is not supported over a chained tunnel in this core; UDP
// chaining would require each hop's protocol to support UDP-over-stream
// relay (e.g. VLESS's UDP fragmentation), which none of the wired hop
// protocols implement here.
func (c *Chain) ConnectUDP(ctx context.Context, sess address.Session) (UDPTransport, error) {
	return nil, fmt.Errorf("outbound: chain %q does not support connect_udp", c.tag)
}
