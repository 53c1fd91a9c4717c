// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package outbound implements the outbound registry and its proxy group
// selection policies. The registry owns every outbound handler by shared
// reference and resolves group-to-group dependencies in build-order passes,
// grounded on the teacher's staged-registration idiom in its rule engine
// (internal/engine/pipeline.go builds stages once and reuses them per
// packet; here the registry builds handlers once and groups dispatch
// through them per connection).
package outbound

import (
	"context"
	"io"

	"nyx.sh/core/internal/address"
)

// UDPTransport is the minimal abstraction a connect_udp caller needs: write
// one datagram, read the reply, close when done. Implementations are
// pre-connected to the remote endpoint, so this is plain Read/Write rather
// than the addressed WriteTo/ReadFrom a net.PacketConn exposes.
type UDPTransport interface {
	io.ReadWriteCloser
}

// Handler is the outbound capability contract: tag identity plus the two
// connect operations every leaf protocol and every group implements alike.
type Handler interface {
	Tag() string
	Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error)
	ConnectUDP(ctx context.Context, sess address.Session) (UDPTransport, error)
}

// Healthy is implemented by handlers that can report a liveness signal to
// the health checker and to parent groups (Direct, and WireGuard through
// it, always report healthy; a Group reports healthy when any child is).
type Healthy interface {
	Healthy() bool
}
