// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package inbound implements the SOCKS5 and HTTP listeners that accept raw
// client streams, perform the protocol handshake to recover the requested
// target, and hand the resulting Session to a Dispatcher. Grounded on the
// teacher's listener-per-protocol shape in its services layer: each
// listener owns its own net.Listener and Accept loop, logs per-connection
// errors rather than killing the loop, and delegates all actual work to an
// injected handler.
package inbound

import (
	"context"
	"io"

	"nyx.sh/core/internal/address"
)

// Dispatch is implemented by anything that can run the core pipeline for
// an accepted session; *dispatcher.Dispatcher satisfies this.
type Dispatch interface {
	Dispatch(ctx context.Context, conn io.ReadWriteCloser, sess address.Session) error
}

// Listener is the common shape every inbound protocol implements: Serve
// blocks accepting connections until ctx is canceled or the listener is
// closed, Close stops it early.
type Listener interface {
	Serve(ctx context.Context) error
	Close() error
	Tag() string
}
