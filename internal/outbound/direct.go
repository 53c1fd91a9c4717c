// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package outbound

import (
	"context"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"

	"nyx.sh/core/internal/address"
)

// Direct dials the session's target directly. When BindDevice is set it
// binds the socket to that interface via SO_BINDTODEVICE, the same
// vishvananda/netlink-backed approach the teacher uses to keep advisory
// route/interface changes in the same library rather than shelling out.
type Direct struct {
	tag        string
	bindDevice string
	dialer     net.Dialer
}

// NewDirect constructs a direct outbound, optionally bound to bindDevice
// (empty string means the default routing table).
func NewDirect(tag, bindDevice string) (*Direct, error) {
	d := &Direct{tag: tag, bindDevice: bindDevice}
	if bindDevice != "" {
		if _, err := netlink.LinkByName(bindDevice); err != nil {
			return nil, fmt.Errorf("outbound: bind device %q: %w", bindDevice, err)
		}
		d.dialer.Control = bindToDevice(bindDevice)
	}
	return d, nil
}

// Tag implements Handler.
func (d *Direct) Tag() string { return d.tag }

// Healthy implements Healthy; a direct outbound has no probe state and is
// always considered healthy.
func (d *Direct) Healthy() bool { return true }

// Connect implements Handler.
func (d *Direct) Connect(ctx context.Context, sess address.Session) (io.ReadWriteCloser, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", sess.Target.String())
	if err != nil {
		return nil, fmt.Errorf("outbound: direct connect %s: %w", sess.Target, err)
	}
	return conn, nil
}

// ConnectUDP implements Handler.
func (d *Direct) ConnectUDP(ctx context.Context, sess address.Session) (UDPTransport, error) {
	conn, err := d.dialer.DialContext(ctx, "udp", sess.Target.String())
	if err != nil {
		return nil, fmt.Errorf("outbound: direct connect_udp %s: %w", sess.Target, err)
	}
	return conn, nil
}

// bindToDevice returns a dialer Control func binding the raw socket to
// ifaceName via SO_BINDTODEVICE (Linux only; a no-op Control on other
// platforms would silently skip binding, but this core targets Linux TUN
// deployments per the teacher's network package).
func bindToDevice(ifaceName string) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = syscall.SetsockoptString(int(fd), syscall.SOL_SOCKET, syscall.SO_BINDTODEVICE, ifaceName)
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
