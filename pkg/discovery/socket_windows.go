//go:build windows

package discovery

import (
	"context"
	"net"
	"syscall"
)

// listenBroadcast opens a UDP socket allowed to send to the limited
// broadcast address.
func listenBroadcast(ctx context.Context) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error

			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}

			return sockErr
		},
	}

	return lc.ListenPacket(ctx, "udp4", ":0")
}
