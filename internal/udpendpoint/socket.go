// Package udpendpoint implements component H: the three UDP sockets (DHCP,
// response, optional PXE), their multiplexed read loop, and the bounded
// worker pool that hands each datagram to the pipeline.
package udpendpoint

import (
	"fmt"
	"net"
	"os"
	"syscall"

	"golang.org/x/net/ipv4"
)

// newPacketConn is the generalisation of dhcpd/os_linux.go's
// newBroadcastPacketConn: a plain SOCK_DGRAM socket, configured with
// SO_REUSEADDR (and SO_BROADCAST when requested), optionally bound to a
// specific interface, bound to bindIP:port, then lifted into a Go
// net.PacketConn via os.NewFile/net.FilePacketConn and wrapped in
// golang.org/x/net/ipv4.PacketConn so the read loop can recover which
// local address a packet arrived on (ipv4.ControlMessage) even when
// multiple interfaces share one socket.
func newPacketConn(bindIP net.IP, port int, broadcast bool, ifname string) (*ipv4.PacketConn, error) {
	s, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("udpendpoint: socket: %w", err)
	}

	if err := syscall.SetsockoptInt(s, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
		syscall.Close(s)
		return nil, fmt.Errorf("udpendpoint: SO_REUSEADDR: %w", err)
	}
	if broadcast {
		if err := syscall.SetsockoptInt(s, syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1); err != nil {
			syscall.Close(s)
			return nil, fmt.Errorf("udpendpoint: SO_BROADCAST: %w", err)
		}
	}
	if ifname != "" {
		if err := syscall.SetsockoptString(s, syscall.SOL_SOCKET, syscall.SO_BINDTODEVICE, ifname); err != nil {
			syscall.Close(s)
			return nil, fmt.Errorf("udpendpoint: SO_BINDTODEVICE %q: %w", ifname, err)
		}
	}

	sa := syscall.SockaddrInet4{Port: port}
	if ip4 := bindIP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := syscall.Bind(s, &sa); err != nil {
		syscall.Close(s)
		return nil, fmt.Errorf("udpendpoint: bind %s:%d: %w", bindIP, port, err)
	}

	f := os.NewFile(uintptr(s), "")
	conn, err := net.FilePacketConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("udpendpoint: FilePacketConn: %w", err)
	}

	return ipv4.NewPacketConn(conn), nil
}
