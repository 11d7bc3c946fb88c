package pipeline

import (
	"net"

	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
)

// Destination is where and from which local port a reply must be sent
// (§4.G "Destination selection").
type Destination struct {
	Addr       *net.UDPAddr
	SourcePort int
}

const broadcastIP = "255.255.255.255"

// selectDestination implements §4.G's three-way destination rule. reply is
// the about-to-be-sent packet: its GIAddr and broadcast Flags bit were
// carried over from the request (§4.G "Transformation to reply"), and its
// YIAddr is whatever the response-construction step just assigned — the
// request's own YIAddr is always zero, since a client never sets it.
func selectDestination(reply *dhcpwire.Packet, clientPort, serverPort int) Destination {
	if reply.IsRelayed() {
		return Destination{
			Addr:       &net.UDPAddr{IP: net.IP(sliceIP(reply.GIAddr.Bytes())), Port: serverPort},
			SourcePort: serverPort,
		}
	}
	if reply.IsBroadcast() || reply.YIAddr.IsZero() {
		return Destination{
			Addr:       &net.UDPAddr{IP: net.ParseIP(broadcastIP), Port: clientPort},
			SourcePort: 0,
		}
	}
	return Destination{
		Addr:       &net.UDPAddr{IP: net.IP(sliceIP(reply.YIAddr.Bytes())), Port: clientPort},
		SourcePort: 0,
	}
}

func sliceIP(b [4]byte) []byte { return b[:] }
