package pipeline

import (
	"context"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

// LoadDHCPPacketHook is invoked before emission with the about-to-be-sent
// reply, the request it answers, and the resolved lease, if any (§4.G
// "User hook — load_dhcp_packet"). It may mutate reply's options in place;
// returning drop=true suppresses transmission entirely. A hook error is a
// HookError (§7): treated identically to drop=true, logged with its error.
type LoadDHCPPacketHook func(ctx context.Context, req, reply *dhcpwire.Packet, mac addr.MAC, def *lease.Definition) (drop bool, err error)

// HandleUnknownMACHook is invoked when the directory has no definition for
// mac (§4.G "Directory resolution"). It may synthesise a Definition (e.g.
// from a fallback pool); returning (nil, nil) leaves the MAC unresolved, at
// which point §4.G's AUTHORITATIVE policy takes over.
type HandleUnknownMACHook func(ctx context.Context, req *dhcpwire.Packet, mac addr.MAC) (*lease.Definition, error)

// NoopLoadDHCPPacket is the default LoadDHCPPacketHook: it never mutates
// and never drops.
func NoopLoadDHCPPacket(context.Context, *dhcpwire.Packet, *dhcpwire.Packet, addr.MAC, *lease.Definition) (bool, error) {
	return false, nil
}

// NoopHandleUnknownMAC is the default HandleUnknownMACHook: it never
// synthesises a definition.
func NoopHandleUnknownMAC(context.Context, *dhcpwire.Packet, addr.MAC) (*lease.Definition, error) {
	return nil, nil
}
