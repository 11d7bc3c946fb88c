// Package dhcpwire implements the packet codec (component B): decoding a
// raw UDP payload into a structured Packet and re-encoding it in canonical
// form. It is deliberately hand-rolled rather than built atop a third-party
// DHCPv4 library — the wire codec is the one piece of this system whose
// entire purpose is to be the hard, hand-built engineering the rest of the
// pipeline depends on.
package dhcpwire

import (
	"net"
	"sort"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
)

const (
	headerLen   = 240
	minTotalLen = 300 // BOOTP minimum per §4.B "Encode"

	cookieOffset = 236

	opRequest = 1
	opReply   = 2

	chaddrLen = 16
	snameLen  = 64
	fileLen   = 128
)

var magicCookie = [4]byte{0x63, 0x82, 0x53, 0x63}

// Packet is the in-memory representation of a decoded (or about-to-be
// encoded) DHCPv4 datagram: the fixed BOOTP header fields plus a
// code-to-value option map (§3 "DHCP Packet").
type Packet struct {
	Op     byte
	HType  byte
	HLen   byte
	Hops   byte
	XID    uint32
	Secs   uint16
	Flags  uint16
	CIAddr addr.IPv4
	YIAddr addr.IPv4
	SIAddr addr.IPv4
	GIAddr addr.IPv4
	CHAddr [chaddrLen]byte
	SName  [snameLen]byte
	File   [fileLen]byte

	Options map[byte]dhcpopt.OptionValue

	// SourceAddr is the address the datagram arrived from; PXE reports
	// whether it arrived on the optional PXE port rather than the
	// standard DHCP port (§4.H "tags it with the originating socket
	// identity").
	SourceAddr net.Addr
	PXE        bool

	// Warnings accumulates non-fatal type-decode failures: the option
	// stayed in Options as a RawValue, but something about its payload
	// did not satisfy its registry entry (§4.B step 5).
	Warnings []error
}

// IsBroadcast reports whether the client set the BOOTP broadcast flag
// (high bit of Flags).
func (p *Packet) IsBroadcast() bool { return p.Flags&0x8000 != 0 }

// IsRelayed reports whether a relay agent populated GIAddr.
func (p *Packet) IsRelayed() bool { return !p.GIAddr.IsZero() }

// MessageType returns the decoded value of option 53 (dhcp_message_type),
// or 0 if absent or not a ByteValue.
func (p *Packet) MessageType() byte {
	if v, ok := p.Options[53].(dhcpopt.ByteValue); ok {
		return byte(v)
	}
	return 0
}

// RequestedIP returns option 50 (requested_ip_address), if present.
func (p *Packet) RequestedIP() (addr.IPv4, bool) {
	if v, ok := p.Options[50].(dhcpopt.IPv4Value); ok {
		return addr.IPv4(v), true
	}
	return addr.IPv4{}, false
}

// ServerIdentifier returns option 54 (server_identifier), if present.
func (p *Packet) ServerIdentifier() (addr.IPv4, bool) {
	if v, ok := p.Options[54].(dhcpopt.IPv4Value); ok {
		return addr.IPv4(v), true
	}
	return addr.IPv4{}, false
}

// ClientIdentifier returns option 61, if present; otherwise the MAC
// address read from CHAddr stands in for it (RFC 2132 §9.14).
func (p *Packet) ClientIdentifier() ([]byte, bool) {
	if v, ok := p.Options[61].(dhcpopt.IdentifierValue); ok {
		return []byte(v), true
	}
	mac, err := p.MAC()
	if err != nil {
		return nil, false
	}
	return mac[:], true
}

// ParameterRequestList returns the client's option 55 request list.
func (p *Packet) ParameterRequestList() []byte {
	if v, ok := p.Options[55].(dhcpopt.BytesValue); ok {
		return []byte(v)
	}
	return nil
}

// MAC extracts the client's hardware address from CHAddr, honouring HLen.
func (p *Packet) MAC() (addr.MAC, error) {
	n := int(p.HLen)
	if n == 0 || n > 6 {
		n = 6
	}
	return addr.MACFromBytes(p.CHAddr[:n])
}

// newReplyHeader builds the fixed-header half of a reply packet from the
// originating request: flips Op to BOOTREPLY, clears Secs, and preserves
// XID/Flags/CHAddr/GIAddr/Hops/HType/HLen (§4.G "Transformation to reply").
func newReplyHeader(req *Packet, serverIP addr.IPv4) *Packet {
	reply := &Packet{
		Op:      opReply,
		HType:   req.HType,
		HLen:    req.HLen,
		Hops:    req.Hops,
		XID:     req.XID,
		Secs:    0,
		Flags:   req.Flags,
		GIAddr:  req.GIAddr,
		SIAddr:  serverIP,
		CHAddr:  req.CHAddr,
		Options: make(map[byte]dhcpopt.OptionValue),
	}
	return reply
}

// NewReply constructs a reply Packet of the given DHCP message type,
// stamped with this server's identifier, inheriting the request's
// transaction framing.
func NewReply(req *Packet, serverIP addr.IPv4, messageType byte) *Packet {
	reply := newReplyHeader(req, serverIP)
	reply.Options[53] = dhcpopt.ByteValue(messageType)
	reply.Options[54] = dhcpopt.IPv4Value(serverIP)
	return reply
}

// sortedOptionCodes returns the set of populated option codes in
// ascending numeric order, the order Encode emits them in (§4.B "Encode":
// "RFC 2131 recommends monotonic order for interop with some relays").
func sortedOptionCodes(options map[byte]dhcpopt.OptionValue) []byte {
	codes := make([]byte, 0, len(options))
	for code := range options {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
