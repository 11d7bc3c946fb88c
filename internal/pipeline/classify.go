// Package pipeline implements component G: the request classifier and the
// full DISCOVER/REQUEST/DECLINE/RELEASE/INFORM/LEASEQUERY handling pipeline
// that turns a decoded request into a reply (or a decision not to answer).
package pipeline

import (
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
)

// Method is the classified DHCP message type (§4.G "Classification").
type Method int

const (
	MethodNone Method = iota
	MethodDiscover
	MethodRequest
	MethodDecline
	MethodRelease
	MethodInform
	MethodLeaseQuery
)

// SubMode further classifies a REQUEST (§4.G's classification table).
type SubMode int

const (
	SubModeNone SubMode = iota
	SubModeSelecting
	SubModeInitReboot
	SubModeRenewOrRebind
)

// Wire values of option 53 (§GLOSSARY "Option 53").
const (
	wireDiscover     = 1
	wireOffer        = 2
	wireRequest      = 3
	wireDecline      = 4
	wireACK          = 5
	wireNAK          = 6
	wireRelease      = 7
	wireInform       = 8
	wireLeaseQuery   = 10
	wireLeaseUnassigned = 11
	wireLeaseUnknown = 12
	wireLeaseActive  = 13
)

func classifyMethod(req *dhcpwire.Packet) Method {
	switch req.MessageType() {
	case wireDiscover:
		return MethodDiscover
	case wireRequest:
		return MethodRequest
	case wireDecline:
		return MethodDecline
	case wireRelease:
		return MethodRelease
	case wireInform:
		return MethodInform
	case wireLeaseQuery:
		return MethodLeaseQuery
	default:
		return MethodNone
	}
}

// classifySubMode derives the REQUEST sub-mode from the
// (server_identifier, ciaddr, requested_ip_address) tuple per §4.G's table.
// RENEWING and REBINDING share one sub-mode here: both are handled
// identically by §4.G's response construction step, so the spec's "link
// layer" discriminator (approximated by relay presence) has no behavioural
// consequence worth branching on.
func classifySubMode(req *dhcpwire.Packet) SubMode {
	_, hasServerID := req.ServerIdentifier()
	_, hasRequested := req.RequestedIP()
	ciaddrZero := req.CIAddr.IsZero()

	switch {
	case hasServerID && ciaddrZero && hasRequested:
		return SubModeSelecting
	case !hasServerID && ciaddrZero && hasRequested:
		return SubModeInitReboot
	case !hasServerID && !ciaddrZero && !hasRequested:
		return SubModeRenewOrRebind
	default:
		return SubModeNone
	}
}
