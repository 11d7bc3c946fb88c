package pipeline

import (
	"context"
	"log/slog"

	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

// buildResponse implements §4.G's per-method "Response construction". It
// returns the reply packet (nil if there is nothing to send) and whether
// the caller should actually emit it — some paths build a NAK only under
// AUTHORITATIVE and otherwise stay silent.
func (p *Pipeline) buildResponse(
	ctx context.Context,
	req *dhcpwire.Packet,
	def *lease.Definition,
	method Method,
	logger *slog.Logger,
) (*dhcpwire.Packet, bool) {
	switch method {
	case MethodDiscover:
		return p.buildDiscoverReply(req, def)
	case MethodRequest:
		return p.buildRequestReply(ctx, req, def, logger)
	case MethodInform:
		return p.buildInformReply(req, def)
	case MethodDecline:
		logger.InfoContext(ctx, "duplicate IPv4 assignment reported by client")
		return nil, false
	case MethodRelease:
		logger.InfoContext(ctx, "client released its lease")
		return nil, false
	case MethodLeaseQuery:
		return p.buildLeaseQueryReply(req, def), true
	default:
		return nil, false
	}
}

func (p *Pipeline) buildDiscoverReply(req *dhcpwire.Packet, def *lease.Definition) (*dhcpwire.Packet, bool) {
	if def == nil {
		// §4.G: unresolved after the unknown-MAC hook; AUTHORITATIVE has
		// no DISCOVER-time NAK concept (there is no lease to refuse), so
		// the server simply stays silent either way.
		return nil, false
	}
	reply := dhcpwire.NewReply(req, p.settings.ServerIP, wireOffer)
	reply.YIAddr = def.IP
	applyNetworkOptions(req, reply, def, true)
	return reply, true
}

func (p *Pipeline) buildRequestReply(ctx context.Context, req *dhcpwire.Packet, def *lease.Definition, logger *slog.Logger) (*dhcpwire.Packet, bool) {
	sub := classifySubMode(req)
	requestedIP, hasRequested := req.RequestedIP()

	switch sub {
	case SubModeSelecting:
		if def == nil {
			return nil, false
		}
		serverID, _ := req.ServerIdentifier()
		if !serverID.Equal(p.settings.ServerIP) || !hasRequested || !requestedIP.Equal(def.IP) {
			return nil, false
		}
		return p.buildACK(req, def), true

	case SubModeInitReboot:
		if def == nil {
			return p.maybeNAK(req), p.settings.Authoritative
		}
		onLink := req.GIAddr.IsZero() || addressOnSubnet(def, req.GIAddr)
		if hasRequested && requestedIP.Equal(def.IP) && onLink {
			return p.buildACK(req, def), true
		}
		return p.maybeNAK(req), p.settings.Authoritative

	case SubModeRenewOrRebind:
		if def == nil {
			return p.maybeNAK(req), p.settings.Authoritative
		}
		if p.settings.NAKRenewals {
			return p.maybeNAK(req), true
		}
		if req.CIAddr.Equal(def.IP) {
			return p.buildACK(req, def), true
		}
		return nil, false

	default:
		logger.DebugContext(ctx, "unclassifiable REQUEST sub-mode")
		return nil, false
	}
}

func (p *Pipeline) buildACK(req *dhcpwire.Packet, def *lease.Definition) *dhcpwire.Packet {
	reply := dhcpwire.NewReply(req, p.settings.ServerIP, wireACK)
	reply.YIAddr = def.IP
	applyNetworkOptions(req, reply, def, true)
	return reply
}

// maybeNAK builds a NAK reply unconditionally; the caller decides whether
// AUTHORITATIVE permits sending it.
func (p *Pipeline) maybeNAK(req *dhcpwire.Packet) *dhcpwire.Packet {
	return dhcpwire.NewReply(req, p.settings.ServerIP, wireNAK)
}

func (p *Pipeline) buildInformReply(req *dhcpwire.Packet, def *lease.Definition) (*dhcpwire.Packet, bool) {
	if def == nil {
		return nil, false
	}
	reply := dhcpwire.NewReply(req, p.settings.ServerIP, wireACK)
	applyNetworkOptions(req, reply, def, false)
	return reply, true
}

func (p *Pipeline) buildLeaseQueryReply(req *dhcpwire.Packet, def *lease.Definition) *dhcpwire.Packet {
	if def == nil {
		reply := dhcpwire.NewReply(req, p.settings.ServerIP, wireLeaseUnknown)
		return reply
	}
	reply := dhcpwire.NewReply(req, p.settings.ServerIP, wireLeaseActive)
	reply.YIAddr = def.IP
	reply.Options[50] = dhcpopt.IPv4Value(def.IP)
	reply.Options[51] = dhcpopt.U32Value(def.LeaseTimeSeconds)
	if clientID, ok := req.ClientIdentifier(); ok {
		reply.Options[61] = dhcpopt.IdentifierValue(clientID)
	}
	return reply
}
