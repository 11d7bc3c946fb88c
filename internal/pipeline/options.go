package pipeline

import (
	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

// applyNetworkOptions sets the option codes §4.G's "Response construction"
// lists for a DISCOVER/OFFER or REQUEST/ACK: 1 (mask), 3 (routers), 6
// (DNS), 15 (domain name), 28 (broadcast), 42 (NTP), plus any site-specific
// Extra. includeLeaseTime controls whether option 51 is set — it is
// omitted for INFORM (§4.G "without yiaddr or lease-time options").
func applyNetworkOptions(req, reply *dhcpwire.Packet, def *lease.Definition, includeLeaseTime bool) {
	if !def.Params.SubnetMask.IsZero() {
		reply.Options[1] = dhcpopt.IPv4Value(def.Params.SubnetMask)
	}
	if len(def.Params.Gateways) > 0 {
		reply.Options[3] = dhcpopt.IPv4ListValue(def.Params.Gateways)
	}
	if len(def.Params.DomainNameServers) > 0 {
		reply.Options[6] = dhcpopt.IPv4ListValue(def.Params.DomainNameServers)
	}
	if def.Params.DomainName != "" {
		reply.Options[15] = dhcpopt.StringValue(def.Params.DomainName)
	}
	if !def.Params.BroadcastAddress.IsZero() {
		reply.Options[28] = dhcpopt.IPv4Value(def.Params.BroadcastAddress)
	}
	if len(def.Params.NTPServers) > 0 {
		reply.Options[42] = dhcpopt.IPv4ListValue(def.Params.NTPServers)
	}
	if includeLeaseTime && def.LeaseTimeSeconds > 0 {
		reply.Options[51] = dhcpopt.U32Value(def.LeaseTimeSeconds)
	}
	if def.Hostname != "" {
		reply.Options[12] = dhcpopt.StringValue(def.Hostname)
	}

	applyExtraOptions(reply, def.Extra)
	echoRequestedOptions(req, reply, def)
}

// applyExtraOptions sets any site-specific options from Definition.Extra,
// resolving each key through the registry's name-to-code mapping (§4.G
// "any site-specific extra").
func applyExtraOptions(reply *dhcpwire.Packet, extra map[string]string) {
	for name, value := range extra {
		code, ok := dhcpopt.ByName(name)
		if !ok {
			continue
		}
		if _, already := reply.Options[code]; already {
			continue
		}
		reply.Options[code] = dhcpopt.StringValue(value)
	}
}

// echoRequestedOptions walks the client's option 55 (parameter request
// list) and, for each requested code this definition can satisfy but that
// applyNetworkOptions didn't already set, adds it from Extra (§4.G "echo
// client-requested options from option 55 that are available").
func echoRequestedOptions(req, reply *dhcpwire.Packet, def *lease.Definition) {
	for _, code := range req.ParameterRequestList() {
		if _, already := reply.Options[code]; already {
			continue
		}
		optDef, ok := dhcpopt.ByCode(code)
		if !ok {
			continue
		}
		if value, ok := def.Extra[optDef.Name]; ok {
			reply.Options[code] = dhcpopt.StringValue(value)
		}
	}
}

// addressOnSubnet reports whether the giaddr relay address lies within
// def's subnet (§4.G "INIT-REBOOT": "the client is on the
// lease's subnet").
func addressOnSubnet(def *lease.Definition, giaddr addr.IPv4) bool {
	return def.ContainsAddress(giaddr)
}
