// Package lease defines the value objects the directory port (component D)
// and cache layer (component E) exchange: the per-MAC lease definition and
// the subnet-keyed network parameters it is normalised against (§3 "Lease
// Definition", "Subnet Key").
package lease

import (
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/netutil"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

// ErrNotFound is returned by a Directory whose backend has no row for the
// requested MAC. It is distinct from a nil, nil return so callers can tell
// "known absence" from "value not yet determined" with errors.Is.
const ErrNotFound errors.Error = "lease: no definition for this MAC"

// SubnetKey is the composite key §3 assigns to a normalised row of network
// parameters: all clients sharing a (SubnetID, Serial) pair share one row.
type SubnetKey struct {
	SubnetID string
	Serial   uint32
}

// NetworkParams is the subnet-wide portion of a lease: everything that does
// not vary per client within the same subnet key.
type NetworkParams struct {
	SubnetMask        addr.IPv4
	BroadcastAddress  addr.IPv4
	DomainName        string
	Gateways          []addr.IPv4
	DomainNameServers []addr.IPv4 // at most 3, per §3
	NTPServers        []addr.IPv4 // at most 3, per §3
}

// Definition is the immutable record a directory backend returns for a
// known MAC (§3 "Lease Definition"). Per DESIGN NOTES §9's resolution of
// the source's possibly-buggy field-subset caching, every field here is
// cached and returned in full — never a subset.
type Definition struct {
	IP               addr.IPv4
	LeaseTimeSeconds uint32
	Hostname         string
	Key              SubnetKey
	Params           NetworkParams

	// Extra carries opaque, site-specific option values keyed by the
	// dhcpopt registry name (e.g. "tftp_server_name"). §4.G's response
	// construction step echoes these into the reply verbatim.
	Extra map[string]string
}

// Clone returns a deep copy of d, so a caller mutating the returned
// Definition (e.g. the load_dhcp_packet hook, §4.G) cannot corrupt a cache's
// stored row.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Params.Gateways = append([]addr.IPv4(nil), d.Params.Gateways...)
	clone.Params.DomainNameServers = append([]addr.IPv4(nil), d.Params.DomainNameServers...)
	clone.Params.NTPServers = append([]addr.IPv4(nil), d.Params.NTPServers...)
	if d.Extra != nil {
		clone.Extra = make(map[string]string, len(d.Extra))
		for k, v := range d.Extra {
			clone.Extra[k] = v
		}
	}
	return &clone
}

// Validate reports whether d's fields are well-formed enough to hand to a
// client: an empty domain name is legal (option 15 is simply omitted), but a
// non-empty one must be a syntactically valid DNS name, exactly what
// [netutil.ValidateDomainName] enforces for the teacher's own LocalDomainName
// field.
func (d *Definition) Validate() error {
	if d.Params.DomainName == "" {
		return nil
	}
	if err := netutil.ValidateDomainName(d.Params.DomainName); err != nil {
		return errors.Annotate(err, "domain name: %w")
	}
	return nil
}

// ContainsAddress reports whether ip falls within this definition's subnet,
// per its Params.SubnetMask (§4.G "multi-definition selection": "the one
// whose (ip, subnet_mask) contains giaddr").
func (d *Definition) ContainsAddress(ip addr.IPv4) bool {
	if d.Params.SubnetMask.IsZero() {
		return false
	}
	return d.IP.IsSubnetMember(ip, d.Params.SubnetMask)
}
