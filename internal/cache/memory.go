// Package cache implements component E: the in-memory and on-disk
// directory-fronting caches, chainable in front of a slower inner Port.
package cache

import (
	"context"
	"sync"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

// macRow is the mac_index entry §4.E describes: enough to rebuild the
// per-client half of a Definition without repeating the subnet-wide
// parameters for every MAC on the same subnet.
type macRow struct {
	ip       addr.IPv4
	hostname string
	key      lease.SubnetKey
	extra    map[string]string
	leaseSec uint32
}

// MemoryCache is the in-memory directory cache (§4.E): a mac_index joined
// against a subnet_index at lookup time, guarded by one lock. It may wrap
// an inner Port; on a local miss it consults the chain and promotes any hit
// into its own maps before returning.
type MemoryCache struct {
	mu          sync.Mutex
	macIndex    map[addr.MAC][]macRow
	subnetIndex map[lease.SubnetKey]lease.NetworkParams

	inner directory.Port
}

var (
	_ directory.Port          = (*MemoryCache)(nil)
	_ directory.Reinitialiser = (*MemoryCache)(nil)
)

// NewMemoryCache builds an empty MemoryCache. inner may be nil, in which
// case a miss simply returns no candidates.
func NewMemoryCache(inner directory.Port) *MemoryCache {
	return &MemoryCache{
		macIndex:    make(map[addr.MAC][]macRow),
		subnetIndex: make(map[lease.SubnetKey]lease.NetworkParams),
		inner:       inner,
	}
}

// Lookup implements [directory.Port]. A local hit never touches inner; a
// local miss falls through to inner (if any) and, on success, promotes the
// result into the local maps (§4.E "Chaining").
func (c *MemoryCache) Lookup(ctx context.Context, mac addr.MAC) ([]*lease.Definition, error) {
	if defs, ok := c.lookupLocal(mac); ok {
		return defs, nil
	}
	if c.inner == nil {
		return nil, nil
	}
	defs, err := c.inner.Lookup(ctx, mac)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}
	c.store(mac, defs)
	return defs, nil
}

func (c *MemoryCache) lookupLocal(mac addr.MAC) ([]*lease.Definition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows, ok := c.macIndex[mac]
	if !ok {
		return nil, false
	}
	defs := make([]*lease.Definition, 0, len(rows))
	for _, row := range rows {
		params := c.subnetIndex[row.key]
		defs = append(defs, &lease.Definition{
			IP:               row.ip,
			LeaseTimeSeconds: row.leaseSec,
			Hostname:         row.hostname,
			Key:              row.key,
			Params:           params,
			Extra:            row.extra,
		})
	}
	return defs, true
}

// store populates both maps for mac from defs (§4.E "Insertion populates
// both maps"). Concurrent stores for the same mac race harmlessly:
// whichever write lands last wins, and correctness per §4.E does not
// depend on which.
func (c *MemoryCache) store(mac addr.MAC, defs []*lease.Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rows := make([]macRow, len(defs))
	for i, def := range defs {
		c.subnetIndex[def.Key] = def.Params
		rows[i] = macRow{
			ip:       def.IP,
			hostname: def.Hostname,
			key:      def.Key,
			extra:    def.Extra,
			leaseSec: def.LeaseTimeSeconds,
		}
	}
	c.macIndex[mac] = rows
}

// Store exposes the promotion path for callers (such as a directory
// backend's own warm-up routine) that want to seed the cache directly
// rather than waiting on a miss.
func (c *MemoryCache) Store(mac addr.MAC, defs ...*lease.Definition) {
	c.store(mac, defs)
}

// Reinitialise implements [directory.Reinitialiser]: it flushes both local
// maps, then recurses into inner if it is itself a Reinitialiser (§4.E
// "Chaining"). After this call, a subsequent Lookup for any MAC must
// consult inner rather than returning a previously cached row.
func (c *MemoryCache) Reinitialise(ctx context.Context) error {
	c.mu.Lock()
	c.macIndex = make(map[addr.MAC][]macRow)
	c.subnetIndex = make(map[lease.SubnetKey]lease.NetworkParams)
	c.mu.Unlock()

	if inner, ok := c.inner.(directory.Reinitialiser); ok {
		return inner.Reinitialise(ctx)
	}
	return nil
}
