package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

var (
	macsBucket    = []byte("maps")
	subnetsBucket = []byte("subnets")
)

// diskRow is the JSON-encoded value stored per MAC in the maps bucket: the
// same per-client fields MemoryCache's macRow carries, materialised for
// disk so an operator can inspect or warm-restart from the file (§4.E
// "DiskCache").
type diskRow struct {
	IP       uint32            `json:"ip"`
	Hostname string            `json:"hostname,omitempty"`
	SubnetID string            `json:"subnet_id"`
	Serial   uint32            `json:"serial"`
	LeaseSec uint32            `json:"lease_time_seconds"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// diskParams is the JSON-encoded value stored per subnet key in the
// subnets bucket.
type diskParams struct {
	SubnetMask       uint32   `json:"subnet_mask"`
	BroadcastAddress uint32   `json:"broadcast_address"`
	DomainName       string   `json:"domain_name,omitempty"`
	Gateways         []uint32 `json:"gateways,omitempty"`
	DNS              []uint32 `json:"domain_name_servers,omitempty"`
	NTP              []uint32 `json:"ntp_servers,omitempty"`
}

// DiskCache is the on-disk counterpart to MemoryCache (§4.E): the same
// two-table schema materialised in a bbolt file, chosen for operator
// inspection and warm restarts. bbolt's single-writer-many-readers
// transaction model stands in for the single internal lock §4.E specifies
// for MemoryCache — no extra locking is layered in front of it.
type DiskCache struct {
	db    *bbolt.DB
	inner directory.Port
}

var (
	_ directory.Port          = (*DiskCache)(nil)
	_ directory.Reinitialiser = (*DiskCache)(nil)
)

// OpenDiskCache opens (creating if absent) the bbolt file at path and
// ensures both buckets exist.
func OpenDiskCache(path string, inner directory.Port) (*DiskCache, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("cache: opening disk cache %q: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(macsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(subnetsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: initialising disk cache %q: %w", path, err)
	}
	return &DiskCache{db: db, inner: inner}, nil
}

// Close releases the underlying bbolt file handle.
func (c *DiskCache) Close() error { return c.db.Close() }

func subnetKeyBytes(key lease.SubnetKey) []byte {
	buf := make([]byte, len(key.SubnetID)+1+4)
	copy(buf, key.SubnetID)
	binary.BigEndian.PutUint32(buf[len(key.SubnetID)+1:], key.Serial)
	return buf
}

// Lookup implements [directory.Port], joining the maps and subnets buckets
// exactly as MemoryCache.Lookup joins its two in-memory maps.
func (c *DiskCache) Lookup(ctx context.Context, mac addr.MAC) ([]*lease.Definition, error) {
	defs, err := c.lookupLocal(mac)
	if err != nil {
		return nil, err
	}
	if defs != nil {
		return defs, nil
	}
	if c.inner == nil {
		return nil, nil
	}
	defs, err = c.inner.Lookup(ctx, mac)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, nil
	}
	if err := c.store(mac, defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func (c *DiskCache) lookupLocal(mac addr.MAC) ([]*lease.Definition, error) {
	var defs []*lease.Definition
	err := c.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(macsBucket).Get(mac[:])
		if raw == nil {
			return nil
		}
		var rows []diskRow
		if err := json.Unmarshal(raw, &rows); err != nil {
			return fmt.Errorf("cache: decoding disk row for %s: %w", mac, err)
		}
		subnets := tx.Bucket(subnetsBucket)
		defs = make([]*lease.Definition, 0, len(rows))
		for _, row := range rows {
			key := lease.SubnetKey{SubnetID: row.SubnetID, Serial: row.Serial}
			var params lease.NetworkParams
			if pRaw := subnets.Get(subnetKeyBytes(key)); pRaw != nil {
				var dp diskParams
				if err := json.Unmarshal(pRaw, &dp); err != nil {
					return fmt.Errorf("cache: decoding disk params for %+v: %w", key, err)
				}
				params = paramsFromDisk(dp)
			}
			defs = append(defs, &lease.Definition{
				IP:               addr.IPv4FromUint32(row.IP),
				LeaseTimeSeconds: row.LeaseSec,
				Hostname:         row.Hostname,
				Key:              key,
				Params:           params,
				Extra:            row.Extra,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return defs, nil
}

func (c *DiskCache) store(mac addr.MAC, defs []*lease.Definition) error {
	rows := make([]diskRow, len(defs))
	for i, def := range defs {
		rows[i] = diskRow{
			IP:       def.IP.Uint32(),
			Hostname: def.Hostname,
			SubnetID: def.Key.SubnetID,
			Serial:   def.Key.Serial,
			LeaseSec: def.LeaseTimeSeconds,
			Extra:    def.Extra,
		}
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cache: encoding disk row for %s: %w", mac, err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(macsBucket).Put(mac[:], rowsJSON); err != nil {
			return err
		}
		subnets := tx.Bucket(subnetsBucket)
		for _, def := range defs {
			paramsJSON, err := json.Marshal(paramsToDisk(def.Params))
			if err != nil {
				return fmt.Errorf("cache: encoding disk params for %+v: %w", def.Key, err)
			}
			if err := subnets.Put(subnetKeyBytes(def.Key), paramsJSON); err != nil {
				return err
			}
		}
		return nil
	})
}

// Reinitialise implements [directory.Reinitialiser]: it truncates both
// buckets, then recurses into inner if it is itself a Reinitialiser,
// mirroring MemoryCache.Reinitialise.
func (c *DiskCache) Reinitialise(ctx context.Context) error {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(macsBucket); err != nil {
			return err
		}
		if err := tx.DeleteBucket(subnetsBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(macsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(subnetsBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("cache: reinitialising disk cache: %w", err)
	}
	if inner, ok := c.inner.(directory.Reinitialiser); ok {
		return inner.Reinitialise(ctx)
	}
	return nil
}

func paramsToDisk(p lease.NetworkParams) diskParams {
	return diskParams{
		SubnetMask:       p.SubnetMask.Uint32(),
		BroadcastAddress: p.BroadcastAddress.Uint32(),
		DomainName:       p.DomainName,
		Gateways:         ipsToUint32(p.Gateways),
		DNS:              ipsToUint32(p.DomainNameServers),
		NTP:              ipsToUint32(p.NTPServers),
	}
}

func paramsFromDisk(dp diskParams) lease.NetworkParams {
	return lease.NetworkParams{
		SubnetMask:        addr.IPv4FromUint32(dp.SubnetMask),
		BroadcastAddress:  addr.IPv4FromUint32(dp.BroadcastAddress),
		DomainName:        dp.DomainName,
		Gateways:          uint32sToIPs(dp.Gateways),
		DomainNameServers: uint32sToIPs(dp.DNS),
		NTPServers:        uint32sToIPs(dp.NTP),
	}
}

func ipsToUint32(ips []addr.IPv4) []uint32 {
	if ips == nil {
		return nil
	}
	out := make([]uint32, len(ips))
	for i, ip := range ips {
		out[i] = ip.Uint32()
	}
	return out
}

func uint32sToIPs(vs []uint32) []addr.IPv4 {
	if vs == nil {
		return nil
	}
	out := make([]addr.IPv4, len(vs))
	for i, v := range vs {
		out[i] = addr.IPv4FromUint32(v)
	}
	return out
}
