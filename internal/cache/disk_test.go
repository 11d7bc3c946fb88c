package cache_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/cache"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

func openDiskCache(t *testing.T, inner directory.Port) *cache.DiskCache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	c, err := cache.OpenDiskCache(path, inner)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestDiskCache_StoreAndLookupRoundTrip(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	inner := directory.NewStaticDirectory(nil)
	inner.Set(mac, &lease.Definition{
		IP:               mustIP(t, "192.168.1.50"),
		Hostname:         "host-a",
		LeaseTimeSeconds: 3600,
		Key:              lease.SubnetKey{SubnetID: "office", Serial: 2},
		Params: lease.NetworkParams{
			SubnetMask: mustIP(t, "255.255.255.0"),
			Gateways:   []addr.IPv4{mustIP(t, "192.168.1.1")},
		},
		Extra: map[string]string{"tftp_server_name": "tftp.example"},
	})

	c := openDiskCache(t, inner)

	defs, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "192.168.1.50", defs[0].IP.String())
	assert.Equal(t, "255.255.255.0", defs[0].Params.SubnetMask.String())
	assert.Equal(t, "192.168.1.1", defs[0].Params.Gateways[0].String())
	assert.Equal(t, "tftp.example", defs[0].Extra["tftp_server_name"])

	// Second lookup must be served from the disk rows, not the backend.
	inner.Set(mac)
	defs, err = c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "host-a", defs[0].Hostname)
}

func TestDiskCache_ReinitialiseTruncatesBuckets(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	inner := directory.NewStaticDirectory(nil)
	inner.Set(mac, &lease.Definition{IP: mustIP(t, "192.168.1.50")})

	c := openDiskCache(t, inner)
	_, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)

	require.NoError(t, c.Reinitialise(context.Background()))

	inner.Set(mac)
	defs, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	assert.Empty(t, defs)
}
