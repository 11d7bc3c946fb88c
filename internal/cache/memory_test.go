package cache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/cache"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

func mustIP(t *testing.T, s string) addr.IPv4 {
	t.Helper()
	ip, err := addr.ParseIPv4(s)
	require.NoError(t, err)
	return ip
}

func mustMAC(t *testing.T, s string) addr.MAC {
	t.Helper()
	mac, err := addr.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func TestMemoryCache_MissFallsThroughAndPromotes(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	inner := directory.NewStaticDirectory(nil)
	inner.Set(mac, &lease.Definition{
		IP:  mustIP(t, "192.168.1.50"),
		Key: lease.SubnetKey{SubnetID: "office", Serial: 1},
	})

	c := cache.NewMemoryCache(inner)

	defs, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "192.168.1.50", defs[0].IP.String())

	// Remove the backing row; the cached promotion must still answer.
	inner.Set(mac)
	defs, err = c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "192.168.1.50", defs[0].IP.String())
}

func TestMemoryCache_NoInnerMissReturnsEmpty(t *testing.T) {
	c := cache.NewMemoryCache(nil)
	defs, err := c.Lookup(context.Background(), mustMAC(t, "00:11:22:33:44:55"))
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestMemoryCache_ReinitialiseFlushesAndChains(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	inner := &reinitCountingDirectory{
		StaticDirectory: directory.NewStaticDirectory(nil),
	}
	inner.Set(mac, &lease.Definition{IP: mustIP(t, "192.168.1.50")})

	c := cache.NewMemoryCache(inner)
	_, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)

	require.NoError(t, c.Reinitialise(context.Background()))
	assert.Equal(t, 1, inner.reinitCalls)

	inner.Set(mac) // drop the backing row entirely
	defs, err := c.Lookup(context.Background(), mac)
	require.NoError(t, err)
	assert.Empty(t, defs, "a flushed cache must not answer from a stale promoted row")
}

func TestMemoryCache_ReinitialiseFailurePropagates(t *testing.T) {
	c := cache.NewMemoryCache(&failingReinitDirectory{})
	err := c.Reinitialise(context.Background())
	assert.Error(t, err)
}

type reinitCountingDirectory struct {
	*directory.StaticDirectory
	reinitCalls int
}

func (d *reinitCountingDirectory) Reinitialise(context.Context) error {
	d.reinitCalls++
	return nil
}

type failingReinitDirectory struct{}

func (failingReinitDirectory) Lookup(context.Context, addr.MAC) ([]*lease.Definition, error) {
	return nil, nil
}

func (failingReinitDirectory) Reinitialise(context.Context) error {
	return errors.New("backend flush failed")
}
