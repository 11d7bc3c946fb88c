package directory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
)

func TestStaticDirectory_LookupMissAndHit(t *testing.T) {
	mac, err := addr.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)

	dir := directory.NewStaticDirectory(nil)

	defs, err := dir.Lookup(context.Background(), mac)
	require.NoError(t, err)
	assert.Empty(t, defs)

	ip, err := addr.ParseIPv4("192.168.1.50")
	require.NoError(t, err)
	dir.Set(mac, &lease.Definition{IP: ip})

	defs, err = dir.Lookup(context.Background(), mac)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, ip, defs[0].IP)
}

func TestStaticDirectory_LookupReturnsClones(t *testing.T) {
	mac, err := addr.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{Hostname: "original"})

	defs, err := dir.Lookup(context.Background(), mac)
	require.NoError(t, err)
	defs[0].Hostname = "mutated"

	defs2, err := dir.Lookup(context.Background(), mac)
	require.NoError(t, err)
	assert.Equal(t, "original", defs2[0].Hostname)
}
