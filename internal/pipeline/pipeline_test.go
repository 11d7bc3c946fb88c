package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
	"github.com/flandhcp/staticdhcpd/internal/directory"
	"github.com/flandhcp/staticdhcpd/internal/lease"
	"github.com/flandhcp/staticdhcpd/internal/pipeline"
	"github.com/flandhcp/staticdhcpd/internal/ratelimit"
	"github.com/flandhcp/staticdhcpd/internal/statsbus"
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

func newFakeClock() *faketime.Clock {
	return &faketime.Clock{OnNow: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}
}

func baseRequest(mac addr.MAC, messageType byte) *dhcpwire.Packet {
	p := &dhcpwire.Packet{
		Op:    1,
		HType: 1,
		HLen:  6,
		XID:   0x1234,
		Options: map[byte]dhcpopt.OptionValue{
			53: dhcpopt.ByteValue(messageType),
		},
	}
	copy(p.CHAddr[:6], mac[:])
	return p
}

func newTestPipeline(t *testing.T, dir directory.Port, settings pipeline.Settings) *pipeline.Pipeline {
	t.Helper()
	limiter := ratelimit.New(ratelimit.DefaultConfig(), newFakeClock())
	bus := statsbus.New(slogutil.NewDiscardLogger())
	return pipeline.New(settings, dir, limiter, bus, slogutil.NewDiscardLogger(), nil, nil)
}

func defaultSettings(serverIP addr.IPv4) pipeline.Settings {
	return pipeline.Settings{
		ServerIP:       serverIP,
		ServerPort:     67,
		ClientPort:     68,
		AllowLocalDHCP: true,
	}
}

// TestScenario1_DiscoverOfferKnownMAC mirrors the documented scenario: a
// known MAC's local DISCOVER gets an OFFER for its definition's address.
func TestScenario1_DiscoverOfferKnownMAC(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{
		IP:               mustIP(t, "192.168.1.50"),
		LeaseTimeSeconds: 3600,
		Params: lease.NetworkParams{
			SubnetMask: mustIP(t, "255.255.255.0"),
		},
	})

	p := newTestPipeline(t, dir, defaultSettings(serverIP))
	req := baseRequest(mac, 1) // DISCOVER

	outcome := p.Handle(context.Background(), req)
	require.True(t, outcome.Emit)
	require.NotNil(t, outcome.Reply)
	assert.Equal(t, "192.168.1.50", outcome.Reply.YIAddr.String())
	assert.Equal(t, byte(2), outcome.Reply.MessageType()) // OFFER
}

// TestScenario2_SelectingWrongServerID mirrors the documented scenario: a
// SELECTING REQUEST naming a different server identifier must be ignored.
func TestScenario2_SelectingWrongServerID(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{IP: mustIP(t, "192.168.1.50")})

	p := newTestPipeline(t, dir, defaultSettings(serverIP))
	req := baseRequest(mac, 3) // REQUEST
	req.Options[54] = dhcpopt.IPv4Value(mustIP(t, "192.168.1.254"))
	req.Options[50] = dhcpopt.IPv4Value(mustIP(t, "192.168.1.50"))

	outcome := p.Handle(context.Background(), req)
	assert.False(t, outcome.Emit, "a REQUEST naming a foreign server identifier must not be answered")
}

// TestScenario3_UnknownMACNonAuthoritative mirrors the documented scenario:
// an unresolved MAC under a non-authoritative policy gets no reply.
func TestScenario3_UnknownMACNonAuthoritative(t *testing.T) {
	mac := mustMAC(t, "aa:aa:aa:aa:aa:aa")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)

	settings := defaultSettings(serverIP)
	settings.Authoritative = false
	p := newTestPipeline(t, dir, settings)

	req := baseRequest(mac, 3) // REQUEST
	req.CIAddr = mustIP(t, "192.168.1.77")

	outcome := p.Handle(context.Background(), req)
	assert.False(t, outcome.Emit)
}

// TestScenario5_RelayAcceptanceSourcePort mirrors the documented scenario: a
// relayed reply must be destined back to the relay's own address on the
// server port (port 67), not broadcast or unicast to the client.
func TestScenario5_RelayAcceptanceSourcePort(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{
		IP: mustIP(t, "192.168.1.50"),
		Params: lease.NetworkParams{
			SubnetMask: mustIP(t, "255.255.255.0"),
		},
	})

	settings := defaultSettings(serverIP)
	settings.AllowDHCPRelays = true
	p := newTestPipeline(t, dir, settings)

	req := baseRequest(mac, 1) // DISCOVER
	req.GIAddr = mustIP(t, "192.168.1.254")

	outcome := p.Handle(context.Background(), req)
	require.True(t, outcome.Emit)
	assert.Equal(t, 67, outcome.Destination.SourcePort)
	assert.Equal(t, "192.168.1.254", outcome.Destination.Addr.IP.String())
}

func TestPipeline_LocalDHCPDisallowedDrops(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{IP: mustIP(t, "192.168.1.50")})

	settings := defaultSettings(serverIP)
	settings.AllowLocalDHCP = false
	p := newTestPipeline(t, dir, settings)

	outcome := p.Handle(context.Background(), baseRequest(mac, 1))
	assert.False(t, outcome.Emit)
}

func TestPipeline_RelayDisallowedDrops(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	serverIP := mustIP(t, "192.168.1.1")
	dir := directory.NewStaticDirectory(nil)
	dir.Set(mac, &lease.Definition{IP: mustIP(t, "192.168.1.50")})

	settings := defaultSettings(serverIP)
	settings.AllowDHCPRelays = false
	p := newTestPipeline(t, dir, settings)

	req := baseRequest(mac, 1)
	req.GIAddr = mustIP(t, "192.168.1.254")

	outcome := p.Handle(context.Background(), req)
	assert.False(t, outcome.Emit)
}
