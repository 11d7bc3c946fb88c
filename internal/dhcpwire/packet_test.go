package dhcpwire_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
	"github.com/flandhcp/staticdhcpd/internal/dhcpopt"
	"github.com/flandhcp/staticdhcpd/internal/dhcpwire"
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

// buildDiscover constructs a raw DISCOVER datagram the way a client would
// send it, for use as Decode input across several tests.
func buildDiscover(t *testing.T, mac addr.MAC) []byte {
	t.Helper()
	p := &dhcpwire.Packet{
		Op:      1,
		HType:   1,
		HLen:    6,
		XID:     0xdeadbeef,
		Flags:   0x8000,
		Options: map[byte]dhcpopt.OptionValue{
			53: dhcpopt.ByteValue(1), // DISCOVER
		},
	}
	copy(p.CHAddr[:6], mac[:])
	return dhcpwire.Encode(p)
}

func TestEncodeDecodeRoundTrip_Discover(t *testing.T) {
	mac := mustMAC(t, "aa:bb:cc:dd:ee:ff")
	raw := buildDiscover(t, mac)
	require.GreaterOrEqual(t, len(raw), 300)

	got, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	assert.Empty(t, got.Warnings)
	assert.Equal(t, byte(1), got.MessageType())
	gotMAC, err := got.MAC()
	require.NoError(t, err)
	assert.Equal(t, mac, gotMAC)
	assert.True(t, got.IsBroadcast())
	assert.False(t, got.IsRelayed())
}

func TestScenario1_DiscoverOffer(t *testing.T) {
	mac := mustMAC(t, "00:11:22:33:44:55")
	raw := buildDiscover(t, mac)
	req, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	require.Equal(t, byte(1), req.MessageType())

	serverIP := mustIP(t, "192.168.1.1")
	offer := dhcpwire.NewReply(req, serverIP, 2) // OFFER
	offer.YIAddr = mustIP(t, "192.168.1.50")
	offer.Options[1] = dhcpopt.IPv4Value(mustIP(t, "255.255.255.0"))
	offer.Options[51] = dhcpopt.U32Value(86400)

	encoded := dhcpwire.Encode(offer)
	decoded, err := dhcpwire.Decode(encoded, nil, false)
	require.NoError(t, err)

	assert.Equal(t, byte(2), decoded.MessageType())
	assert.Equal(t, req.XID, decoded.XID)
	assert.Equal(t, "192.168.1.50", decoded.YIAddr.String())
	si, ok := decoded.ServerIdentifier()
	require.True(t, ok)
	assert.Equal(t, serverIP, si)
}

func TestScenario6_RelayAgentInfoRoundTrip(t *testing.T) {
	mac := mustMAC(t, "02:00:00:00:00:01")
	p := &dhcpwire.Packet{
		Op: 1, HType: 1, HLen: 6, XID: 42,
		Options: map[byte]dhcpopt.OptionValue{
			53: dhcpopt.ByteValue(3), // REQUEST
			82: dhcpopt.BytesValue([]byte{1, 4, 'e', 't', 'h', '0', 2, 8, 's', 'w', 'i', 't', 'c', 'h', '-', '7'}),
		},
	}
	copy(p.CHAddr[:6], mac[:])
	raw := dhcpwire.Encode(p)

	decoded, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	got, ok := decoded.Options[82].(dhcpopt.BytesValue)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 4, 'e', 't', 'h', '0', 2, 8, 's', 'w', 'i', 't', 'c', 'h', '-', '7'}, []byte(got))
}

func TestDecode_OptionOverload(t *testing.T) {
	p := &dhcpwire.Packet{
		Op: 1, HType: 1, HLen: 6, XID: 7,
		Options: map[byte]dhcpopt.OptionValue{
			53: dhcpopt.ByteValue(1),
			52: dhcpopt.ByteValue(1), // overload: file field carries extra options
		},
	}
	raw := dhcpwire.Encode(p)

	// Stuff an extra option directly into the file field as code/len/value
	// followed by a terminator, simulating what Encode would do if it chose
	// to overload (Encode itself never overloads; this exercises Decode's
	// walk of the file field independent of whether anything produces it
	// that way).
	fileStart := 108 // 28 + 16 (chaddr) + 64 (sname)
	raw[fileStart+0] = 12 // hostname
	raw[fileStart+1] = 4
	copy(raw[fileStart+2:], []byte("host"))
	raw[fileStart+6] = 255

	decoded, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	got, ok := decoded.Options[12].(dhcpopt.StringValue)
	require.True(t, ok)
	assert.Equal(t, "host", string(got))
}

func TestDecode_PacketTooShort(t *testing.T) {
	_, err := dhcpwire.Decode(make([]byte, 100), nil, false)
	assert.ErrorIs(t, err, dhcpwire.ErrPacketTooShort)
}

func TestDecode_BadMagic(t *testing.T) {
	raw := buildDiscover(t, mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	raw[236] = 0x00
	_, err := dhcpwire.Decode(raw, nil, false)
	assert.ErrorIs(t, err, dhcpwire.ErrBadMagic)
}

func TestDecode_TruncatedOption(t *testing.T) {
	raw := buildDiscover(t, mustMAC(t, "aa:bb:cc:dd:ee:ff"))
	// Find the 53,1,<val> TLV right after the cookie and truncate the
	// buffer mid-option.
	optStart := 240
	raw = raw[:optStart+2] // code + length byte, no value, no terminator
	_, err := dhcpwire.Decode(raw, nil, false)
	assert.ErrorIs(t, err, dhcpwire.ErrTruncatedOption)
}

func TestDecode_UnrecognisedOptionSurvivesAsRaw(t *testing.T) {
	p := &dhcpwire.Packet{
		Op: 1, HType: 1, HLen: 6, XID: 1,
		Options: map[byte]dhcpopt.OptionValue{
			53:  dhcpopt.ByteValue(1),
			224: dhcpopt.BytesValue([]byte{9, 9, 9}), // site-local/unregistered
		},
	}
	raw := dhcpwire.Encode(p)
	decoded, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	got, ok := decoded.Options[224].(dhcpopt.RawValue)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9, 9}, got.Data)
}

func TestEncode_SplitsLongOptionIntoChunks(t *testing.T) {
	long := make([]byte, 300)
	for i := range long {
		long[i] = byte(i % 251)
	}
	p := &dhcpwire.Packet{
		Op: 1, HType: 1, HLen: 6, XID: 1,
		Options: map[byte]dhcpopt.OptionValue{
			53:  dhcpopt.ByteValue(1),
			125: dhcpopt.BytesValue(long),
		},
	}
	raw := dhcpwire.Encode(p)
	decoded, err := dhcpwire.Decode(raw, nil, false)
	require.NoError(t, err)
	got, ok := decoded.Options[125].(dhcpopt.RawValue)
	require.True(t, ok)
	assert.Equal(t, long, got.Data)
}
