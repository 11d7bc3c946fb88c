package addr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

func TestParseIPv4(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		ip, err := addr.ParseIPv4("192.168.0.100")
		require.NoError(t, err)
		assert.Equal(t, "192.168.0.100", ip.String())
		assert.Equal(t, [4]byte{192, 168, 0, 100}, ip.Bytes())
	})

	t.Run("rejects wrong octet count", func(t *testing.T) {
		_, err := addr.ParseIPv4("192.168.0")
		assert.Error(t, err)
	})

	t.Run("rejects out of range octet", func(t *testing.T) {
		_, err := addr.ParseIPv4("192.168.0.999")
		assert.Error(t, err)
	})
}

func TestIPv4Views(t *testing.T) {
	ip := addr.IPv4FromUint32(0xC0A80001)
	assert.Equal(t, "192.168.0.1", ip.String())
	assert.Equal(t, [4]byte{0xC0, 0xA8, 0x00, 0x01}, ip.Bytes())
	assert.Equal(t, uint32(0xC0A80001), ip.Uint32())

	b := ip.Bytes()
	fromBytes, err := addr.IPv4FromBytes(b[:])
	require.NoError(t, err)
	assert.True(t, ip.Equal(fromBytes))

	_, err = addr.IPv4FromBytes([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestIsSubnetMember(t *testing.T) {
	self, err := addr.ParseIPv4("192.168.0.1")
	require.NoError(t, err)
	mask, err := addr.MaskFromPrefix(24)
	require.NoError(t, err)

	member, err := addr.ParseIPv4("192.168.0.250")
	require.NoError(t, err)
	assert.True(t, self.IsSubnetMember(member, mask))

	nonMember, err := addr.ParseIPv4("192.168.1.250")
	require.NoError(t, err)
	assert.False(t, self.IsSubnetMember(nonMember, mask))

	// Property: is_subnet_member(a, a, M) == true.
	assert.True(t, self.IsSubnetMember(self, mask))
}

func TestParseSubnet(t *testing.T) {
	t.Run("CIDR form", func(t *testing.T) {
		address, mask, err := addr.ParseSubnet("10.50.0.0/16")
		require.NoError(t, err)
		assert.Equal(t, "10.50.0.0", address.String())
		assert.Equal(t, "255.255.0.0", mask.String())
	})

	t.Run("dotted-mask form", func(t *testing.T) {
		address, mask, err := addr.ParseSubnet("192.168.0.0/255.255.255.0")
		require.NoError(t, err)
		assert.Equal(t, "192.168.0.0", address.String())
		assert.Equal(t, "255.255.255.0", mask.String())
	})

	t.Run("rejects missing slash", func(t *testing.T) {
		_, _, err := addr.ParseSubnet("192.168.0.0")
		assert.Error(t, err)
	})
}

func TestMaskFromPrefix(t *testing.T) {
	m, err := addr.MaskFromPrefix(24)
	require.NoError(t, err)
	assert.Equal(t, "255.255.255.0", m.String())

	_, err = addr.MaskFromPrefix(33)
	assert.Error(t, err)
}
