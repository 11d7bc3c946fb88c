package addr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flandhcp/staticdhcpd/internal/addr"
)

func TestParseMAC(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"colon delimited", "00:11:22:33:44:55", "00:11:22:33:44:55"},
		{"dash delimited", "00-11-22-33-44-55", "00:11:22:33:44:55"},
		{"dot delimited cisco style", "0011.2233.4455", "00:11:22:33:44:55"},
		{"no separators", "001122334455", "00:11:22:33:44:55"},
		{"upper case", "AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m, err := addr.ParseMAC(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, m.String())
		})
	}

	t.Run("rejects wrong digit count", func(t *testing.T) {
		_, err := addr.ParseMAC("00:11:22:33:44")
		assert.Error(t, err)
	})
}

func TestMACFromBytes(t *testing.T) {
	m, err := addr.MACFromBytes([]byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	require.NoError(t, err)
	assert.Equal(t, "00:11:22:33:44:55", m.String())

	_, err = addr.MACFromBytes([]byte{0x00, 0x11})
	assert.Error(t, err)
}

func TestMACIsZero(t *testing.T) {
	var zero addr.MAC
	assert.True(t, zero.IsZero())

	m, err := addr.ParseMAC("00:11:22:33:44:55")
	require.NoError(t, err)
	assert.False(t, m.IsZero())
}
