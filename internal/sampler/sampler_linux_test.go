//go:build linux

package sampler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexAddrIPv4(t *testing.T) {
	// 0100007F is 127.0.0.1 in /proc/net/tcp's little-endian encoding.
	addr, port, err := parseHexAddr("0100007F:0050")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", addr)
	assert.Equal(t, 80, port)

	addr, port, err = parseHexAddr("22D8B85D:01BB")
	require.NoError(t, err)
	assert.Equal(t, "93.184.216.34", addr)
	assert.Equal(t, 443, port)
}

func TestParseHexAddrIPv6(t *testing.T) {
	addr, port, err := parseHexAddr("00000000000000000000000001000000:1F90")
	require.NoError(t, err)
	assert.Equal(t, "::1", addr)
	assert.Equal(t, 8080, port)
}

func TestParseHexAddrMalformed(t *testing.T) {
	_, _, err := parseHexAddr("nonsense")
	assert.Error(t, err)

	_, _, err = parseHexAddr("0100007F:zz")
	assert.Error(t, err)
}
