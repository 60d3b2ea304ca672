package network

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsInternalIP(t *testing.T) {
	t.Parallel()

	internal := []string{
		"127.0.0.1",
		"10.0.0.1",
		"172.16.5.4",
		"192.168.1.1",
		"169.254.0.1",
		"100.64.0.1",
		"100.127.255.254",
		"0.0.0.0",
		"::1",
		"fe80::1",
		"fc00::1",
	}
	for _, raw := range internal {
		require.True(t, IsInternalIP(net.ParseIP(raw)), raw)
	}

	public := []string{
		"8.8.8.8",
		"1.1.1.1",
		"100.63.255.255",
		"100.128.0.1",
		"2001:4860:4860::8888",
	}
	for _, raw := range public {
		require.False(t, IsInternalIP(net.ParseIP(raw)), raw)
	}

	require.True(t, IsInternalIP(nil))
}
