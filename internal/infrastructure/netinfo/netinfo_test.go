package netinfo

import (
	"net"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func iface(name string, up bool, addrs ...string) psnet.InterfaceStat {
	stat := psnet.InterfaceStat{Name: name}
	if up {
		stat.Flags = []string{"up", "broadcast", "multicast"}
	}
	for _, a := range addrs {
		stat.Addrs = append(stat.Addrs, psnet.InterfaceAddr{Addr: a})
	}
	return stat
}

func TestPickIPv4(t *testing.T) {
	tests := []struct {
		name   string
		ifaces psnet.InterfaceStatList
		want   string
	}{
		{
			name: "wifi behind loopback and docker",
			ifaces: psnet.InterfaceStatList{
				iface("lo", true, "127.0.0.1/8"),
				iface("docker0", true, "172.17.0.1/16"),
				iface("wlan0", true, "fe80::1/64", "192.168.1.20/24"),
			},
			want: "192.168.1.20",
		},
		{
			name: "down interface skipped",
			ifaces: psnet.InterfaceStatList{
				iface("eth0", false, "10.0.0.5/24"),
				iface("wlan0", true, "192.168.1.21/24"),
			},
			want: "192.168.1.21",
		},
		{
			name: "private preferred over public",
			ifaces: psnet.InterfaceStatList{
				iface("eth0", true, "203.0.113.7/24"),
				iface("eth1", true, "10.1.2.3/8"),
			},
			want: "10.1.2.3",
		},
		{
			name:   "public when nothing private",
			ifaces: psnet.InterfaceStatList{iface("eth0", true, "203.0.113.7/24")},
			want:   "203.0.113.7",
		},
		{
			name:   "link-local ignored",
			ifaces: psnet.InterfaceStatList{iface("eth0", true, "169.254.10.10/16", "192.168.0.2")},
			want:   "192.168.0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickIPv4(tt.ifaces)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickIPv4_NoAddress(t *testing.T) {
	_, err := pickIPv4(psnet.InterfaceStatList{iface("lo", true, "127.0.0.1/8")})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestLocalIPv4OrFallback(t *testing.T) {
	ip := net.ParseIP(LocalIPv4OrFallback())
	require.NotNil(t, ip)
	assert.NotNil(t, ip.To4())
}
