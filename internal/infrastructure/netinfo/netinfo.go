// Package netinfo discovers the LAN address viewers use to reach the stream.
package netinfo

import (
	"errors"
	"net"
	"slices"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// Fallback is advertised when no usable interface is found.
const Fallback = "0.0.0.0"

var ErrNoAddress = errors.New("no usable IPv4 address")

var virtualPrefixes = []string{"lo", "veth", "docker", "br-", "virbr", "tun", "tap", "wg", "zt"}

// LocalIPv4 returns the first IPv4 address of an up, non-virtual interface.
// Private addresses win over public ones.
func LocalIPv4() (string, error) {
	interfaces, err := psnet.Interfaces()
	if err != nil {
		return "", err
	}
	return pickIPv4(interfaces)
}

// LocalIPv4OrFallback never fails.
func LocalIPv4OrFallback() string {
	ip, err := LocalIPv4()
	if err != nil {
		return Fallback
	}
	return ip
}

func pickIPv4(interfaces psnet.InterfaceStatList) (string, error) {
	var public string
	for _, iface := range interfaces {
		if !slices.Contains(iface.Flags, "up") || isVirtual(iface.Name) {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, _, err := net.ParseCIDR(addr.Addr)
			if err != nil {
				ip = net.ParseIP(addr.Addr)
			}
			ip = ip.To4()
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
				continue
			}
			if ip.IsPrivate() {
				return ip.String(), nil
			}
			if public == "" {
				public = ip.String()
			}
		}
	}
	if public != "" {
		return public, nil
	}
	return "", ErrNoAddress
}

func isVirtual(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
