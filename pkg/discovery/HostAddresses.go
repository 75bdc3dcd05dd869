// Package discovery with lookup of the network addresses of this host
package discovery

import (
	"net"

	"github.com/sirupsen/logrus"
)

// GetHostAddresses returns the IP addresses of the interfaces that are up, excluding loopback
// and link-local addresses. These are the addresses a broker on this host can be reached on.
func GetHostAddresses() ([]string, error) {
	result := make([]string, 0)
	ifaces, err := net.Interfaces()
	if err != nil {
		logrus.Errorf("GetHostAddresses: %s", err)
		return nil, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		// ignore interfaces without address
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			logrus.Debugf("GetHostAddresses: interface %s has %s", iface.Name, ipNet.IP)
			result = append(result, ipNet.IP.String())
		}
	}
	return result, nil
}
