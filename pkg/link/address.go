package link

import (
	"context"
	"fmt"
	"net"
	"time"
)

// interfaceAddress returns the first IPv4 address assigned to ifname.
// Link-local addresses do not count as assigned.
func interfaceAddress(ifname string) (AddressInfo, bool, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return AddressInfo{}, false, fmt.Errorf("failed to find interface %s: %w", ifname, err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return AddressInfo{}, false, fmt.Errorf("failed to list addresses of %s: %w", ifname, err)
	}

	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLinkLocalUnicast() {
			continue
		}
		return AddressInfo{Interface: ifname, IP: ip, Mask: ipnet.Mask}, true, nil
	}

	return AddressInfo{}, false, nil
}

// waitForAddress polls ifname until an address appears or ctx ends.
func waitForAddress(ctx context.Context, ifname string, poll time.Duration) (AddressInfo, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		addr, ok, err := interfaceAddress(ifname)
		if err != nil {
			return AddressInfo{}, err
		}
		if ok {
			return addr, nil
		}

		select {
		case <-ctx.Done():
			return AddressInfo{}, fmt.Errorf("waiting for address on %s: %w", ifname, ctx.Err())
		case <-ticker.C:
		}
	}
}
