package discovery

import (
	"net"
)

// selected is the outcome of local interface/address selection (spec §4.3).
type selected struct {
	ip        net.IP
	broadcast net.IP
	allAddrs  []string // every IPv4 address of this host, including 127.0.0.1
}

// privateRanges are the "common private range" CIDRs spec §4.3 prefers.
var privateRanges = []*net.IPNet{
	mustParseCIDR("192.168.0.0/16"),
	mustParseCIDR("10.0.0.0/8"),
	mustParseCIDR("172.16.0.0/12"),
}

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func isPrivate(ip net.IP) bool {
	for _, r := range privateRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// selectInterface implements spec §4.3's selection preference order:
//  1. an address on a common private range that is not loopback/link-local;
//  2. otherwise the first non-loopback IPv4 address;
//  3. otherwise 127.0.0.1 with broadcast 255.255.255.255.
//
// It also records the full set of this host's IPv4 addresses, including
// 127.0.0.1, for self-filtering.
func selectInterface() (selected, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallbackSelection(), nil
	}

	var privateCandidate, firstCandidate *net.IPNet
	allAddrs := map[string]struct{}{"127.0.0.1": {}}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			allAddrs[ip4.String()] = struct{}{}

			if ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			candidate := &net.IPNet{IP: ip4, Mask: ipnet.Mask}
			if isPrivate(ip4) && privateCandidate == nil {
				privateCandidate = candidate
			}
			if firstCandidate == nil {
				firstCandidate = candidate
			}
		}
	}

	addrList := make([]string, 0, len(allAddrs))
	for a := range allAddrs {
		addrList = append(addrList, a)
	}

	chosen := privateCandidate
	if chosen == nil {
		chosen = firstCandidate
	}
	if chosen == nil {
		fb := fallbackSelection()
		fb.allAddrs = addrList
		return fb, nil
	}

	return selected{
		ip:        chosen.IP,
		broadcast: broadcastAddr(chosen),
		allAddrs:  addrList,
	}, nil
}

// SelectInterface chooses the local IPv4 address and broadcast address
// Discovery binds to, applying spec §4.3's preference order, and returns
// the full set of this host's addresses for self-filtering. If override
// is non-empty it is used as the bind address directly (its broadcast
// address cannot be derived without a netmask, so 255.255.255.255 is
// used), matching the bind-address override variable spec §6 reserves.
func SelectInterface(override string) (ip, broadcast net.IP, allAddrs []string, err error) {
	if override != "" {
		parsed := net.ParseIP(override)
		if parsed == nil {
			return nil, nil, nil, &net.AddrError{Err: "invalid bind address override", Addr: override}
		}
		s, selErr := selectInterface()
		if selErr != nil {
			s = fallbackSelection()
		}
		return parsed, net.IPv4(255, 255, 255, 255), s.allAddrs, nil
	}

	s, err := selectInterface()
	if err != nil {
		return nil, nil, nil, err
	}
	return s.ip, s.broadcast, s.allAddrs, nil
}

func fallbackSelection() selected {
	return selected{
		ip:        net.ParseIP("127.0.0.1"),
		broadcast: net.ParseIP("255.255.255.255"),
		allAddrs:  []string{"127.0.0.1"},
	}
}

// broadcastAddr computes ip | ~netmask (spec §6), falling back to the
// general IPv4 broadcast address if the network carries no usable mask.
// Grounded on lib/beacon/broadcast.go's bcast() helper in the teacher.
func broadcastAddr(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	if len(mask) != 4 || ip == nil {
		return net.IPv4(255, 255, 255, 255)
	}
	bc := make(net.IP, 4)
	for i := range bc {
		bc[i] = ip[i] | ^mask[i]
	}
	return bc
}
