package discovery

import (
	"fmt"
	"net/netip"
)

// MinPrefixLength is the widest subnet that will be enumerated
const MinPrefixLength = 16

// Candidates returns every usable host address of the IPv4 subnet containing
// local, in ascending order. Network and broadcast addresses are left out,
// except for /31 (both addresses are hosts) and /32 (the single address).
func Candidates(local netip.Addr, prefixLen int) ([]netip.Addr, error) {
	local = local.Unmap()
	if !local.Is4() {
		return nil, fmt.Errorf("local address %s is not IPv4", local)
	}
	if prefixLen < MinPrefixLength || prefixLen > 32 {
		return nil, fmt.Errorf("prefix length /%d out of range [/%d, /32]", prefixLen, MinPrefixLength)
	}

	prefix, err := local.Prefix(prefixLen)
	if err != nil {
		return nil, fmt.Errorf("failed to compute subnet for %s/%d: %w", local, prefixLen, err)
	}

	network := prefix.Addr()
	switch prefixLen {
	case 32:
		return []netip.Addr{network}, nil
	case 31:
		return []netip.Addr{network, network.Next()}, nil
	}

	size := 1 << (32 - prefixLen)
	out := make([]netip.Addr, 0, size-2)
	addr := network.Next()
	for i := 1; i < size-1; i++ {
		out = append(out, addr)
		addr = addr.Next()
	}
	return out, nil
}

// Strings renders addresses in their canonical text form
func Strings(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}
