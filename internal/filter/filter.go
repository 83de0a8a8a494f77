// Package filter removes hosts that must never receive a deployment.
package filter

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Exclusion is one rule that takes hosts out of the eligible set
type Exclusion interface {
	// Match returns true if host must be excluded
	Match(host string) bool
	// String returns a human-readable description of the rule
	String() string
}

// AddressExclusion excludes a single address, such as the local machine or
// the default gateway
type AddressExclusion struct {
	Reason  string
	Address string
}

// NewAddressExclusion creates a rule for addr. An empty addr matches nothing.
func NewAddressExclusion(reason, addr string) *AddressExclusion {
	return &AddressExclusion{Reason: reason, Address: canonical(addr)}
}

func (e *AddressExclusion) Match(host string) bool {
	return e.Address != "" && canonical(host) == e.Address
}

func (e *AddressExclusion) String() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Address)
}

// ListExclusion excludes every address of an explicit block-list
type ListExclusion struct {
	addrs map[string]struct{}
}

// NewListExclusion creates a rule from the configured block-list
func NewListExclusion(addrs []string) *ListExclusion {
	set := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		if c := canonical(a); c != "" {
			set[c] = struct{}{}
		}
	}
	return &ListExclusion{addrs: set}
}

func (e *ListExclusion) Match(host string) bool {
	_, ok := e.addrs[canonical(host)]
	return ok
}

func (e *ListExclusion) String() string {
	if len(e.addrs) == 0 {
		return "excluded: none"
	}
	list := make([]string, 0, len(e.addrs))
	for a := range e.addrs {
		list = append(list, a)
	}
	sort.Strings(list)
	return fmt.Sprintf("excluded: %s", strings.Join(list, ","))
}

// Rules builds the exclusion rules for one run
func Rules(self, gateway string, excluded []string) []Exclusion {
	return []Exclusion{
		NewAddressExclusion("self", self),
		NewAddressExclusion("gateway", gateway),
		NewListExclusion(excluded),
	}
}

// Apply keeps the hosts no rule matches, in their original order, and reports
// the first rule that removed each excluded host.
func Apply(hosts []string, rules ...Exclusion) ([]string, map[string]Exclusion) {
	eligible := make([]string, 0, len(hosts))
	removed := make(map[string]Exclusion)

	for _, host := range hosts {
		var hit Exclusion
		for _, rule := range rules {
			if rule.Match(host) {
				hit = rule
				break
			}
		}
		if hit != nil {
			removed[host] = hit
			continue
		}
		eligible = append(eligible, host)
	}
	return eligible, removed
}

// Eligible removes self, the gateway and every explicitly excluded address
// from live. It preserves order, adds nothing and has no side effects.
func Eligible(live []string, self, gateway string, excluded []string) []string {
	eligible, _ := Apply(live, Rules(self, gateway, excluded)...)
	return eligible
}

// canonical trims s and renders parseable addresses in their standard form
// (IPv4-mapped IPv6 becomes plain IPv4). Anything else compares as is.
func canonical(s string) string {
	s = strings.TrimSpace(s)
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String()
	}
	return s
}
