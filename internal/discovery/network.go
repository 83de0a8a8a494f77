package discovery

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/netip"
	"os/exec"
	"strings"
)

// LocalAddress returns the IPv4 address of the interface that carries the
// default route. Connecting a UDP socket sends no packets; it only asks the
// kernel to pick a source address.
func LocalAddress() (netip.Addr, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return netip.Addr{}, fmt.Errorf("cannot determine local address: %w", err)
	}
	defer conn.Close()

	udp, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return netip.Addr{}, fmt.Errorf("cannot determine local address: unexpected %T", conn.LocalAddr())
	}
	addr, ok := netip.AddrFromSlice(udp.IP)
	if !ok || !addr.Unmap().Is4() || addr.IsUnspecified() {
		return netip.Addr{}, fmt.Errorf("cannot determine local address: got %v", udp.IP)
	}
	return addr.Unmap(), nil
}

// ResolveLocalAddress parses override when set and otherwise asks the kernel
func ResolveLocalAddress(override string) (netip.Addr, error) {
	if override = strings.TrimSpace(override); override != "" {
		addr, err := netip.ParseAddr(override)
		if err != nil || !addr.Unmap().Is4() {
			return netip.Addr{}, fmt.Errorf("invalid local address %q", override)
		}
		return addr.Unmap(), nil
	}
	return LocalAddress()
}

// RouteLookup finds the default gateway. Callers treat any error as "no
// gateway".
type RouteLookup interface {
	DefaultGateway(ctx context.Context) (string, error)
}

// IPRouteLookup reads the routing table with `ip route`
type IPRouteLookup struct {
	output func(ctx context.Context) ([]byte, error)
}

// NewIPRouteLookup creates a lookup backed by the ip tool
func NewIPRouteLookup() *IPRouteLookup {
	return &IPRouteLookup{
		output: func(ctx context.Context) ([]byte, error) {
			return exec.CommandContext(ctx, "ip", "route").Output()
		},
	}
}

func (l *IPRouteLookup) DefaultGateway(ctx context.Context) (string, error) {
	out, err := l.output(ctx)
	if err != nil {
		return "", fmt.Errorf("ip route failed: %w", err)
	}
	return ParseDefaultGateway(string(out))
}

// ParseDefaultGateway returns the third field of the first line that starts
// with "default", as in "default via 192.168.1.1 dev eth0".
func ParseDefaultGateway(table string) (string, error) {
	s := bufio.NewScanner(strings.NewReader(table))
	for s.Scan() {
		line := s.Text()
		if !strings.HasPrefix(line, "default") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return "", fmt.Errorf("malformed default route %q", line)
		}
		return fields[2], nil
	}
	return "", fmt.Errorf("no default route")
}

// StaticRoute is a RouteLookup with a fixed answer
type StaticRoute string

func (s StaticRoute) DefaultGateway(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no default route")
	}
	return string(s), nil
}
