package fetch

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// The fetch tool takes model-chosen URLs, so every private or
// link-local destination is treated as hostile.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"metadata.google.internal": true,
}

var blockedSuffixes = []string{".localhost", ".local", ".internal"}

// hostGuard validates the destination before any request leaves the
// machine. Package variable so tests can point fetches at loopback.
var hostGuard = validatePublicHost

// validatePublicHost rejects hosts that are blocked by name, parse as a
// private address, or resolve to one.
func validatePublicHost(host string) error {
	h := strings.ToLower(strings.TrimSpace(host))
	h = strings.TrimSuffix(h, ".")
	h = strings.Trim(h, "[]")
	if h == "" {
		return fmt.Errorf("empty host")
	}
	if blockedHosts[h] {
		return fmt.Errorf("blocked host %q", host)
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(h, suffix) {
			return fmt.Errorf("blocked host %q", host)
		}
	}
	if addr, err := netip.ParseAddr(h); err == nil {
		if isPrivateAddr(addr) {
			return fmt.Errorf("%q is a private address", host)
		}
		return nil
	}
	ips, err := net.LookupIP(h)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, ip := range ips {
		if addr, ok := netip.AddrFromSlice(ip); ok && isPrivateAddr(addr) {
			return fmt.Errorf("%q resolves to a private address", host)
		}
	}
	return nil
}

// Carrier-grade NAT, not covered by Addr.IsPrivate.
var cgNAT = netip.MustParsePrefix("100.64.0.0/10")

func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsUnspecified() ||
		cgNAT.Contains(addr)
}
