// Package privacy reduces client identifiers before they reach logs.
package privacy

import "net/netip"

// AnonymizeIP keeps the /24 of an IPv4 address or the /48 of an IPv6 address.
// Unparseable input is returned as "invalid".
func AnonymizeIP(ip string) string {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return "invalid"
	}
	bits := 48
	if addr.Is4() || addr.Is4In6() {
		addr = addr.Unmap()
		bits = 24
	}
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
