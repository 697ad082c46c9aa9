// Package netguard classifies remote addresses the pipeline should never
// analyze: loopback, RFC1918, link-local and other non-routable ranges.
// Connections inside these ranges are local machinery, not browsing.
package netguard

import "net"

// LocalCIDRs are ranges whose remote endpoints are skipped by the sampler.
var LocalCIDRs = func() []*net.IPNet {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918 / Docker bridge networks
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // link-local
		"0.0.0.0/8",      // unspecified
		"100.64.0.0/10",  // CGNAT
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local
	}
	var nets []*net.IPNet
	for _, c := range cidrs {
		_, ipNet, _ := net.ParseCIDR(c)
		nets = append(nets, ipNet)
	}
	return nets
}()

// IsLocal returns true if the IP falls within a private/internal range.
func IsLocal(ip net.IP) bool {
	if ip == nil {
		return true
	}
	for _, cidr := range LocalCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// IsLocalAddr parses a textual IP and reports whether it is local.
// Unparseable addresses are treated as local so they are never classified.
func IsLocalAddr(addr string) bool {
	return IsLocal(net.ParseIP(addr))
}
