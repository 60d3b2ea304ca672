// Package network holds the IP predicates behind the gateway's optional
// egress guard: deployments that relay only to public providers can refuse
// upstream dials into private address space.
package network

import "net"

// IsInternalIP reports whether ip belongs to address space the egress guard
// refuses: loopback, RFC 1918, link-local, multicast, unspecified and
// carrier-grade NAT (100.64.0.0/10).
func IsInternalIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() || ip.IsInterfaceLocalMulticast() {
		return true
	}
	return isCarrierGradeNAT(ip)
}

func isCarrierGradeNAT(ip net.IP) bool {
	v4 := ip.To4()
	if v4 == nil {
		return false
	}
	return v4[0] == 100 && v4[1]&0xc0 == 0x40
}
