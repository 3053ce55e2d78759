package permission

import (
	"net/netip"

	"github.com/org/secretplane/internal/apperr"
	"github.com/org/secretplane/pkg/models"
)

// CheckAgainstBlocklist verifies an inbound address against a credential's
// trusted-IP allowlist. The list is an allowlist expressed as the complement
// of a blocklist: every address not covered by an entry is blocked. Entries
// support exact addresses and CIDR prefixes for both IPv4 and IPv6, keyed
// by an explicit type tag since the string form alone is ambiguous.
//
// An empty list means the credential carries no restriction. The default
// entries 0.0.0.0/0 and ::/0 make the feature opt-in.
func CheckAgainstBlocklist(ipAddress string, trustedIPs []models.TrustedIP) error {
	if len(trustedIPs) == 0 {
		return nil
	}
	addr, err := netip.ParseAddr(ipAddress)
	if err != nil {
		return apperr.Unauthorized("malformed client IP address %q", ipAddress)
	}
	addr = addr.Unmap()

	for _, entry := range trustedIPs {
		base, err := netip.ParseAddr(entry.IPAddress)
		if err != nil {
			continue
		}
		base = base.Unmap()
		if base.Is4() != (entry.Type == models.IPv4) {
			continue
		}
		if entry.Prefix != nil {
			prefix, err := base.Prefix(*entry.Prefix)
			if err != nil {
				continue
			}
			if prefix.Contains(addr) {
				return nil
			}
			continue
		}
		if base == addr {
			return nil
		}
	}
	return apperr.Unauthorized("access denied: %s is not a trusted IP", ipAddress)
}
