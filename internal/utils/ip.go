package utils

import (
	"fmt"
	"net"
	"strings"
)

// Allowlist holds the networks admin requests may come from.
// An empty allowlist admits every address.
type Allowlist struct {
	nets []*net.IPNet
}

// ParseAllowlist accepts CIDR blocks and bare addresses, which are treated as /32 or /128.
func ParseAllowlist(entries []string) (*Allowlist, error) {
	a := &Allowlist{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.Contains(entry, "/") {
			ip := net.ParseIP(entry)
			if ip == nil {
				return nil, fmt.Errorf("invalid address %q", entry)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			a.nets = append(a.nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, block, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid network %q: %w", entry, err)
		}
		a.nets = append(a.nets, block)
	}
	return a, nil
}

func (a *Allowlist) Empty() bool {
	return a == nil || len(a.nets) == 0
}

// Allows reports whether ip falls inside one of the networks.
func (a *Allowlist) Allows(ip string) bool {
	if a.Empty() {
		return true
	}
	return IsAllowedIP(ip, a.nets)
}

func IsAllowedIP(ip string, nets []*net.IPNet) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, block := range nets {
		if block.Contains(parsed) {
			return true
		}
	}
	return false
}
