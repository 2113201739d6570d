// Package bridge ties request-time rate limiting to the response
// orchestration pipeline.
package bridge

import (
	"encoding/binary"
	"net"
	"strconv"
	"strings"

	"github.com/pixelatedempathy/aegis/internal/ratelimit"
)

// BypassRules exempts configured roles, IP ranges, and endpoints from the
// severity-tiered limits. A bypassed request is still recorded against an
// effectively-unlimited rule, never skipped outright, for observability.
type BypassRules struct {
	AllowedRoles     map[string]struct{}
	AllowedIPRanges  []string
	AllowedEndpoints map[string]struct{}
}

// NewBypassRules builds the rule set from configured slices.
func NewBypassRules(roles, ipRanges, endpoints []string) BypassRules {
	b := BypassRules{
		AllowedRoles:     make(map[string]struct{}, len(roles)),
		AllowedIPRanges:  append([]string(nil), ipRanges...),
		AllowedEndpoints: make(map[string]struct{}, len(endpoints)),
	}
	for _, r := range roles {
		b.AllowedRoles[r] = struct{}{}
	}
	for _, e := range endpoints {
		b.AllowedEndpoints[e] = struct{}{}
	}
	return b
}

// Matches reports whether the request context qualifies for bypass.
func (b BypassRules) Matches(rc ratelimit.CheckContext) bool {
	if rc.Role != "" {
		if _, ok := b.AllowedRoles[rc.Role]; ok {
			return true
		}
	}
	if rc.Endpoint != "" {
		if _, ok := b.AllowedEndpoints[rc.Endpoint]; ok {
			return true
		}
	}
	if rc.IP != "" {
		for _, entry := range b.AllowedIPRanges {
			if ipMatches(rc.IP, entry) {
				return true
			}
		}
	}
	return false
}

// ipMatches tests an address against a bypass entry: exact string match,
// or IPv4 CIDR containment via integer masking. IPv6 matches only the
// literal loopback form; IPv6 CIDR entries never match (known limitation,
// which fails closed for bypass).
func ipMatches(ip, entry string) bool {
	if ip == entry {
		return true
	}
	if ip == "::1" {
		return entry == "::1"
	}
	if !strings.Contains(entry, "/") {
		return false
	}

	parts := strings.SplitN(entry, "/", 2)
	network := ipv4ToUint32(parts[0])
	addr := ipv4ToUint32(ip)
	if network == nil || addr == nil {
		return false
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return false
	}

	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	return *addr&mask == *network&mask
}

func ipv4ToUint32(s string) *uint32 {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	v4 := ip.To4()
	if v4 == nil {
		return nil
	}
	out := binary.BigEndian.Uint32(v4)
	return &out
}
