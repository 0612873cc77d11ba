// Package allocation picks non-conflicting UDP ports and /26 subnets for new
// tenants from the current allocation records.
package allocation

import (
	"fmt"
	"net/netip"
	"slices"

	"github.com/Strob0t/VPNForge/internal/domain"
)

// SubnetBits is the prefix length of every tenant subnet.
const SubnetBits = 26

// preferredOctet is the second octet scanned first (10.10.0.0/16).
const preferredOctet = 10

// PortProbe reports whether a UDP port can be bound on the host.
type PortProbe func(port int) bool

// NextPort returns the smallest port >= max(reserved)+1 (or first when
// nothing is reserved) that is neither reserved nor rejected by probe.
// Gaps below the highest reserved port are not backfilled.
func NextPort(reserved []int, first, last int, probe PortProbe) (int, error) {
	start := first
	if len(reserved) > 0 {
		if hi := slices.Max(reserved) + 1; hi > start {
			start = hi
		}
	}

	taken := make(map[int]struct{}, len(reserved))
	for _, p := range reserved {
		taken[p] = struct{}{}
	}

	for p := start; p <= last; p++ {
		if _, ok := taken[p]; ok {
			continue
		}
		if probe != nil && !probe(p) {
			continue
		}
		return p, nil
	}
	return 0, fmt.Errorf("no free udp port in %d..%d: %w", start, last, domain.ErrResourceExhausted)
}

// NextSubnet returns the first /26 that overlaps nothing in taken. It scans
// 10.10.0.0/16 first, ordered by third octet, then the rest of 10.0.0.0/8.
// Within a /16 the .0/26 of every third octet is handed out before any
// .64/26, so tenants land in distinct /24s while space allows.
// Unparsable entries in taken are ignored.
func NextSubnet(taken []string) (string, error) {
	used := newOccupancy(taken)

	if p, ok := scanBlock(preferredOctet, used); ok {
		return p.String(), nil
	}
	for second := 0; second <= 255; second++ {
		if second == preferredOctet {
			continue
		}
		if p, ok := scanBlock(byte(second), used); ok {
			return p.String(), nil
		}
	}
	return "", fmt.Errorf("no free /%d in 10.0.0.0/8: %w", SubnetBits, domain.ErrResourceExhausted)
}

// occupancy answers whether a /26 candidate collides with a taken prefix.
// Prefixes of /26 or longer collapse onto the /26 that contains them;
// wider ones (e.g. a /24 added as an extra network) are checked by overlap.
type occupancy struct {
	exact map[netip.Prefix]struct{}
	wide  []netip.Prefix
}

func newOccupancy(taken []string) occupancy {
	o := occupancy{exact: make(map[netip.Prefix]struct{}, len(taken))}
	for _, s := range taken {
		p, err := netip.ParsePrefix(s)
		if err != nil || !p.Addr().Is4() {
			continue
		}
		if p.Bits() >= SubnetBits {
			o.exact[netip.PrefixFrom(p.Addr(), SubnetBits).Masked()] = struct{}{}
			continue
		}
		o.wide = append(o.wide, p.Masked())
	}
	return o
}

func (o occupancy) collides(p netip.Prefix) bool {
	if _, ok := o.exact[p]; ok {
		return true
	}
	for _, w := range o.wide {
		if w.Overlaps(p) {
			return true
		}
	}
	return false
}

// scanBlock walks 10.<second>.0.0/16 in /26 steps.
func scanBlock(second byte, used occupancy) (netip.Prefix, bool) {
	for _, w := range used.wide {
		if w.Bits() <= 16 && w.Contains(netip.AddrFrom4([4]byte{10, second, 0, 0})) {
			return netip.Prefix{}, false
		}
	}
	for fourth := 0; fourth < 256; fourth += 64 {
		for third := 0; third <= 255; third++ {
			p := netip.PrefixFrom(netip.AddrFrom4([4]byte{10, second, byte(third), byte(fourth)}), SubnetBits)
			if !used.collides(p) {
				return p, true
			}
		}
	}
	return netip.Prefix{}, false
}

// NormalizeSubnet parses an IPv4 CIDR and returns its masked canonical form.
func NormalizeSubnet(cidr string) (string, error) {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return "", domain.Validationf("invalid subnet %q", cidr)
	}
	if !p.Addr().Is4() {
		return "", domain.Validationf("subnet %q is not IPv4", cidr)
	}
	return p.Masked().String(), nil
}

// Overlapping returns the first entry of taken that overlaps cidr, or "".
func Overlapping(cidr string, taken []string) string {
	p, err := netip.ParsePrefix(cidr)
	if err != nil {
		return ""
	}
	for _, s := range taken {
		q, err := netip.ParsePrefix(s)
		if err != nil {
			continue
		}
		if p.Overlaps(q) {
			return s
		}
	}
	return ""
}
