// Package guard classifies hostnames and IP literals as private/blocked,
// protecting the Outbound HTTP Bridge against SSRF and DNS rebinding.
package guard

import (
	"fmt"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// Classification names why an address was blocked.
type Classification string

const (
	NotBlocked        Classification = ""
	Loopback          Classification = "loopback"
	Private           Classification = "private"
	LinkLocal         Classification = "link-local"
	UniqueLocal       Classification = "unique-local"
	Unspecified       Classification = "unspecified"
	MulticastReserved Classification = "multicast-reserved"
)

var blockedNets []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // IPv4 private
		"172.16.0.0/12",  // IPv4 private
		"192.168.0.0/16", // IPv4 private
		"169.254.0.0/16", // IPv4 link-local
		"100.64.0.0/10",  // carrier-grade NAT, treated as private
		"224.0.0.0/4",    // IPv4 multicast
		"240.0.0.0/4",    // IPv4 reserved
		"0.0.0.0/8",      // "this network"
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique-local
	}
	for _, cidr := range cidrs {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("guard: invalid CIDR %q: %v", cidr, err))
		}
		blockedNets = append(blockedNets, ipnet)
	}
}

// BlockedAddress reports that host failed the guard.
type BlockedAddress struct {
	Host string
}

func (e *BlockedAddress) Error() string {
	return fmt.Sprintf("BlockedAddress: %s", e.Host)
}

// ClassifyIP names the reason ip is blocked, or NotBlocked if it is a
// routable public address.
func ClassifyIP(ip net.IP) Classification {
	if ip.IsUnspecified() {
		return Unspecified
	}
	if ip.IsLoopback() {
		return Loopback
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return LinkLocal
	}
	if ip.IsMulticast() {
		return MulticastReserved
	}
	if ip4 := ip.To4(); ip4 != nil {
		for _, n := range blockedNets {
			if n.Contains(ip4) {
				return Private
			}
		}
		return NotBlocked
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			if strings.HasPrefix(n.String(), "fc00::") {
				return UniqueLocal
			}
			return Private
		}
	}
	return NotBlocked
}

// IsBlocked reports whether host is an IP literal classified as blocked.
// DNS names are not IP literals and are never blocked by this call alone
// — resolved answers must be checked separately by the dialer.
func IsBlocked(host string) bool {
	ip := parseLiteral(host)
	if ip == nil {
		return false
	}
	return ClassifyIP(ip) != NotBlocked
}

// GuardOrFail checks host if it parses as an IP literal, failing with
// *BlockedAddress on a match. Non-IP hostnames pass through unchecked.
func GuardOrFail(host string) error {
	if IsBlocked(host) {
		return &BlockedAddress{Host: host}
	}
	return nil
}

// parseLiteral parses host (optionally bracketed, e.g. "[::1]") as an IP
// literal after IDNA normalization. Returns nil for DNS names.
func parseLiteral(host string) net.IP {
	h := Canonicalize(strings.TrimPrefix(strings.TrimSuffix(host, "]"), "["))
	if ip := net.ParseIP(h); ip != nil {
		return ip
	}
	return nil
}

// Canonicalize lowercases and IDNA-normalizes a hostname for comparison
// and logging, the way a production fetch bridge canonicalizes a host
// before classifying it.
func Canonicalize(host string) string {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	if ascii, err := idna.Lookup.ToASCII(h); err == nil {
		return ascii
	}
	return h
}
