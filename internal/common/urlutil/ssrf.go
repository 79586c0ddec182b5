package urlutil

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// blockedRanges contains loopback, unspecified and RFC 1918 ranges that the
// render endpoint refuses to fetch.
var blockedRanges []*net.IPNet

func init() {
	cidrs := []string{
		"127.0.0.0/8",    // loopback
		"0.0.0.0/8",      // unspecified / "this" network
		"10.0.0.0/8",     // RFC 1918
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"::1/128",        // IPv6 loopback
	}

	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blocked ranges: %s", cidr))
		}
		blockedRanges = append(blockedRanges, ipNet)
	}
}

// IsBlockedIP returns true if the given IP belongs to a blocked range.
func IsBlockedIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, ipNet := range blockedRanges {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateRenderURL checks that a URL is safe for the render endpoint to
// fetch. It rejects non-HTTP schemes and IP literals in blocked ranges.
// The hostname "localhost" is allowed for local development; domain names
// pass through without DNS resolution.
func ValidateRenderURL(raw string) (*url.URL, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", parsed.Scheme)
	}

	hostname := parsed.Hostname()
	if hostname == "" {
		return nil, fmt.Errorf("URL has no host")
	}

	if strings.EqualFold(hostname, "localhost") {
		return parsed, nil
	}

	if ip := net.ParseIP(hostname); ip != nil && IsBlockedIP(ip) {
		return nil, fmt.Errorf("host resolves to a private or reserved address: %s", hostname)
	}

	return parsed, nil
}
