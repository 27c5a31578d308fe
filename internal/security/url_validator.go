// Package security validates user supplied URLs and redacts secrets before
// they reach the logs.
package security

import (
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// URL validation errors.
var (
	ErrInvalidURL       = errors.New("invalid URL")
	ErrBlockedScheme    = errors.New("URL scheme not allowed")
	ErrMissingHost      = errors.New("URL has no host")
	ErrPrivateIPBlocked = errors.New("private/internal IP addresses are not allowed")
	ErrLocalhostBlocked = errors.New("localhost URLs are not allowed")
	ErrMetadataBlocked  = errors.New("cloud metadata URLs are not allowed")
)

// AllowedSchemes defines the permitted target URL schemes.
var AllowedSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// blockedHosts are names that only resolve inside a private network.
var blockedHosts = map[string]bool{
	"localhost":                true,
	"localhost.localdomain":    true,
	"local":                    true,
	"ip6-localhost":            true,
	"ip6-loopback":             true,
	"metadata.google.internal": true,
	"metadata":                 true,
	"instance-data":            true,
}

// cloudMetadataIPs are the metadata endpoints of the common cloud providers.
var cloudMetadataIPs = []net.IP{
	net.ParseIP("169.254.169.254"), // AWS, GCP, Azure, DigitalOcean, OpenStack
	net.ParseIP("169.254.170.2"),   // AWS ECS task metadata
	net.ParseIP("100.100.100.200"), // Alibaba Cloud
	net.ParseIP("192.0.0.192"),     // Oracle Cloud
	net.ParseIP("fd00:ec2::254"),   // AWS IPv6
}

// ValidateTargetURL checks that rawURL is a public http(s) URL worth handing
// to the resolver site.
//
// Hosts are checked by name and, when they are IP literals in any encoding,
// by address. Names are not resolved: the URL is fetched by the resolver
// site, never by this service.
func ValidateTargetURL(rawURL string) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ErrInvalidURL
	}
	if !AllowedSchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedScheme
	}

	hostname := strings.TrimSuffix(strings.ToLower(parsed.Hostname()), ".")
	if hostname == "" {
		return ErrMissingHost
	}
	return validateHost(hostname)
}

func validateHost(hostname string) error {
	if isLocalHostname(hostname) {
		return ErrLocalhostBlocked
	}
	if ip := parseIP(hostname); ip != nil {
		return validateIP(ip)
	}
	return nil
}

func isLocalHostname(hostname string) bool {
	return blockedHosts[hostname] ||
		strings.HasSuffix(hostname, ".localhost") ||
		strings.HasPrefix(hostname, "localhost.")
}

// parseIP parses hostname as an IP address, accepting the decimal, octal,
// hex and shortened IPv4 forms browsers accept. Returns nil for names.
func parseIP(hostname string) net.IP {
	if ip := net.ParseIP(hostname); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4
		}
		return ip
	}

	// Single number, e.g. 2130706433 for 127.0.0.1
	if n, err := parseIntWithBase(hostname); err == nil && n <= 0xFFFFFFFF {
		return net.IPv4(byte(n>>24), byte(n>>16), byte(n>>8), byte(n)).To4()
	}

	parts := strings.Split(hostname, ".")
	switch len(parts) {
	case 4:
		var octets [4]byte
		for i, part := range parts {
			v, err := parseIntWithBase(part)
			if err != nil || v > 255 {
				return nil
			}
			octets[i] = byte(v)
		}
		return net.IPv4(octets[0], octets[1], octets[2], octets[3]).To4()
	case 2:
		// 127.1 means 127.0.0.1
		first, err1 := parseIntWithBase(parts[0])
		rest, err2 := parseIntWithBase(parts[1])
		if err1 == nil && err2 == nil && first <= 255 && rest <= 0xFFFFFF {
			return net.IPv4(byte(first), byte(rest>>16), byte(rest>>8), byte(rest)).To4()
		}
	}
	return nil
}

// parseIntWithBase parses a decimal, octal (0 prefix) or hex (0x prefix) integer.
func parseIntWithBase(s string) (uint64, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	if len(s) > 1 && s[0] == '0' {
		return strconv.ParseUint(s[1:], 8, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func validateIP(ip net.IP) error {
	switch {
	case ip.IsLoopback():
		return ErrLocalhostBlocked
	case isCloudMetadataIP(ip):
		return ErrMetadataBlocked
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast(), ip.IsUnspecified():
		return ErrPrivateIPBlocked
	}
	return nil
}

func isCloudMetadataIP(ip net.IP) bool {
	for _, m := range cloudMetadataIPs {
		if ip.Equal(m) {
			return true
		}
	}
	return false
}

// Proxy URL validation errors.
var (
	ErrInvalidProxyURL    = errors.New("invalid proxy URL")
	ErrBlockedProxyScheme = errors.New("proxy URL scheme not allowed (must be http, https, socks4, or socks5)")
)

// AllowedProxySchemes defines the permitted schemes for proxy URLs.
var AllowedProxySchemes = map[string]bool{
	"http":   true,
	"https":  true,
	"socks4": true,
	"socks5": true,
}

// ValidateProxyURL validates the browser egress proxy. Private and loopback
// proxies are only accepted when allowPrivate is set, since a local proxy
// sidecar is a common deployment.
func ValidateProxyURL(proxyURL string, allowPrivate bool) error {
	if proxyURL == "" {
		return nil
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return ErrInvalidProxyURL
	}
	if !AllowedProxySchemes[strings.ToLower(parsed.Scheme)] {
		return ErrBlockedProxyScheme
	}
	if parsed.Host == "" {
		return ErrInvalidProxyURL
	}
	if allowPrivate {
		return nil
	}
	return validateHost(strings.ToLower(parsed.Hostname()))
}
