// Package validator gates inbound and redirect-target URLs before the
// fetcher is allowed to touch them. See spec §4.1.
package validator

import (
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/yourname/notion-image-proxy/internal/apperr"
)

const maxURLLength = 4096

// AllowedHosts is a case-insensitive exact-match set of upstream hosts.
type AllowedHosts map[string]struct{}

// NewAllowedHosts builds an AllowedHosts set from a comma-separated list.
func NewAllowedHosts(csv string) AllowedHosts {
	out := make(AllowedHosts)
	for _, h := range strings.Split(csv, ",") {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			out[h] = struct{}{}
		}
	}
	return out
}

func (a AllowedHosts) allowed(host string) bool {
	_, ok := a[strings.ToLower(host)]
	return ok
}

// Validate runs the ordered gates described in spec §4.1 and returns the
// parsed URL on success.
func Validate(raw string, allowed AllowedHosts) (*url.URL, *apperr.Error) {
	if raw == "" {
		return nil, apperr.New(400, apperr.CodeMissingURL, "url parameter is required")
	}
	if len(raw) > maxURLLength {
		return nil, apperr.New(400, apperr.CodeURLTooLong, "url exceeds maximum length")
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, apperr.New(400, apperr.CodeInvalidURL, "url could not be parsed")
	}
	if u.Scheme != "https" {
		return nil, apperr.New(400, apperr.CodeHTTPSRequired, "only https urls are accepted")
	}
	if u.User != nil {
		return nil, apperr.New(400, apperr.CodeCredentialsInURL, "url must not contain userinfo")
	}
	host := u.Hostname()
	if isPrivateHost(host) {
		return nil, apperr.New(403, apperr.CodePrivateHost, "url resolves to a private or reserved host")
	}
	if !allowed.allowed(host) {
		return nil, apperr.New(403, apperr.CodeDomainNotAllowed, "host is not in the allowed domain list")
	}
	return u, nil
}

// isPrivateHost implements the predicate in spec §4.1.
func isPrivateHost(host string) bool {
	h := strings.ToLower(host)
	if h == "localhost" {
		return true
	}
	if strings.HasSuffix(h, ".local") || strings.HasSuffix(h, ".internal") {
		return true
	}

	ip := net.ParseIP(stripZone(h))
	if ip == nil {
		// Not a literal IP; strict decimal IPv4 check covers octal/leading-zero
		// bypass attempts that net.ParseIP would otherwise accept or reject
		// inconsistently.
		if looksLikeIPv4(h) {
			if v4, ok := parseStrictIPv4(h); ok {
				return ipv4InPrivateRanges(v4[:])
			}
		}
		return false
	}

	if ip4 := ip.To4(); ip4 != nil {
		return ipv4InPrivateRanges(ip4)
	}

	if ip.IsLoopback() || ip.IsUnspecified() || ip.IsLinkLocalUnicast() {
		return true
	}
	// fc00::/7 unique local
	if len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc {
		return true
	}
	// IPv4-mapped IPv6 (::ffff:a.b.c.d)
	if v4 := ip.To4(); v4 != nil {
		return ipv4InPrivateRanges(v4)
	}
	return false
}

func stripZone(h string) string {
	if i := strings.IndexByte(h, '%'); i >= 0 {
		return h[:i]
	}
	return h
}

func looksLikeIPv4(h string) bool {
	parts := strings.Split(h, ".")
	return len(parts) == 4
}

// parseStrictIPv4 parses a dotted-decimal IPv4 address, rejecting any octet
// with a leading zero (the octal-bypass vector spec §4.1 calls out).
func parseStrictIPv4(h string) ([4]byte, bool) {
	var out [4]byte
	parts := strings.Split(h, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 {
			return out, false
		}
		if len(p) > 1 && p[0] == '0' {
			return out, false
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return out, false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return out, false
		}
		out[i] = byte(n)
	}
	return out, true
}

type v4range struct {
	base [4]byte
	bits int
}

var privateV4Ranges = []v4range{
	{[4]byte{0, 0, 0, 0}, 8},
	{[4]byte{10, 0, 0, 0}, 8},
	{[4]byte{100, 64, 0, 0}, 10},
	{[4]byte{127, 0, 0, 0}, 8},
	{[4]byte{169, 254, 0, 0}, 16},
	{[4]byte{172, 16, 0, 0}, 12},
	{[4]byte{192, 0, 0, 0}, 24},
	{[4]byte{192, 0, 2, 0}, 24},
	{[4]byte{192, 168, 0, 0}, 16},
	{[4]byte{198, 18, 0, 0}, 15},
	{[4]byte{198, 51, 100, 0}, 24},
	{[4]byte{203, 0, 113, 0}, 24},
	{[4]byte{224, 0, 0, 0}, 4},
	{[4]byte{240, 0, 0, 0}, 4},
}

func ipv4InPrivateRanges(ip4 []byte) bool {
	var a [4]byte
	copy(a[:], ip4)
	for _, r := range privateV4Ranges {
		if v4InCIDR(a, r.base, r.bits) {
			return true
		}
	}
	return false
}

func v4InCIDR(ip, base [4]byte, bits int) bool {
	var ipn, basen uint32
	for i := 0; i < 4; i++ {
		ipn = ipn<<8 | uint32(ip[i])
		basen = basen<<8 | uint32(base[i])
	}
	if bits == 0 {
		return true
	}
	mask := ^uint32(0) << (32 - bits)
	return ipn&mask == basen&mask
}
