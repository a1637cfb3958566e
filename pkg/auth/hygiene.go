package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// HashUsername returns a stable, short digest of a username for log
// records. Raw usernames must never appear in logs.
func HashUsername(username string) string {
	if username == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(username))
	return hex.EncodeToString(sum[:])[:12]
}

// AnonymizeIP masks the last octet of an IPv4 address or the last segment
// of an IPv6 address. Unparseable input is dropped entirely.
func AnonymizeIP(addr string) string {
	// Strip a port if one is attached.
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return ""
	}

	if v4 := ip.To4(); v4 != nil {
		v4[3] = 0
		return v4.String()
	}

	// IPv6: zero the last 16-bit segment.
	v6 := ip.To16()
	v6[14] = 0
	v6[15] = 0
	return v6.String()
}

// RedactedHeaders lists request headers whose values must be replaced
// before any debug dump is emitted.
var RedactedHeaders = []string{"Authorization", "X-Authorization", "Cookie", "X-User-Pool-Id", "X-Client-Id"}

// RedactHeaderValue returns a placeholder for sensitive headers and the
// original value for everything else.
func RedactHeaderValue(name, value string) string {
	for _, h := range RedactedHeaders {
		if strings.EqualFold(name, h) {
			return "REDACTED"
		}
	}
	return value
}
