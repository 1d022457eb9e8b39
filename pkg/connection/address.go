package connection

import (
	"net"
	"strings"
)

// OnionSuffix is the top-level domain of Tor onion services.
const OnionSuffix = ".onion"

// onionV3Len is the length of a v3 onion address without its suffix.
const onionV3Len = 56

// NormalizeAddress reduces a user supplied peer address to its registry
// key: lower case, without scheme, path, port or ".onion" suffix.
func NormalizeAddress(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.TrimSuffix(s, ".")
	return strings.TrimSuffix(s, OnionSuffix)
}

// IsOnionV3 reports whether a normalized address has the shape of a v3
// onion service id.
func IsOnionV3(addr string) bool {
	if len(addr) != onionV3Len {
		return false
	}
	for i := 0; i < len(addr); i++ {
		c := addr[i]
		if (c < 'a' || c > 'z') && (c < '2' || c > '7') {
			return false
		}
	}
	return true
}
