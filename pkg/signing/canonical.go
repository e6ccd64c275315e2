package signing

import (
	"net/url"
	"sort"
	"strings"
)

const upperhex = "0123456789ABCDEF"

// unreservedByte reports whether b may appear unescaped in a canonical
// query component (RFC 3986 unreserved set). Everything else is
// percent-encoded, including the characters ! * ' ( ) that many URI
// component encoders leave untouched.
func unreservedByte(b byte) bool {
	switch {
	case 'A' <= b && b <= 'Z':
		return true
	case 'a' <= b && b <= 'z':
		return true
	case '0' <= b && b <= '9':
		return true
	case b == '-' || b == '_' || b == '.' || b == '~':
		return true
	}
	return false
}

// percentEncode percent-encodes s for use in a canonical query string.
func percentEncode(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		b := s[i]
		if unreservedByte(b) {
			sb.WriteByte(b)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte(upperhex[b>>4])
		sb.WriteByte(upperhex[b&0xf])
	}
	return sb.String()
}

// CanonicalQueryString builds the canonical query representation used both
// for signing and for the final request URL. Keys are deduplicated and
// sorted lexicographically, the values of each key are sorted
// lexicographically, and keys and values are percent-encoded. The output is
// byte-identical regardless of the input map ordering.
func CanonicalQueryString(params url.Values) string {
	if len(params) == 0 {
		return ""
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		values := append([]string(nil), params[k]...)
		sort.Strings(values)

		encKey := percentEncode(k)
		for _, v := range values {
			parts = append(parts, encKey+"="+percentEncode(v))
		}
	}

	return strings.Join(parts, "&")
}
