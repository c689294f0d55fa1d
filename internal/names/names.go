// Package names sanitizes client-supplied strings into names Kubernetes will
// accept for pods and services, disambiguating collisions with a UUID
// suffix. It is the Go counterpart of the source's names library.
package names

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const defaultIfInvalidSubdomain = "invalid-rfc1123-connector-name"

// RFC1123Subdomain takes a prefix, normalizes it to a lowercase kebab-case
// string, and suffixes it with a lowercase hexadecimal UUID, never
// exceeding the 63-byte limit RFC 1123 subdomains (and therefore pod and
// service names) are held to.
//
// Normalization:
//  1. Every non-alphanumeric rune becomes a space.
//  2. The result is lowercased and joined into kebab-case; if that yields
//     an empty prefix, "invalid-rfc1123-connector-name" is used instead.
//  3. A lowercase hex UUID is appended, truncated as needed so the
//     prefix-hyphen-uuid string never exceeds 63 bytes, while always
//     keeping at least 8 bytes of UUID.
func RFC1123Subdomain(prefix string) string {
	id := simpleUUID()
	kebab := toKebabCase(prefix)
	if kebab == "" {
		kebab = defaultIfInvalidSubdomain
	}

	// +1 for the hyphen that separates {prefix}-{uuid}.
	switch {
	case len(id)+len(kebab)+1 <= 63:
		// fits as-is
	case len(kebab)+9 > 63:
		kebab = kebab[:63-9]
		id = id[:8]
	default:
		id = id[:63-1-len(kebab)]
	}
	return kebab + "-" + id
}

// RFC1035Label returns a lowercase hexadecimal UUID guaranteed to be a
// valid RFC 1035 label (it is already alphanumeric; a UUID that begins with
// a digit, which DNS labels must not, has that first character replaced
// with "a").
func RFC1035Label() string {
	id := simpleUUID()
	if !unicode.IsLetter(rune(id[0])) {
		id = "a" + id[1:]
	}
	return id
}

func simpleUUID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func toKebabCase(prefix string) string {
	var words []string
	var current strings.Builder
	for _, r := range prefix {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(unicode.ToLower(r))
			continue
		}
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		words = append(words, current.String())
	}
	return strings.Join(words, "-")
}
