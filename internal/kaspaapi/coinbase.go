package kaspaapi

import "strings"

// DefaultTagPrefix is the fixed prefix every coinbase tag carries, regardless
// of operator-supplied suffix.
const DefaultTagPrefix = "RK-Stratum"

const maxTagSuffixLen = 64

// SanitizeTag builds the extra-data string passed to get_block_template: the
// fixed prefix, optionally followed by "/" and a sanitized operator suffix.
// Only alphanumerics and '.', '_', '-' survive; everything else is dropped.
// Idempotent: sanitizing an already-sanitized tag returns it unchanged.
func SanitizeTag(suffix string) string {
	if strings.HasPrefix(suffix, DefaultTagPrefix) {
		suffix = strings.TrimPrefix(suffix, DefaultTagPrefix)
		suffix = strings.TrimPrefix(suffix, "/")
	}

	var b strings.Builder
	for _, r := range suffix {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
		}
		if b.Len() >= maxTagSuffixLen {
			break
		}
	}

	clean := b.String()
	if clean == "" {
		return DefaultTagPrefix
	}
	return DefaultTagPrefix + "/" + clean
}
