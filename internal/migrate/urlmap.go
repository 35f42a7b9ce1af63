// internal/migrate/urlmap.go
package migrate

import (
	"net/url"
	"strings"
)

// URLVariants expands a source URL into the normalized spellings under which
// it may reappear in later imports: with and without trailing slash, with and
// without scheme, host with and without the www prefix. Recording every
// variant makes old-URL comparisons resilient to formatting differences.
func URLVariants(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	seen := make(map[string]struct{})
	variants := make([]string, 0, 8)
	add := func(v string) {
		if v == "" {
			return
		}
		if _, dup := seen[v]; dup {
			return
		}
		seen[v] = struct{}{}
		variants = append(variants, v)
	}

	add(raw)
	add(strings.TrimRight(raw, "/"))
	add(strings.TrimRight(raw, "/") + "/")

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return variants
	}

	path := u.Path
	hosts := []string{u.Host}
	if bare := strings.TrimPrefix(u.Host, "www."); bare != u.Host {
		hosts = append(hosts, bare)
	}
	for _, host := range hosts {
		add(host + path)
		add(host + strings.TrimRight(path, "/"))
		add(host + strings.TrimRight(path, "/") + "/")
	}
	return variants
}

// CanonicalURLKey reduces a URL to the form used as a mapping key: scheme and
// host stripped, trailing slash trimmed, leading slash guaranteed. Two URLs
// that differ only in those respects compare equal under this key.
func CanonicalURLKey(raw string) string {
	path := NormalizePath(raw)
	if path == "" {
		return ""
	}
	return "/" + path
}
