// Package blocklist refuses fetches to configured hosts.
package blocklist

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

// Blocklist matches hosts against exact names and suffix wildcards.
// Patterns "*.example.com" and ".example.com" block example.com and every
// subdomain; any other pattern blocks that host only.
type Blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

// New builds a Blocklist from patterns. It returns nil when no usable pattern
// remains; a nil Blocklist allows everything.
func New(patterns []string) *Blocklist {
	b := &Blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
		case strings.HasPrefix(value, "*."):
			b.addSuffix(strings.TrimPrefix(value, "*."))
		case strings.HasPrefix(value, "."):
			b.addSuffix(strings.TrimPrefix(value, "."))
		default:
			b.exact[value] = struct{}{}
		}
	}
	if len(b.exact) == 0 && len(b.suffixes) == 0 {
		return nil
	}
	return b
}

func (b *Blocklist) addSuffix(suffix string) {
	if suffix == "" || slices.Contains(b.suffixes, suffix) {
		return
	}
	b.suffixes = append(b.suffixes, suffix)
}

// IsBlocked reports whether host matches a pattern. Ports are ignored.
func (b *Blocklist) IsBlocked(host string) bool {
	if b == nil {
		return false
	}
	host = strings.TrimSpace(strings.ToLower(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return false
	}
	if _, ok := b.exact[host]; ok {
		return true
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// Allow reports whether rawURL may be fetched. Unparseable URLs are allowed
// so the fetcher reports the real error.
func (b *Blocklist) Allow(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	return !b.IsBlocked(u.Hostname())
}
