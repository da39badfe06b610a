// Package filter decides which discovered hosts a crawl may visit.
package filter

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Domain admits URLs on the seed's registrable domain (when SameDomainOnly)
// and rejects hosts matching the configured blocklist.
type Domain struct {
	seedDomain     string
	sameDomainOnly bool
	blocked        *blocklist
}

// NewDomain builds a filter anchored at seedURL. blockedPatterns accepts exact
// hosts and "*.example.com" / ".example.com" suffix patterns.
func NewDomain(seedURL string, sameDomainOnly bool, blockedPatterns []string) *Domain {
	seedDomain := ""
	if u, err := url.Parse(seedURL); err == nil {
		seedDomain = RegistrableDomain(u.Hostname())
	}
	return &Domain{
		seedDomain:     seedDomain,
		sameDomainOnly: sameDomainOnly,
		blocked:        newBlocklist(blockedPatterns),
	}
}

// Allow reports whether rawURL passes the filter.
func (d *Domain) Allow(rawURL string) bool {
	if d == nil {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if d.blocked.isBlocked(host) {
		return false
	}
	if !d.sameDomainOnly {
		return true
	}
	return RegistrableDomain(host) == d.seedDomain
}

// RegistrableDomain returns the eTLD+1 of host ("docs.example.co.uk" ->
// "example.co.uk"). IP addresses and hosts without a public suffix are
// returned unchanged.
func RegistrableDomain(host string) string {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" || net.ParseIP(host) != nil {
		return host
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

type blocklist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newBlocklist(patterns []string) *blocklist {
	b := &blocklist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		value := strings.TrimSpace(strings.ToLower(raw))
		switch {
		case value == "":
			continue
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

func (b *blocklist) addSuffix(suffix string) {
	if suffix == "" {
		return
	}
	for _, existing := range b.suffixes {
		if existing == suffix {
			return
		}
	}
	b.suffixes = append(b.suffixes, suffix)
}

func (b *blocklist) isBlocked(host string) bool {
	if b == nil || host == "" {
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
