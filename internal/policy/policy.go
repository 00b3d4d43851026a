package policy

import (
	"net/url"
	"regexp"
	"strings"
)

// slugPattern is the only character class accepted in certificate slugs.
// Anything else is rejected before it reaches the store, which keeps slugs
// safe both as URL path segments and as CDN public IDs.
var slugPattern = regexp.MustCompile(`^[a-z0-9\-_]{1,100}$`)

func ValidSlug(slug string) bool {
	if !slugPattern.MatchString(slug) {
		return false
	}
	switch slug {
	case ".", "..", "-", "--", "_":
		return false
	}
	return true
}

// Checker validates stored asset URLs against the trusted host allow-list.
// It is consulted at the delivery layer and again inside the fetcher, since
// store contents are not themselves guaranteed clean.
type Checker struct {
	allowedHosts []string
}

func NewChecker(allowedHosts []string) *Checker {
	hosts := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	return &Checker{allowedHosts: hosts}
}

// AllowedAssetURL reports whether raw is an https URL whose host is on the
// allow-list (exact match or subdomain). Fails closed on anything it cannot
// parse.
func (c *Checker) AllowedAssetURL(raw string) bool {
	if raw == "" {
		return false
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return false
	}

	if parsed.Scheme != "https" {
		return false
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return false
	}

	for _, allowed := range c.allowedHosts {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}
