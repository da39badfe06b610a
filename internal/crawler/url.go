package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, drops user info and the fragment, and
// strips the trailing slash from non-root paths. An empty path becomes "/".
// The query is kept verbatim.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return NormalizeParsed(u), nil
}

// NormalizeParsed is NormalizeURL for an already parsed absolute URL.
func NormalizeParsed(u *url.URL) string {
	out := url.URL{
		Scheme:   strings.ToLower(u.Scheme),
		Host:     strings.ToLower(u.Host),
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}
	if out.Path == "" {
		out.Path = "/"
	}
	if len(out.Path) > 1 && strings.HasSuffix(out.Path, "/") {
		out.Path = strings.TrimRight(out.Path, "/")
		if out.Path == "" {
			out.Path = "/"
		}
		out.RawPath = ""
	}
	return out.String()
}

// Origin returns scheme://host for rawURL.
func Origin(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", rawURL)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}
